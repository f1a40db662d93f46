package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/embedsync/internal/config"
	"github.com/MereWhiplash/embedsync/internal/types"
)

func syncCMD(g *globals) *cobra.Command {
	var pacing time.Duration

	cmd := &cobra.Command{
		Use:   "sync <post|message> [id]",
		Short: "Re-embed one parent, or every published post / every message when id is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := types.ParseKind(args[0])
			if err != nil {
				return err
			}

			a, err := g.open(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("pacing") {
					cfg.Sync.Pacing = pacing
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 2 {
				result, err := a.Service.Sync(cmd.Context(), kind, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}

			result, err := a.Service.SyncAll(cmd.Context(), kind)
			if result != nil {
				if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&pacing, "pacing", 0, "minimum gap between embedding calls (default from sync.pacing)")
	return cmd
}
