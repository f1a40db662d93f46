package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/embedsync/internal/types"
)

func searchCMD(g *globals) *cobra.Command {
	var limit int
	var parentID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <post|message> <query...>",
		Short: "Find the chunks closest to a query",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := types.ParseKind(args[0])
			if err != nil {
				return err
			}

			a, err := g.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			matches, err := a.Service.Search(cmd.Context(), kind, strings.Join(args[1:], " "), limit, parentID)
			if err != nil {
				return err
			}

			if asJSON {
				if matches == nil {
					matches = []types.Match{}
				}
				return printJSON(cmd.OutOrStdout(), matches)
			}
			for _, m := range matches {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s#%d %.4f] %s\n", m.ParentID, m.ChunkIndex, m.Distance, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of matches")
	cmd.Flags().StringVar(&parentID, "parent", "", "only search chunks of this parent")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print matches as JSON")
	return cmd
}
