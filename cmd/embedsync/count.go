package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/embedsync/internal/types"
)

func countCMD(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "count <post|message> <id>",
		Short: "Print the number of embedding rows stored for a parent",
		Args:  cobra.ExactArgs(2),
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

			n, err := a.Service.Count(cmd.Context(), kind, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
