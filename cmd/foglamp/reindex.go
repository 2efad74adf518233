package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the similarity index from every live memory document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := c.openApp(cmd)
			if err != nil {
				return err
			}
			defer shutdownQuietly(a)

			start := time.Now()
			n, err := a.Reindexer().Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents in %s\n", n, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
