package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foglamp/pkg/memory"
)

func (c *cli) turnsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "turns [player_id]",
		Short: "List a player's turns, or show the latest turn",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := c.openApp(cmd)
			if err != nil {
				return err
			}
			defer shutdownQuietly(a)
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				ev, err := a.Events().LatestEvent(cmd.Context())
				if errors.Is(err, memory.ErrNotFound) {
					_, err = fmt.Fprintln(out, "no turns recorded")
					return err
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, ev)
				}
				fmt.Fprintf(out, "turn %d by %s at %s\n\n", ev.Turn, ev.PlayerID, ev.CreatedAt.Format("2006-01-02 15:04:05"))
				fmt.Fprint(out, renderMarkdown(ev.Markdown))
				return nil
			}

			evs, err := a.Events().EventsByPlayer(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, evs)
			}
			return writeEvents(out, evs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of turns to list, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeEvents(w io.Writer, evs []memory.TurnEvent) error {
	if len(evs) == 0 {
		_, err := fmt.Fprintln(w, "no turns recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TURN\tKIND\tCREATED\tHEADING")
	for _, ev := range evs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ev.Turn, ev.Kind, ev.CreatedAt.Format("2006-01-02 15:04"), heading(ev.Markdown))
	}
	return tw.Flush()
}

// heading returns the first markdown heading of s without its hashes.
func heading(s string) string {
	for line := range strings.Lines(s) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}
