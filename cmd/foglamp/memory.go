package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foglamp/internal/recall"
	"github.com/MrWong99/foglamp/pkg/memory"
)

func (c *cli) memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and curate narrative memory",
	}
	cmd.AddCommand(c.memoryPromoteCmd())
	cmd.AddCommand(c.memoryStaleCmd())
	cmd.AddCommand(c.memorySearchCmd())
	return cmd
}

func (c *cli) memoryPromoteCmd() *cobra.Command {
	var (
		kind       string
		entityID   string
		importance int
		reindex    bool
	)
	cmd := &cobra.Command{
		Use:   "promote <text...>",
		Short: "Store a new fact in memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := c.openApp(cmd)
			if err != nil {
				return err
			}
			defer shutdownQuietly(a)

			doc, err := a.Curator().Promote(cmd.Context(), recall.Fact{
				Text:       strings.Join(args, " "),
				Kind:       memory.Kind(kind),
				EntityID:   entityID,
				Importance: importance,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promoted document %d (%s)\n", doc.ID, doc.Kind)
			if reindex {
				n, err := a.Reindexer().Reindex(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents\n", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(memory.KindKnownFact), "memory kind")
	cmd.Flags().StringVar(&entityID, "entity", "", "entity the fact is about")
	cmd.Flags().IntVar(&importance, "importance", 0, "importance, higher is more important")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "rebuild the index afterwards so the fact is retrievable at once")
	return cmd
}

func (c *cli) memoryStaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stale <id>",
		Short: "Retire a memory document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			a, _, _, err := c.openApp(cmd)
			if err != nil {
				return err
			}
			defer shutdownQuietly(a)

			if err := a.Curator().MarkStale(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "document %d marked stale\n", id)
			return nil
		},
	}
}

func (c *cli) memorySearchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Show the memory documents most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := c.openApp(cmd)
			if err != nil {
				return err
			}
			defer shutdownQuietly(a)

			matches, err := a.Retriever().Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), matches)
			}
			return writeMatches(cmd.OutOrStdout(), matches)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeMatches(w io.Writer, matches []recall.Match) error {
	if len(matches) == 0 {
		_, err := fmt.Fprintln(w, "no matches")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tID\tKIND\tTEXT")
	for _, m := range matches {
		fmt.Fprintf(tw, "%.3f\t%d\t%s\t%s\n", m.Score, m.Document.ID, m.Document.Kind, truncate(m.Document.Text, 70))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
