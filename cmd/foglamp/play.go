package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/MrWong99/foglamp/internal/app"
	"github.com/MrWong99/foglamp/internal/narrator"
	"github.com/MrWong99/foglamp/pkg/world"
)

type playFlags struct {
	player       string
	location     string
	turn         int
	snapshotPath string
	stream       bool
	raw          bool
}

func (c *cli) playCmd() *cobra.Command {
	f := &playFlags{}
	cmd := &cobra.Command{
		Use:   "play <command...>",
		Short: "Run one turn and print the narration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPlay(cmd, f, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&f.player, "player", "demo", "player id")
	cmd.Flags().StringVar(&f.location, "location", "", "current location id, overrides the snapshot")
	cmd.Flags().IntVar(&f.turn, "turn", -1, "turn number; negative continues after the player's last turn")
	cmd.Flags().StringVar(&f.snapshotPath, "snapshot", "", "JSON file with the world snapshot")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "print narration as it is generated")
	cmd.Flags().BoolVar(&f.raw, "raw", false, "print plain markdown instead of rendering it")
	return cmd
}

func (c *cli) runPlay(cmd *cobra.Command, f *playFlags, intent string) error {
	a, _, _, err := c.openApp(cmd)
	if err != nil {
		return err
	}
	defer shutdownQuietly(a)

	snap, err := loadSnapshot(f.snapshotPath)
	if err != nil {
		return err
	}
	if snap.Player == nil {
		snap.Player = &world.Player{}
	}
	if snap.Player.ID == "" {
		snap.Player.ID = f.player
	}
	if f.location != "" {
		snap.Player.CurrentLocationID = f.location
	}

	ctx := cmd.Context()
	turnID := f.turn
	if turnID < 0 {
		if turnID, err = nextTurn(ctx, a, snap.Player.ID); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	var res *narrator.Result
	if f.stream {
		res, err = a.Turns().StreamTurn(ctx, intent, snap, turnID, func(delta string) error {
			_, werr := io.WriteString(out, delta)
			return werr
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
	} else {
		res, err = a.Turns().RunTurn(ctx, intent, snap, turnID)
		if err != nil {
			return err
		}
		if f.raw {
			fmt.Fprintln(out, res.Markdown)
		} else {
			fmt.Fprint(out, renderMarkdown(res.Markdown))
		}
	}
	slog.Debug("turn played", "turn", turnID, "next_actions", res.NextActions)
	return nil
}

func loadSnapshot(path string) (*world.Snapshot, error) {
	snap := &world.Snapshot{}
	if path == "" {
		return snap, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return snap, nil
}

// nextTurn returns one past the player's most recent turn, or 0.
func nextTurn(ctx context.Context, a *app.App, playerID string) (int, error) {
	evs, err := a.Events().EventsByPlayer(ctx, playerID, 1)
	if err != nil {
		return 0, err
	}
	if len(evs) == 0 {
		return 0, nil
	}
	return evs[0].Turn + 1, nil
}

// renderMarkdown renders markdown for terminal display using glamour,
// falling back to the plain text.
func renderMarkdown(content string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

func shutdownQuietly(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
}
