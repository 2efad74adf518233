// Package turnlog persists completed turns.
//
// Every turn that passes validation leaves three artifacts behind: a
// markdown file with the narration, a JSON metadata file next to it, and one
// [memory.TurnEvent] in the transcript. A turn that failed anywhere in the
// pipeline leaves none of them.
package turnlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/foglamp/internal/narrator"
	"github.com/MrWong99/foglamp/internal/plan"
	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/world"
)

// UnknownPlayer is recorded as the player id when the snapshot carries none.
const UnknownPlayer = "unknown"

// Record is everything the persister needs to know about a finished turn.
type Record struct {
	Turn     int
	Intent   string
	Plan     *plan.Plan
	Result   *narrator.Result
	Snapshot *world.Snapshot
}

// metadata is the content of turn_<N>.json.
type metadata struct {
	Turn        int        `json:"turn"`
	Timestamp   string     `json:"timestamp"`
	Plan        *plan.Plan `json:"plan"`
	NextActions []string   `json:"next_actions"`
}

// payload is the JSON stored on the transcript event.
type payload struct {
	PlayerIntent string          `json:"player_intent"`
	Plan         *plan.Plan      `json:"plan"`
	NextActions  []string        `json:"next_actions"`
	Snapshot     *world.Snapshot `json:"snapshot"`
}

// Persister writes turn artifacts to a log directory and the event log.
// It is safe for concurrent use.
type Persister struct {
	dir    string
	events memory.EventLog
	now    func() time.Time
}

// New returns a Persister writing files below dir. The directory is created
// on the first Persist call.
func New(dir string, events memory.EventLog) (*Persister, error) {
	if dir == "" {
		return nil, errors.New("turnlog: log directory must not be empty")
	}
	if events == nil {
		return nil, errors.New("turnlog: event log must not be nil")
	}
	return &Persister{dir: dir, events: events, now: time.Now}, nil
}

// Dir returns the log directory.
func (p *Persister) Dir() string { return p.dir }

// MarkdownPath returns the path of the markdown artifact for turn n.
func (p *Persister) MarkdownPath(n int) string {
	return filepath.Join(p.dir, fmt.Sprintf("turn_%d.md", n))
}

// MetadataPath returns the path of the JSON artifact for turn n.
func (p *Persister) MetadataPath(n int) string {
	return filepath.Join(p.dir, fmt.Sprintf("turn_%d.json", n))
}

// Persist writes both files and appends the transcript event.
//
// Files are staged under temporary names, moved into place, and only then is
// the event appended. Any earlier file for the same turn is kept aside until
// the append succeeded. If a move or the append fails, the log directory is
// put back the way it was and no event exists.
func (p *Persister) Persist(ctx context.Context, rec Record) error {
	if rec.Result == nil {
		return errors.New("turnlog: persist: nil narration result")
	}
	if rec.Plan == nil {
		return errors.New("turnlog: persist: nil plan")
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("turnlog: create log dir: %w", err)
	}

	nextActions := rec.Result.NextActions
	if nextActions == nil {
		nextActions = []string{}
	}

	meta, err := json.MarshalIndent(metadata{
		Turn:        rec.Turn,
		Timestamp:   p.now().UTC().Format(time.RFC3339Nano),
		Plan:        rec.Plan,
		NextActions: nextActions,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("turnlog: encode metadata: %w", err)
	}

	body, err := json.Marshal(payload{
		PlayerIntent: rec.Intent,
		Plan:         rec.Plan,
		NextActions:  nextActions,
		Snapshot:     rec.Snapshot,
	})
	if err != nil {
		return fmt.Errorf("turnlog: encode payload: %w", err)
	}

	mdTmp, err := p.stage(fmt.Sprintf(".turn_%d.md.*", rec.Turn), []byte(rec.Result.Markdown))
	if err != nil {
		return err
	}
	metaTmp, err := p.stage(fmt.Sprintf(".turn_%d.json.*", rec.Turn), meta)
	if err != nil {
		removeQuiet(mdTmp)
		return err
	}

	mdPub, err := p.publish(mdTmp, p.MarkdownPath(rec.Turn))
	if err != nil {
		removeQuiet(mdTmp)
		removeQuiet(metaTmp)
		return fmt.Errorf("turnlog: publish markdown: %w", err)
	}
	metaPub, err := p.publish(metaTmp, p.MetadataPath(rec.Turn))
	if err != nil {
		removeQuiet(metaTmp)
		mdPub.undo()
		return fmt.Errorf("turnlog: publish metadata: %w", err)
	}

	playerID := rec.Snapshot.PlayerID()
	if playerID == "" {
		playerID = UnknownPlayer
	}
	id, err := p.events.AppendEvent(ctx, memory.TurnEvent{
		PlayerID: playerID,
		Turn:     rec.Turn,
		Kind:     memory.EventKindNarration,
		Payload:  body,
		Markdown: rec.Result.Markdown,
	})
	if err != nil {
		metaPub.undo()
		mdPub.undo()
		return fmt.Errorf("turnlog: append event: %w", err)
	}
	mdPub.commit()
	metaPub.commit()

	slog.DebugContext(ctx, "turn persisted", "turn", rec.Turn, "player_id", playerID, "event_id", id)
	return nil
}

// published is a staged file moved to its final name. backup holds the file
// that was there before, if any.
type published struct {
	target string
	backup string
}

// publish moves staged to target. An existing target is first moved to a
// backup name in the log directory so that undo can restore it.
func (p *Persister) publish(staged, target string) (*published, error) {
	pub := &published{target: target}
	if _, err := os.Lstat(target); err == nil {
		f, err := os.CreateTemp(p.dir, "."+filepath.Base(target)+".prev.*")
		if err != nil {
			return nil, err
		}
		f.Close()
		if err := os.Rename(target, f.Name()); err != nil {
			removeQuiet(f.Name())
			return nil, err
		}
		pub.backup = f.Name()
	}
	if err := os.Rename(staged, target); err != nil {
		pub.restore()
		return nil, err
	}
	return pub, nil
}

// undo removes the published file and restores the previous one.
func (pub *published) undo() {
	if pub.backup == "" {
		removeQuiet(pub.target)
		return
	}
	pub.restore()
}

func (pub *published) restore() {
	if pub.backup == "" {
		return
	}
	if err := os.Rename(pub.backup, pub.target); err != nil {
		slog.Warn("turnlog: failed to restore previous file", "path", pub.target, "backup", pub.backup, "err", err)
	}
}

// commit drops the backup.
func (pub *published) commit() {
	if pub.backup != "" {
		removeQuiet(pub.backup)
	}
}

// stage writes data to a new temporary file in the log directory and returns
// its path.
func (p *Persister) stage(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(p.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("turnlog: stage: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		removeQuiet(name)
		return "", fmt.Errorf("turnlog: stage %s: %w", filepath.Base(name), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		removeQuiet(name)
		return "", fmt.Errorf("turnlog: sync %s: %w", filepath.Base(name), err)
	}
	if err := f.Close(); err != nil {
		removeQuiet(name)
		return "", fmt.Errorf("turnlog: close %s: %w", filepath.Base(name), err)
	}
	return name, nil
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("turnlog: failed to remove staged file", "path", path, "err", err)
	}
}
