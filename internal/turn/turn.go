// Package turn runs one game turn end to end.
//
// A turn is strictly linear:
//
//	retrieve -> plan -> validate plan -> narrate -> validate narrative -> persist
//
// The first failing stage aborts the turn and nothing is persisted. There are
// no retries; failures surface to the caller as a *[Error] whose [Kind] tells
// a malformed model reply apart from a rule violation or an expired deadline.
// The orchestrator holds no per-turn state, so turns for different players
// may run concurrently on one [Orchestrator].
package turn

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/foglamp/internal/canon"
	"github.com/MrWong99/foglamp/internal/narrator"
	"github.com/MrWong99/foglamp/internal/observe"
	"github.com/MrWong99/foglamp/internal/plan"
	"github.com/MrWong99/foglamp/internal/turnlog"
	"github.com/MrWong99/foglamp/pkg/world"
)

// Retriever returns the facts relevant to an intent, "" when there are none.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Planner turns an intent into a plan.
type Planner interface {
	Plan(ctx context.Context, contextPrompt, intent string, snap *world.Snapshot) (*plan.Plan, error)
}

// Narrator renders a validated plan as markdown.
type Narrator interface {
	Narrate(ctx context.Context, contextPrompt string, p *plan.Plan, snap *world.Snapshot) (*narrator.Result, error)
	NarrateStream(ctx context.Context, contextPrompt string, p *plan.Plan, snap *world.Snapshot, onChunk func(string) error) (*narrator.Result, error)
}

// Persister records a completed turn.
type Persister interface {
	Persist(ctx context.Context, rec turnlog.Record) error
}

// Timeouts bounds each external call. Zero disables the bound.
type Timeouts struct {
	// Embedding bounds the retrieval stage.
	Embedding time.Duration
	// Planner bounds the planning call.
	Planner time.Duration
	// Narrator bounds the narration call, including the whole stream.
	Narrator time.Duration
}

// Config wires an Orchestrator.
type Config struct {
	Retriever Retriever
	Planner   Planner
	Narrator  Narrator
	Persister Persister

	// Checker validates narrations. Defaults to canon.NewChecker().
	Checker *canon.Checker

	Timeouts Timeouts

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Orchestrator runs turns. It is safe for concurrent use.
type Orchestrator struct {
	retriever Retriever
	planner   Planner
	narrator  Narrator
	persister Persister
	checker   *canon.Checker
	timeouts  Timeouts
	metrics   *observe.Metrics
}

// New validates cfg and returns an Orchestrator. Missing components are
// reported as KindConfig errors.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Retriever == nil {
		errs = append(errs, configError("turn: retriever is required"))
	}
	if cfg.Planner == nil {
		errs = append(errs, configError("turn: planner is required"))
	}
	if cfg.Narrator == nil {
		errs = append(errs, configError("turn: narrator is required"))
	}
	if cfg.Persister == nil {
		errs = append(errs, configError("turn: persister is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		retriever: cfg.Retriever,
		planner:   cfg.Planner,
		narrator:  cfg.Narrator,
		persister: cfg.Persister,
		checker:   cfg.Checker,
		timeouts:  cfg.Timeouts,
		metrics:   cfg.Metrics,
	}
	if o.checker == nil {
		o.checker = canon.NewChecker()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// RunTurn executes one complete turn and returns the accepted narration.
func (o *Orchestrator) RunTurn(ctx context.Context, intent string, snap *world.Snapshot, turnID int) (*narrator.Result, error) {
	return o.run(ctx, intent, snap, turnID, false, nil)
}

// StreamTurn executes one turn with a streaming narration pass. Every
// narration delta is passed to onChunk as it arrives. Validation and
// persistence happen once the stream has completed, so a client may see
// text that is then rejected. A cancelled stream persists nothing.
func (o *Orchestrator) StreamTurn(ctx context.Context, intent string, snap *world.Snapshot, turnID int, onChunk func(string) error) (*narrator.Result, error) {
	return o.run(ctx, intent, snap, turnID, true, onChunk)
}

func (o *Orchestrator) run(ctx context.Context, intent string, snap *world.Snapshot, turnID int, stream bool, onChunk func(string) error) (res *narrator.Result, err error) {
	start := time.Now()
	ctx, span := observe.StartTurnSpan(ctx, turnID, snap.PlayerID(), stream)
	o.metrics.ActiveTurns.Add(ctx, 1)
	defer func() {
		o.metrics.ActiveTurns.Add(ctx, -1)
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
			observe.FailSpan(span, err, outcome)
			observe.Logger(ctx).Warn("turn failed",
				"turn", turnID,
				"kind", outcome,
				"err", err,
			)
		} else {
			observe.Logger(ctx).Info("turn completed",
				"turn", turnID,
				"next_actions", len(res.NextActions),
				"duration", time.Since(start),
			)
		}
		o.metrics.RecordTurn(ctx, outcome, time.Since(start))
		span.End()
	}()

	facts, err := runStage(ctx, o, StageRetrieve, o.timeouts.Embedding, func(ctx context.Context) (string, error) {
		return o.retriever.Retrieve(ctx, intent)
	})
	if err != nil {
		return nil, err
	}
	contextPrompt := SystemPrompt(facts)

	p, err := runStage(ctx, o, StagePlan, o.timeouts.Planner, func(ctx context.Context) (*plan.Plan, error) {
		return o.planner.Plan(ctx, contextPrompt, intent, snap)
	})
	if err != nil {
		return nil, err
	}

	if _, err := runStage(ctx, o, StageValidatePlan, 0, func(context.Context) (struct{}, error) {
		return struct{}{}, plan.Validate(p)
	}); err != nil {
		return nil, err
	}

	res, err = runStage(ctx, o, StageNarrate, o.timeouts.Narrator, func(ctx context.Context) (*narrator.Result, error) {
		if stream {
			return o.narrator.NarrateStream(ctx, contextPrompt, p, snap, onChunk)
		}
		return o.narrator.Narrate(ctx, contextPrompt, p, snap)
	})
	if err != nil {
		return nil, err
	}

	if _, err := runStage(ctx, o, StageValidateNarrative, 0, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.checker.Check(ctx, res.Markdown, snap)
	}); err != nil {
		if KindOf(err) == KindRedLine {
			for _, v := range violations(err) {
				o.metrics.RecordRedLine(ctx, v)
			}
		}
		return nil, err
	}

	if _, err := runStage(ctx, o, StagePersist, 0, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.persister.Persist(ctx, turnlog.Record{
			Turn:     turnID,
			Intent:   intent,
			Plan:     p,
			Result:   res,
			Snapshot: snap,
		})
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// runStage executes fn in its own span, under timeout when positive, and
// converts a failure into a *Error for stage.
func runStage[T any](ctx context.Context, o *Orchestrator, stage Stage, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	parent := ctx
	ctx, span := observe.StartStageSpan(ctx, string(stage))
	defer span.End()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := fn(ctx)
	o.metrics.RecordStage(ctx, string(stage), time.Since(start))
	if err == nil {
		return v, nil
	}

	kind := classify(err)
	switch {
	case parent.Err() != nil:
		kind = KindCanceled
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case stage == StagePersist && kind == KindUpstream:
		kind = KindStorage
	}
	observe.FailSpan(span, err, string(kind))

	var zero T
	return zero, &Error{Kind: kind, Stage: stage, Violations: violations(err), Err: err}
}
