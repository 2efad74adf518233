package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/foglamp/internal/canon"
	"github.com/MrWong99/foglamp/internal/plan"
)

// Kind classifies why a turn failed.
type Kind string

const (
	// KindConfig means the engine was wired without a required component or
	// credential.
	KindConfig Kind = "config"

	// KindUpstream covers network failures and malformed model output.
	KindUpstream Kind = "upstream"

	// KindTimeout means a per-call deadline expired.
	KindTimeout Kind = "timeout"

	// KindPlanInvalid means the plan failed structural validation.
	KindPlanInvalid Kind = "plan_invalid"

	// KindNarrativeFormat means the narration broke the markdown contract.
	KindNarrativeFormat Kind = "narrative_format"

	// KindRedLine means the narration hit one or more red-line rules.
	KindRedLine Kind = "red_line"

	// KindCanceled means the caller gave up, e.g. a stream client
	// disconnected.
	KindCanceled Kind = "canceled"

	// KindStorage means the turn could not be persisted.
	KindStorage Kind = "storage"
)

// Stage names a step of the turn pipeline.
type Stage string

const (
	StageRetrieve          Stage = "retrieve"
	StagePlan              Stage = "plan"
	StageValidatePlan      Stage = "validate_plan"
	StageNarrate           Stage = "narrate"
	StageValidateNarrative Stage = "validate_narrative"
	StagePersist           Stage = "persist"
)

// Error is returned by every failed turn.
type Error struct {
	Kind  Kind
	Stage Stage

	// Violations lists every rule that rejected the turn. It is set for plan,
	// format and red-line failures.
	Violations []string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("turn: ")
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. Errors that are not a *Error are classified by
// their cause; anything unrecognised counts as upstream. KindOf(nil) is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var verr *plan.ValidationError
	var violation *canon.Violation
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &verr):
		return KindPlanInvalid
	case errors.As(err, &violation):
		if violation.Kind == canon.ViolationRedLine {
			return KindRedLine
		}
		return KindNarrativeFormat
	default:
		return KindUpstream
	}
}

// violations extracts rule messages from plan and canon errors.
func violations(err error) []string {
	var verr *plan.ValidationError
	if errors.As(err, &verr) {
		return []string{verr.Reason}
	}
	var violation *canon.Violation
	if errors.As(err, &violation) {
		return append([]string(nil), violation.Messages...)
	}
	return nil
}

// configError reports a wiring problem found at construction time.
func configError(format string, args ...any) error {
	return &Error{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}
