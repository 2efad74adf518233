// Package plan defines the structured plan produced by the planning stage and
// the structural gate every plan must pass before narration.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Op is a state-change operation.
type Op string

const (
	OpSet    Op = "set"
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpUpdate Op = "update"
)

// Valid reports whether op is one of the four supported operations.
func (op Op) Valid() bool {
	switch op {
	case OpSet, OpAdd, OpRemove, OpUpdate:
		return true
	}
	return false
}

// StateChange is one proposed change to world state. Value is opaque to the
// engine and carried through to the transcript unchanged.
type StateChange struct {
	Entity string          `json:"entity"`
	Op     Op              `json:"op"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Plan is the machine-checkable outcome of the planning stage.
type Plan struct {
	Action       string        `json:"action"`
	Targets      []string      `json:"targets"`
	StateChanges []StateChange `json:"state_changes"`
	Notes        string        `json:"notes"`
}

// ErrMalformed is returned by Parse when the input is not a JSON object.
var ErrMalformed = errors.New("plan: malformed planner output")

// ValidationError describes the first structural violation found in a plan.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "plan: " + e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes a planner response into a Plan.
//
// Output that is not a JSON object wraps ErrMalformed. Fields of the wrong
// type yield a *ValidationError. Missing targets and state_changes decode as
// empty lists. Parse does not run Validate.
func Parse(data []byte) (*Plan, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("null body")
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	p := &Plan{Targets: []string{}, StateChanges: []StateChange{}}

	if err := decodeString(fields, "action", &p.Action); err != nil {
		return nil, err
	}
	if err := decodeString(fields, "notes", &p.Notes); err != nil {
		return nil, err
	}

	if raw, ok := fields["targets"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &p.Targets); err != nil {
			return nil, invalid("targets must be a list of strings")
		}
	}

	if raw, ok := fields["state_changes"]; ok && !isNull(raw) {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, invalid("state_changes must be a list")
		}
		for i, item := range items {
			sc, err := parseStateChange(i, item)
			if err != nil {
				return nil, err
			}
			p.StateChanges = append(p.StateChanges, sc)
		}
	}
	return p, nil
}

func parseStateChange(i int, raw json.RawMessage) (StateChange, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return StateChange{}, invalid("state_changes[%d] must be an object", i)
	}
	var sc StateChange
	if v, ok := obj["entity"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &sc.Entity); err != nil {
			return StateChange{}, invalid("state_changes[%d]: entity must be a string", i)
		}
	}
	if v, ok := obj["op"]; ok && !isNull(v) {
		var op string
		if err := json.Unmarshal(v, &op); err != nil {
			return StateChange{}, invalid("state_changes[%d]: op must be a string", i)
		}
		sc.Op = Op(op)
	}
	if v, ok := obj["value"]; ok {
		sc.Value = append(json.RawMessage(nil), v...)
	}
	return sc, nil
}

func decodeString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid("%s must be a string", key)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Validate reports the first structural violation in p as a
// *ValidationError, or nil when p may proceed to narration.
func Validate(p *Plan) error {
	if p == nil {
		return invalid("plan is nil")
	}
	if strings.TrimSpace(p.Action) == "" {
		return invalid("missing action")
	}
	for i, sc := range p.StateChanges {
		if sc.Entity == "" {
			return invalid("state_changes[%d]: missing entity", i)
		}
		if sc.Op == "" {
			return invalid("state_changes[%d]: missing op", i)
		}
		if !sc.Op.Valid() {
			return invalid("state_changes[%d]: invalid operation %q", i, string(sc.Op))
		}
	}
	return nil
}
