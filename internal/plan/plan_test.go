package plan

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		plan       *Plan
		wantReason string
	}{
		{
			name: "minimal",
			plan: &Plan{Action: "examine", Targets: []string{"diary"}},
		},
		{
			name: "all ops",
			plan: &Plan{Action: "search", StateChanges: []StateChange{
				{Entity: "a", Op: OpSet}, {Entity: "b", Op: OpAdd},
				{Entity: "c", Op: OpRemove}, {Entity: "d", Op: OpUpdate},
			}},
		},
		{name: "nil", plan: nil, wantReason: "plan is nil"},
		{name: "empty action", plan: &Plan{Action: ""}, wantReason: "missing action"},
		{name: "blank action", plan: &Plan{Action: "  \t"}, wantReason: "missing action"},
		{
			name:       "missing entity",
			plan:       &Plan{Action: "x", StateChanges: []StateChange{{Op: OpSet}}},
			wantReason: "state_changes[0]: missing entity",
		},
		{
			name:       "missing op",
			plan:       &Plan{Action: "x", StateChanges: []StateChange{{Entity: "diary"}}},
			wantReason: "state_changes[0]: missing op",
		},
		{
			name: "invalid op",
			plan: &Plan{Action: "burn", StateChanges: []StateChange{
				{Entity: "lamp", Op: OpSet}, {Entity: "diary", Op: "burn"},
			}},
			wantReason: `state_changes[1]: invalid operation "burn"`,
		},
		{
			name: "first violation wins",
			plan: &Plan{Action: "x", StateChanges: []StateChange{
				{Entity: "a", Op: "delete"}, {Op: OpSet},
			}},
			wantReason: `state_changes[0]: invalid operation "delete"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.plan)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if ve.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", ve.Reason, tt.wantReason)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		in            string
		wantMalformed bool
		wantInvalid   string
		check         func(t *testing.T, p *Plan)
	}{
		{
			name: "full plan",
			in:   `{"action":"examine","targets":["diary"],"state_changes":[{"entity":"diary","op":"set","value":{"read":true}}],"notes":"careful"}`,
			check: func(t *testing.T, p *Plan) {
				if p.Action != "examine" || len(p.Targets) != 1 || p.Notes != "careful" {
					t.Errorf("plan = %+v", p)
				}
				if string(p.StateChanges[0].Value) != `{"read":true}` {
					t.Errorf("value = %s", p.StateChanges[0].Value)
				}
			},
		},
		{
			name: "defaults",
			in:   `{"action":"wait"}`,
			check: func(t *testing.T, p *Plan) {
				if p.Targets == nil || p.StateChanges == nil {
					t.Error("missing lists should decode as empty, not nil")
				}
			},
		},
		{
			name: "unknown op survives parsing",
			in:   `{"action":"burn","state_changes":[{"entity":"diary","op":"burn"}]}`,
			check: func(t *testing.T, p *Plan) {
				if p.StateChanges[0].Op != "burn" {
					t.Errorf("op = %q", p.StateChanges[0].Op)
				}
			},
		},
		{name: "not json", in: `The detective walks in.`, wantMalformed: true},
		{name: "array body", in: `[1,2]`, wantMalformed: true},
		{name: "null body", in: `null`, wantMalformed: true},
		{name: "targets not list", in: `{"action":"x","targets":"diary"}`, wantInvalid: "targets must be a list of strings"},
		{name: "state_changes not list", in: `{"action":"x","state_changes":{}}`, wantInvalid: "state_changes must be a list"},
		{name: "state change not object", in: `{"action":"x","state_changes":["diary"]}`, wantInvalid: "state_changes[0] must be an object"},
		{name: "action wrong type", in: `{"action":7}`, wantInvalid: "action must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := Parse([]byte(tt.in))
			switch {
			case tt.wantMalformed:
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("Parse() error = %v, want ErrMalformed", err)
				}
			case tt.wantInvalid != "":
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Reason != tt.wantInvalid {
					t.Fatalf("Parse() error = %v, want reason %q", err, tt.wantInvalid)
				}
			default:
				if err != nil {
					t.Fatalf("Parse() error = %v", err)
				}
				tt.check(t, p)
			}
		})
	}
}

func TestParseThenValidate_BurnScenario(t *testing.T) {
	t.Parallel()
	p, err := Parse([]byte(`{"action":"burn the diary","targets":["diary"],"state_changes":[{"entity":"diary","op":"burn"}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	err = Validate(p)
	if err == nil || !strings.Contains(err.Error(), `"burn"`) {
		t.Fatalf("Validate() = %v, want error citing \"burn\"", err)
	}
}
