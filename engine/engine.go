package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kanalhq/kanal/pkg/kernel"
)

var validate = validator.New()

// ============================================================================
// Flow Entity
// ============================================================================

// Flow is an authored, versioned automation definition: a directed graph of
// steps joined by prioritized, condition-guarded transitions.
type Flow struct {
	ID              kernel.FlowID `db:"id" json:"id"`
	Name            string        `db:"name" json:"name" validate:"required,min=2"`
	Description     string        `db:"description" json:"description,omitempty"`
	IsActive        bool          `db:"is_active" json:"is_active"`
	TriggerKeywords []string      `db:"trigger_keywords" json:"trigger_keywords,omitempty"`
	Steps           []Step        `db:"steps" json:"steps" validate:"required,min=1"`
	Transitions     []Transition  `db:"transitions" json:"transitions"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// StepKind discriminates the runtime behavior of a step.
type StepKind string

const (
	StepKindStart         StepKind = "start"
	StepKindSendMessage   StepKind = "send_message"
	StepKindQuestion      StepKind = "question"
	StepKindAction        StepKind = "action"
	StepKindCondition     StepKind = "condition"
	StepKindEnd           StepKind = "end"
	StepKindHumanHandover StepKind = "human_handover"
)

// Step is one node in the flow graph. Config is a kind-discriminated document
// decoded into a typed config struct before execution.
type Step struct {
	ID           kernel.StepID  `json:"id" validate:"required"`
	FlowID       kernel.FlowID  `json:"flow_id"`
	Kind         StepKind       `json:"kind" validate:"required"`
	Name         string         `json:"name"`
	Config       map[string]any `json:"config,omitempty"`
	IsEntryPoint bool           `json:"is_entry_point"`
}

// Transition is a directed edge between two steps. Lower priority values are
// evaluated first; ties are broken by transition ID so selection stays
// deterministic regardless of insertion order.
type Transition struct {
	ID         kernel.TransitionID `json:"id" validate:"required"`
	FlowID     kernel.FlowID       `json:"flow_id"`
	FromStepID kernel.StepID       `json:"from_step_id" validate:"required"`
	ToStepID   kernel.StepID       `json:"to_step_id" validate:"required"`
	Priority   int                 `json:"priority"`
	Condition  Condition           `json:"condition"`
}

// ============================================================================
// Domain Methods - Flow
// ============================================================================

// GetStepByID looks a step up by identifier. Traversal is always by ID
// lookup; steps never hold pointers to each other.
func (f *Flow) GetStepByID(stepID kernel.StepID) *Step {
	for i := range f.Steps {
		if f.Steps[i].ID == stepID {
			return &f.Steps[i]
		}
	}
	return nil
}

// EntryStep returns the step a new conversation begins at. This is the step
// flagged is_entry_point, not the canvas-level start node.
func (f *Flow) EntryStep() *Step {
	for i := range f.Steps {
		if f.Steps[i].IsEntryPoint {
			return &f.Steps[i]
		}
	}
	return nil
}

// TransitionsFrom returns the outgoing transitions of a step sorted by
// priority ascending, ties broken by transition ID. The returned slice is a
// copy; callers may not mutate the flow through it.
func (f *Flow) TransitionsFrom(stepID kernel.StepID) []Transition {
	var out []Transition
	for _, t := range f.Transitions {
		if t.FromStepID == stepID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MatchesTrigger reports whether an inbound text matches one of the flow's
// trigger keywords. Matching is case-insensitive on the trimmed text.
func (f *Flow) MatchesTrigger(text string) bool {
	if !f.IsActive || len(f.TriggerKeywords) == 0 {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range f.TriggerKeywords {
		if normalized == strings.ToLower(strings.TrimSpace(kw)) {
			return true
		}
	}
	return false
}

// Activate marks the flow as executable.
func (f *Flow) Activate() {
	f.IsActive = true
	f.UpdatedAt = time.Now()
}

// Deactivate withdraws the flow from execution.
func (f *Flow) Deactivate() {
	f.IsActive = false
	f.UpdatedAt = time.Now()
}

// Validate checks the structural invariants a flow must satisfy before the
// engine will execute it: exactly one start step, exactly one entry point,
// transitions that reference existing steps, and per-kind configs that
// decode and validate.
func (f *Flow) Validate() error {
	if err := validate.Struct(f); err != nil {
		return ErrInvalidFlowDefinition().WithDetail("reason", err.Error())
	}

	stepIDs := make(map[kernel.StepID]bool, len(f.Steps))
	startCount := 0
	entryCount := 0

	for i := range f.Steps {
		step := &f.Steps[i]
		if step.ID.IsEmpty() {
			return ErrInvalidFlowDefinition().WithDetail("reason", "step has no ID")
		}
		if stepIDs[step.ID] {
			return ErrInvalidFlowDefinition().
				WithDetail("step_id", step.ID.String()).
				WithDetail("reason", "duplicate step ID")
		}
		stepIDs[step.ID] = true

		if step.Kind == StepKindStart {
			startCount++
		}
		if step.IsEntryPoint {
			entryCount++
		}

		cfg, err := DecodeStepConfig(*step)
		if err != nil {
			return ErrInvalidStepConfig().
				WithDetail("step_id", step.ID.String()).
				WithDetail("kind", string(step.Kind)).
				WithDetail("reason", err.Error())
		}
		if cfg != nil {
			if err := cfg.Validate(); err != nil {
				return ErrInvalidStepConfig().
					WithDetail("step_id", step.ID.String()).
					WithDetail("kind", string(step.Kind)).
					WithDetail("reason", err.Error())
			}
		}
	}

	if startCount != 1 {
		return ErrInvalidFlowDefinition().
			WithDetail("start_steps", startCount).
			WithDetail("reason", "flow must have exactly one start step")
	}
	if entryCount != 1 {
		return ErrInvalidFlowDefinition().
			WithDetail("entry_points", entryCount).
			WithDetail("reason", "flow must have exactly one entry point")
	}

	transitionIDs := make(map[kernel.TransitionID]bool, len(f.Transitions))
	for _, t := range f.Transitions {
		if t.ID.IsEmpty() {
			return ErrInvalidFlowDefinition().WithDetail("reason", "transition has no ID")
		}
		if transitionIDs[t.ID] {
			return ErrInvalidFlowDefinition().
				WithDetail("transition_id", t.ID.String()).
				WithDetail("reason", "duplicate transition ID")
		}
		transitionIDs[t.ID] = true

		if !stepIDs[t.FromStepID] {
			return ErrInvalidFlowDefinition().
				WithDetail("transition_id", t.ID.String()).
				WithDetail("from_step_id", t.FromStepID.String()).
				WithDetail("reason", "transition references non-existent source step")
		}
		if !stepIDs[t.ToStepID] {
			return ErrInvalidFlowDefinition().
				WithDetail("transition_id", t.ID.String()).
				WithDetail("to_step_id", t.ToStepID.String()).
				WithDetail("reason", "transition references non-existent target step")
		}
	}

	return nil
}
