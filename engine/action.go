package engine

// ============================================================================
// Action Variants
// ============================================================================

// ActionKind discriminates step side-effect declarations. Actions only
// mutate the variable store; outbound messages are the step executor's
// responsibility.
type ActionKind string

const (
	ActionSetVariable   ActionKind = "set_context_variable"
	ActionClearVariable ActionKind = "clear_context_variable"
)

// Action is one kind-discriminated side-effect declaration in a step's
// ordered action list.
type Action struct {
	Kind   ActionKind     `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// SetVariableConfig configures set_context_variable. Value is a template;
// {{variable.path}} references are substituted from the current store before
// the write.
type SetVariableConfig struct {
	Variable string `json:"variable"`
	Value    string `json:"value"`
}

func (c SetVariableConfig) Validate() error {
	if c.Variable == "" {
		return ErrInvalidAction().WithDetail("reason", "variable is required")
	}
	return nil
}

// ClearVariableConfig configures clear_context_variable.
type ClearVariableConfig struct {
	Variable string `json:"variable"`
}

func (c ClearVariableConfig) Validate() error {
	if c.Variable == "" {
		return ErrInvalidAction().WithDetail("reason", "variable is required")
	}
	return nil
}
