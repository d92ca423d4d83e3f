package engine

// ============================================================================
// Condition Variants
// ============================================================================

// ConditionKind discriminates transition guard conditions.
type ConditionKind string

const (
	ConditionAlwaysTrue               ConditionKind = "always_true"
	ConditionReplyMatchesKeyword      ConditionKind = "user_reply_matches_keyword"
	ConditionReplyContainsKeyword     ConditionKind = "user_reply_contains_keyword"
	ConditionInteractiveReplyIDEquals ConditionKind = "interactive_reply_id_equals"
	ConditionVariableEquals           ConditionKind = "variable_equals"
	ConditionReplyIsEmail             ConditionKind = "user_reply_is_email"
	ConditionReplyIsNumber            ConditionKind = "user_reply_is_number"
	ConditionExpression               ConditionKind = "expression"
)

// Condition is a kind-discriminated transition guard. Config is decoded into
// the kind's typed struct at evaluation time; a condition that fails to
// decode evaluates to false, it never aborts the event.
type Condition struct {
	Kind   ConditionKind  `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// AlwaysTrue is the conventional catch-all guard, usually given the last
// priority on a step.
func AlwaysTrue() Condition {
	return Condition{Kind: ConditionAlwaysTrue}
}

// KeywordConditionConfig configures the keyword match/contains kinds.
type KeywordConditionConfig struct {
	Keyword       string `json:"keyword"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

func (c KeywordConditionConfig) Validate() error {
	if c.Keyword == "" {
		return ErrInvalidCondition().WithDetail("reason", "keyword is required")
	}
	return nil
}

// InteractiveReplyConfig configures interactive_reply_id_equals.
type InteractiveReplyConfig struct {
	ReplyID string `json:"reply_id"`
}

func (c InteractiveReplyConfig) Validate() error {
	if c.ReplyID == "" {
		return ErrInvalidCondition().WithDetail("reason", "reply_id is required")
	}
	return nil
}

// VariableEqualsConfig configures variable_equals: a dotted path into the
// variable store compared against a literal. Comparison is numeric when both
// operands parse as numbers, string otherwise.
type VariableEqualsConfig struct {
	Variable string `json:"variable"`
	Value    string `json:"value"`
}

func (c VariableEqualsConfig) Validate() error {
	if c.Variable == "" {
		return ErrInvalidCondition().WithDetail("reason", "variable is required")
	}
	return nil
}

// NumberReplyConfig configures user_reply_is_number.
type NumberReplyConfig struct {
	MinValue     *float64 `json:"min_value,omitempty"`
	MaxValue     *float64 `json:"max_value,omitempty"`
	AllowDecimal bool     `json:"allow_decimal,omitempty"`
}

func (c NumberReplyConfig) Validate() error {
	if c.MinValue != nil && c.MaxValue != nil && *c.MinValue > *c.MaxValue {
		return ErrInvalidCondition().WithDetail("reason", "min_value exceeds max_value")
	}
	return nil
}

// ExpressionConditionConfig configures the expression kind, evaluated with
// expr-lang against {event, vars}.
type ExpressionConditionConfig struct {
	Expression string `json:"expression"`
}

func (c ExpressionConditionConfig) Validate() error {
	if c.Expression == "" {
		return ErrInvalidCondition().WithDetail("reason", "expression is required")
	}
	return nil
}
