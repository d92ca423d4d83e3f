// Package condeval evaluates transition guard conditions. Evaluation is pure:
// it never mutates the variable store, and a malformed or unknown condition
// evaluates to false with a diagnostic instead of failing the event.
package condeval

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/kanalhq/kanal/engine"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate applies one condition to an inbound event and variable store.
// The returned error is a recoverable diagnostic: callers log it and treat
// the condition as not matched.
func (e *Evaluator) Evaluate(cond engine.Condition, event engine.InboundEvent, vars engine.Variables) (bool, error) {
	switch cond.Kind {
	case engine.ConditionAlwaysTrue:
		return true, nil

	case engine.ConditionReplyMatchesKeyword:
		cfg, err := engine.ExtractKeywordCondition(cond.Config)
		if err != nil {
			return false, err
		}
		text := strings.TrimSpace(event.ReplyText())
		if cfg.CaseSensitive {
			return text == cfg.Keyword, nil
		}
		return strings.EqualFold(text, cfg.Keyword), nil

	case engine.ConditionReplyContainsKeyword:
		cfg, err := engine.ExtractKeywordCondition(cond.Config)
		if err != nil {
			return false, err
		}
		text := event.ReplyText()
		if cfg.CaseSensitive {
			return strings.Contains(text, cfg.Keyword), nil
		}
		return strings.Contains(strings.ToLower(text), strings.ToLower(cfg.Keyword)), nil

	case engine.ConditionInteractiveReplyIDEquals:
		cfg, err := engine.ExtractInteractiveReplyCondition(cond.Config)
		if err != nil {
			return false, err
		}
		return event.ReplyID != "" && event.ReplyID == cfg.ReplyID, nil

	case engine.ConditionVariableEquals:
		cfg, err := engine.ExtractVariableEqualsCondition(cond.Config)
		if err != nil {
			return false, err
		}
		value, ok := vars.Get(cfg.Variable)
		if !ok {
			return false, nil
		}
		return looseEquals(stringifyValue(value), cfg.Value), nil

	case engine.ConditionReplyIsEmail:
		return IsEmail(event.ReplyText()), nil

	case engine.ConditionReplyIsNumber:
		cfg, err := engine.ExtractNumberReplyCondition(cond.Config)
		if err != nil {
			return false, err
		}
		return isNumberReply(event.ReplyText(), cfg), nil

	case engine.ConditionExpression:
		cfg, err := engine.ExtractExpressionCondition(cond.Config)
		if err != nil {
			return false, err
		}
		return e.evaluateExpression(cfg.Expression, event, vars)

	default:
		return false, engine.ErrInvalidCondition().
			WithDetail("kind", string(cond.Kind)).
			WithDetail("reason", "unknown condition kind")
	}
}

// evaluateExpression runs an expr-lang expression against {event, vars}.
// Non-boolean results are diagnostics, not matches.
func (e *Evaluator) evaluateExpression(expression string, event engine.InboundEvent, vars engine.Variables) (bool, error) {
	env := map[string]any{
		"event": map[string]any{
			"kind":     string(event.Kind),
			"text":     event.Text,
			"reply_id": event.ReplyID,
		},
		"vars": vars.Map(),
		"text": event.ReplyText(),
	}

	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return false, engine.ErrInvalidCondition().
			WithDetail("expression", expression).
			WithDetail("reason", "expression does not compile").
			WithCause(err)
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, engine.ErrInvalidCondition().
			WithDetail("expression", expression).
			WithDetail("reason", "expression failed at runtime").
			WithCause(err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, engine.ErrInvalidCondition().
			WithDetail("expression", expression).
			WithDetail("reason", fmt.Sprintf("expression returned %T, want bool", output))
	}
	return result, nil
}

// looseEquals compares numerically when both operands parse as numbers
// ("10" equals "10.0"), falling back to exact string comparison.
func looseEquals(actual, expected string) bool {
	aNum, aErr := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	bNum, bErr := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if aErr == nil && bErr == nil {
		return aNum == bNum
	}
	return actual == expected
}

func isNumberReply(text string, cfg *engine.NumberReplyConfig) bool {
	_, ok := ParseNumber(text, cfg.AllowDecimal, cfg.MinValue, cfg.MaxValue)
	return ok
}

// IsEmail reports whether the text is a plausible email address.
func IsEmail(text string) bool {
	return emailRegex.MatchString(strings.TrimSpace(text))
}

// ParseNumber parses a numeric reply under the given constraints and returns
// the parsed value.
func ParseNumber(text string, allowDecimal bool, minValue, maxValue *float64) (float64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, false
	}
	if !allowDecimal && value != float64(int64(value)) {
		return 0, false
	}
	if minValue != nil && value < *minValue {
		return 0, false
	}
	if maxValue != nil && value > *maxValue {
		return 0, false
	}
	return value, true
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
