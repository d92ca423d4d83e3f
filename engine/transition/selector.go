// Package transition picks the next step for a conversation: the first
// outgoing transition, in priority order, whose condition matches.
package transition

import (
	"fmt"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/engine/condeval"
	"github.com/kanalhq/kanal/pkg/kernel"
)

type Selector struct {
	evaluator *condeval.Evaluator
}

func NewSelector(evaluator *condeval.Evaluator) *Selector {
	return &Selector{evaluator: evaluator}
}

// Select evaluates the step's outgoing transitions in priority order and
// returns the first whose condition matches, or nil when none does — the
// stalled outcome. Conditions are re-evaluated on every call; the variable
// store may have changed earlier in the same event.
func (s *Selector) Select(flow *engine.Flow, stepID kernel.StepID, event engine.InboundEvent, vars engine.Variables) (*engine.Transition, []string) {
	var warnings []string

	for _, t := range flow.TransitionsFrom(stepID) {
		matched, err := s.evaluator.Evaluate(t.Condition, event, vars)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf(
				"transition %s: condition %s did not evaluate: %v", t.ID, t.Condition.Kind, err))
			continue
		}
		if matched {
			return &t, warnings
		}
	}

	return nil, warnings
}
