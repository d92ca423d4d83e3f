package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/engine/condeval"
)

func keywordCondition(keyword string) engine.Condition {
	return engine.Condition{
		Kind:   engine.ConditionReplyMatchesKeyword,
		Config: map[string]any{"keyword": keyword},
	}
}

func textEvent(text string) engine.InboundEvent {
	return engine.InboundEvent{
		ContactID: "contact-1",
		Kind:      engine.EventKindText,
		Text:      text,
	}
}

// The flow used below: a question step with a "yes" branch, a "no" branch,
// and an always_true fallback at the lowest priority.
func branchingFlow() *engine.Flow {
	return &engine.Flow{
		ID:   "flow-1",
		Name: "branching",
		Steps: []engine.Step{
			{ID: "ask", Kind: engine.StepKindQuestion},
			{ID: "yes-path", Kind: engine.StepKindSendMessage},
			{ID: "no-path", Kind: engine.StepKindSendMessage},
			{ID: "fallback", Kind: engine.StepKindSendMessage},
		},
		// Deliberately listed out of priority order; selection must not
		// depend on definition order.
		Transitions: []engine.Transition{
			{ID: "t-fallback", FromStepID: "ask", ToStepID: "fallback", Priority: 99, Condition: engine.AlwaysTrue()},
			{ID: "t-no", FromStepID: "ask", ToStepID: "no-path", Priority: 2, Condition: keywordCondition("no")},
			{ID: "t-yes", FromStepID: "ask", ToStepID: "yes-path", Priority: 1, Condition: keywordCondition("yes")},
		},
	}
}

func TestSelect_PicksHighestPriorityMatch(t *testing.T) {
	selector := NewSelector(condeval.NewEvaluator())
	flow := branchingFlow()

	next, warnings := selector.Select(flow, "ask", textEvent("yes"), engine.NewVariables())
	require.NotNil(t, next)
	assert.Empty(t, warnings)
	assert.Equal(t, "t-yes", next.ID.String())
	assert.Equal(t, "yes-path", next.ToStepID.String())
}

func TestSelect_SecondBranch(t *testing.T) {
	selector := NewSelector(condeval.NewEvaluator())
	flow := branchingFlow()

	next, _ := selector.Select(flow, "ask", textEvent("no"), engine.NewVariables())
	require.NotNil(t, next)
	assert.Equal(t, "t-no", next.ID.String())
}

func TestSelect_FallbackWhenNothingElseMatches(t *testing.T) {
	selector := NewSelector(condeval.NewEvaluator())
	flow := branchingFlow()

	next, _ := selector.Select(flow, "ask", textEvent("maybe"), engine.NewVariables())
	require.NotNil(t, next)
	assert.Equal(t, "t-fallback", next.ID.String())
}

func TestSelect_NoMatchReturnsNil(t *testing.T) {
	selector := NewSelector(condeval.NewEvaluator())
	flow := branchingFlow()
	// Remove the fallback so nothing can match.
	flow.Transitions = flow.Transitions[1:]

	next, warnings := selector.Select(flow, "ask", textEvent("maybe"), engine.NewVariables())
	assert.Nil(t, next)
	assert.Empty(t, warnings)
}

func TestSelect_PriorityTieBrokenByTransitionID(t *testing.T) {
	selector := NewSelector(condeval.NewEvaluator())

	flow := &engine.Flow{
		ID: "flow-tie",
		Steps: []engine.Step{
			{ID: "a", Kind: engine.StepKindStart},
			{ID: "b", Kind: engine.StepKindEnd},
			{ID: "c", Kind: engine.StepKindEnd},
		},
		Transitions: []engine.Transition{
			{ID: "t-zulu", FromStepID: "a", ToStepID: "c", Priority: 1, Condition: engine.AlwaysTrue()},
			{ID: "t-alpha", FromStepID: "a", ToStepID: "b", Priority: 1, Condition: engine.AlwaysTrue()},
		},
	}

	next, _ := selector.Select(flow, "a", textEvent(""), engine.NewVariables())
	require.NotNil(t, next)
	assert.Equal(t, "t-alpha", next.ID.String())
}

func TestSelect_MalformedConditionSkippedWithWarning(t *testing.T) {
	selector := NewSelector(condeval.NewEvaluator())

	flow := &engine.Flow{
		ID: "flow-broken",
		Steps: []engine.Step{
			{ID: "a", Kind: engine.StepKindStart},
			{ID: "b", Kind: engine.StepKindEnd},
			{ID: "c", Kind: engine.StepKindEnd},
		},
		Transitions: []engine.Transition{
			// Keyword condition without a keyword never matches.
			{ID: "t-broken", FromStepID: "a", ToStepID: "b", Priority: 1,
				Condition: engine.Condition{Kind: engine.ConditionReplyMatchesKeyword}},
			{ID: "t-ok", FromStepID: "a", ToStepID: "c", Priority: 2, Condition: engine.AlwaysTrue()},
		},
	}

	next, warnings := selector.Select(flow, "a", textEvent("anything"), engine.NewVariables())
	require.NotNil(t, next)
	assert.Equal(t, "t-ok", next.ID.String())
	assert.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "t-broken")
}
