package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFlow() *Flow {
	return &Flow{
		ID:   "flow-1",
		Name: "welcome",
		Steps: []Step{
			{ID: "start", Kind: StepKindStart, IsEntryPoint: true},
			{ID: "greet", Kind: StepKindSendMessage, Config: map[string]any{
				"message": map[string]any{"type": "text", "text": "Hello!"},
			}},
			{ID: "done", Kind: StepKindEnd},
		},
		Transitions: []Transition{
			{ID: "t1", FromStepID: "start", ToStepID: "greet", Priority: 1, Condition: AlwaysTrue()},
			{ID: "t2", FromStepID: "greet", ToStepID: "done", Priority: 1, Condition: AlwaysTrue()},
		},
	}
}

func TestFlowValidate_ValidFlow(t *testing.T) {
	assert.NoError(t, validFlow().Validate())
}

func TestFlowValidate_RequiresExactlyOneStart(t *testing.T) {
	flow := validFlow()
	flow.Steps = append(flow.Steps, Step{ID: "start2", Kind: StepKindStart})
	assert.Error(t, flow.Validate())

	flow = validFlow()
	flow.Steps[0].Kind = StepKindSendMessage
	flow.Steps[0].Config = map[string]any{
		"message": map[string]any{"type": "text", "text": "hi"},
	}
	assert.Error(t, flow.Validate())
}

func TestFlowValidate_RequiresExactlyOneEntryPoint(t *testing.T) {
	flow := validFlow()
	flow.Steps[1].IsEntryPoint = true
	assert.Error(t, flow.Validate())

	flow = validFlow()
	flow.Steps[0].IsEntryPoint = false
	assert.Error(t, flow.Validate())
}

func TestFlowValidate_DuplicateStepID(t *testing.T) {
	flow := validFlow()
	flow.Steps = append(flow.Steps, Step{ID: "greet", Kind: StepKindEnd})
	assert.Error(t, flow.Validate())
}

func TestFlowValidate_TransitionEndpointsMustExist(t *testing.T) {
	flow := validFlow()
	flow.Transitions[0].ToStepID = "ghost"
	assert.Error(t, flow.Validate())

	flow = validFlow()
	flow.Transitions[0].FromStepID = "ghost"
	assert.Error(t, flow.Validate())
}

func TestFlowValidate_StepConfigChecked(t *testing.T) {
	flow := validFlow()
	// A text payload without text is invalid.
	flow.Steps[1].Config = map[string]any{
		"message": map[string]any{"type": "text"},
	}
	assert.Error(t, flow.Validate())
}

func TestFlowValidate_QuestionNeedsSaveTo(t *testing.T) {
	flow := validFlow()
	flow.Steps[1] = Step{ID: "greet", Kind: StepKindQuestion, Config: map[string]any{
		"message": map[string]any{"type": "text", "text": "Your email?"},
		"reply":   map[string]any{"expected_type": "email"},
	}}
	assert.Error(t, flow.Validate())

	flow.Steps[1].Config["reply"] = map[string]any{
		"expected_type": "email", "save_to": "contact.email",
	}
	assert.NoError(t, flow.Validate())
}

func TestTransitionsFrom_SortedByPriorityThenID(t *testing.T) {
	flow := &Flow{
		ID: "f",
		Steps: []Step{
			{ID: "a", Kind: StepKindStart}, {ID: "b", Kind: StepKindEnd},
		},
		Transitions: []Transition{
			{ID: "t-c", FromStepID: "a", ToStepID: "b", Priority: 2},
			{ID: "t-b", FromStepID: "a", ToStepID: "b", Priority: 1},
			{ID: "t-a", FromStepID: "a", ToStepID: "b", Priority: 2},
			{ID: "t-x", FromStepID: "b", ToStepID: "a", Priority: 0},
		},
	}

	out := flow.TransitionsFrom("a")
	require.Len(t, out, 3)
	assert.Equal(t, "t-b", out[0].ID.String())
	assert.Equal(t, "t-a", out[1].ID.String())
	assert.Equal(t, "t-c", out[2].ID.String())
}

func TestMatchesTrigger(t *testing.T) {
	flow := validFlow()
	flow.IsActive = true
	flow.TriggerKeywords = []string{"hello", "Start"}

	assert.True(t, flow.MatchesTrigger("hello"))
	assert.True(t, flow.MatchesTrigger("HELLO"))
	assert.True(t, flow.MatchesTrigger("  start  "))
	assert.False(t, flow.MatchesTrigger("hello there"))

	flow.Deactivate()
	assert.False(t, flow.MatchesTrigger("hello"))
}

func TestEntryStep(t *testing.T) {
	flow := validFlow()
	entry := flow.EntryStep()
	require.NotNil(t, entry)
	assert.Equal(t, "start", entry.ID.String())

	flow.Steps[0].IsEntryPoint = false
	assert.Nil(t, flow.EntryStep())
}
