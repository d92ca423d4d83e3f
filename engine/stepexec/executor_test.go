package stepexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/engine/actionrun"
	"github.com/kanalhq/kanal/engine/condeval"
	"github.com/kanalhq/kanal/engine/render"
	"github.com/kanalhq/kanal/engine/transition"
)

func newExecutor(cfg *Config) *Executor {
	renderer := render.NewRenderer(nil)
	return NewExecutor(
		renderer,
		transition.NewSelector(condeval.NewEvaluator()),
		actionrun.NewRunner(renderer),
		cfg,
	)
}

func textEvent(text string) engine.InboundEvent {
	return engine.InboundEvent{
		ContactID: "contact-1",
		Kind:      engine.EventKindText,
		Text:      text,
	}
}

// The onboarding flow from the fixtures below:
//
//	start → ask-email (question) → thanks (send) → done (end)
//
// The question saves to contact.email; the thanks→done edge is guarded by
// contact.email_valid == true with a handover fallback.
func onboardingFlow() *engine.Flow {
	return &engine.Flow{
		ID:       "flow-onboarding",
		Name:     "onboarding",
		IsActive: true,
		Steps: []engine.Step{
			{ID: "start", Kind: engine.StepKindStart, IsEntryPoint: true},
			{ID: "ask-email", Kind: engine.StepKindQuestion, Config: map[string]any{
				"message": map[string]any{"type": "text", "text": "What is your email?"},
				"reply": map[string]any{
					"expected_type": "email",
					"save_to":       "contact.email",
					"retry_message": "That does not look like an email, try again.",
				},
			}},
			{ID: "thanks", Kind: engine.StepKindSendMessage, Config: map[string]any{
				"message": map[string]any{"type": "text", "text": "Thanks {{contact.email}}!"},
			}},
			{ID: "done", Kind: engine.StepKindEnd, Config: map[string]any{}},
		},
		Transitions: []engine.Transition{
			{ID: "t1", FromStepID: "start", ToStepID: "ask-email", Priority: 1, Condition: engine.AlwaysTrue()},
			{ID: "t2", FromStepID: "ask-email", ToStepID: "thanks", Priority: 1, Condition: engine.Condition{
				Kind:   engine.ConditionVariableEquals,
				Config: map[string]any{"variable": "contact.email_valid", "value": "true"},
			}},
			{ID: "t3", FromStepID: "thanks", ToStepID: "done", Priority: 1, Condition: engine.AlwaysTrue()},
		},
	}
}

func TestExecute_RunsUntilQuestion(t *testing.T) {
	executor := newExecutor(nil)
	flow := onboardingFlow()
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")

	result, err := executor.Execute(context.Background(), flow, conv, textEvent("hi"))
	require.NoError(t, err)

	assert.Equal(t, engine.HaltAwaitingReply, result.Halt)
	assert.Equal(t, "ask-email", result.CurrentStepID.String())
	assert.True(t, conv.IsAwaitingReply())

	// One prompt was emitted and one transition taken.
	require.Len(t, result.Outbound, 1)
	assert.Equal(t, "What is your email?", result.Outbound[0].Payload.Text)
	require.Len(t, result.Trail, 1)
	assert.Equal(t, "t1", result.Trail[0].TransitionID.String())
}

func TestResume_ValidReplyCompletesFlow(t *testing.T) {
	executor := newExecutor(nil)
	flow := onboardingFlow()
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")

	_, err := executor.Execute(context.Background(), flow, conv, textEvent("hi"))
	require.NoError(t, err)

	result, err := executor.Resume(context.Background(), flow, conv, textEvent("ana@example.com"))
	require.NoError(t, err)

	assert.Equal(t, engine.HaltCompleted, result.Halt)
	assert.True(t, conv.IsTerminated())
	assert.Equal(t, "done", conv.CurrentStepID.String())

	// The reply and its validation flag were captured.
	assert.Equal(t, "ana@example.com", conv.Variables.GetString("contact.email"))
	valid, ok := conv.Variables.Get("contact.email_valid")
	require.True(t, ok)
	assert.Equal(t, true, valid)

	// The thanks message rendered the captured variable.
	require.Len(t, result.Outbound, 1)
	assert.Equal(t, "Thanks ana@example.com!", result.Outbound[0].Payload.Text)
}

func TestResume_InvalidReplyRepromptsWithoutSideEffects(t *testing.T) {
	executor := newExecutor(nil)
	flow := onboardingFlow()
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")

	_, err := executor.Execute(context.Background(), flow, conv, textEvent("hi"))
	require.NoError(t, err)

	result, err := executor.Resume(context.Background(), flow, conv, textEvent("not an email"))
	require.NoError(t, err)

	assert.Equal(t, engine.HaltAwaitingReply, result.Halt)
	assert.Equal(t, "ask-email", conv.CurrentStepID.String())
	assert.True(t, conv.IsAwaitingReply())
	assert.Equal(t, 1, conv.PendingReply.Attempts)

	// The invalid value was never written.
	_, ok := conv.Variables.Get("contact.email")
	assert.False(t, ok)

	// The retry message, not the original prompt, was sent.
	require.Len(t, result.Outbound, 1)
	assert.Equal(t, "That does not look like an email, try again.", result.Outbound[0].Payload.Text)
	assert.Empty(t, result.Trail)
}

func TestResume_AttemptsExhaustedWithoutFallbackStaysWaiting(t *testing.T) {
	executor := newExecutor(&Config{MaxReplyAttempts: 2})
	flow := onboardingFlow()
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")

	_, err := executor.Execute(context.Background(), flow, conv, textEvent("hi"))
	require.NoError(t, err)

	_, err = executor.Resume(context.Background(), flow, conv, textEvent("nope"))
	require.NoError(t, err)

	result, err := executor.Resume(context.Background(), flow, conv, textEvent("still nope"))
	require.NoError(t, err)

	// No handover step is configured; the conversation keeps waiting.
	assert.Equal(t, engine.HaltAwaitingReply, result.Halt)
	assert.True(t, conv.IsAwaitingReply())
	assert.Empty(t, result.Outbound)
}

func TestResume_AttemptsExhaustedRoutesToHandover(t *testing.T) {
	executor := newExecutor(&Config{MaxReplyAttempts: 1})
	flow := onboardingFlow()
	flow.Steps = append(flow.Steps, engine.Step{
		ID: "human", Kind: engine.StepKindHumanHandover, Config: map[string]any{
			"message": map[string]any{"type": "text", "text": "Connecting you to a person."},
			"note":    "email validation failed",
		},
	})
	flow.Steps[1].Config["reply"] = map[string]any{
		"expected_type":    "email",
		"save_to":          "contact.email",
		"handover_step_id": "human",
	}
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")

	_, err := executor.Execute(context.Background(), flow, conv, textEvent("hi"))
	require.NoError(t, err)

	result, err := executor.Resume(context.Background(), flow, conv, textEvent("garbage"))
	require.NoError(t, err)

	assert.Equal(t, engine.HaltHandover, result.Halt)
	assert.True(t, conv.IsHandedOver())
	require.NotNil(t, result.Handover)
	assert.Equal(t, "email validation failed", result.Handover.Note)
	require.Len(t, result.Outbound, 1)
	assert.Equal(t, "Connecting you to a person.", result.Outbound[0].Payload.Text)
}

func TestResume_TimeoutEventRoutesToHandover(t *testing.T) {
	executor := newExecutor(nil)
	flow := onboardingFlow()
	flow.Steps = append(flow.Steps, engine.Step{
		ID: "human", Kind: engine.StepKindHumanHandover, Config: map[string]any{},
	})
	flow.Steps[1].Config["reply"] = map[string]any{
		"expected_type":    "email",
		"save_to":          "contact.email",
		"handover_step_id": "human",
	}
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")

	_, err := executor.Execute(context.Background(), flow, conv, textEvent("hi"))
	require.NoError(t, err)

	timeout := engine.InboundEvent{ContactID: "contact-1", Kind: engine.EventKindTimeout}
	result, err := executor.Resume(context.Background(), flow, conv, timeout)
	require.NoError(t, err)

	assert.Equal(t, engine.HaltHandover, result.Halt)
	assert.True(t, conv.IsHandedOver())
}

func TestResume_HandedOverConversationStaysSilent(t *testing.T) {
	executor := newExecutor(nil)
	flow := onboardingFlow()
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")
	conv.Handover()

	result, err := executor.Resume(context.Background(), flow, conv, textEvent("hello?"))
	require.NoError(t, err)

	assert.Equal(t, engine.HaltHandover, result.Halt)
	assert.Empty(t, result.Outbound)
	assert.Empty(t, result.Trail)
}

func TestExecute_StallsWhenNoTransitionMatches(t *testing.T) {
	executor := newExecutor(nil)
	flow := onboardingFlow()
	// Drop every outgoing edge of the thanks step.
	flow.Transitions = flow.Transitions[:2]
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")

	_, err := executor.Execute(context.Background(), flow, conv, textEvent("hi"))
	require.NoError(t, err)

	result, err := executor.Resume(context.Background(), flow, conv, textEvent("ana@example.com"))
	require.NoError(t, err)

	assert.Equal(t, engine.HaltStalled, result.Halt)
	assert.Equal(t, "thanks", conv.CurrentStepID.String())
	assert.False(t, conv.IsTerminated())
}

func TestExecute_CycleHitsStepLimit(t *testing.T) {
	executor := newExecutor(&Config{MaxStepChain: 10})

	flow := &engine.Flow{
		ID:       "flow-cycle",
		Name:     "cycle",
		IsActive: true,
		Steps: []engine.Step{
			{ID: "a", Kind: engine.StepKindStart, IsEntryPoint: true},
			{ID: "b", Kind: engine.StepKindAction, Config: map[string]any{
				"actions": []any{map[string]any{
					"kind":   "set_context_variable",
					"config": map[string]any{"variable": "x", "value": "y"},
				}},
			}},
		},
		Transitions: []engine.Transition{
			{ID: "t-ab", FromStepID: "a", ToStepID: "b", Priority: 1, Condition: engine.AlwaysTrue()},
			{ID: "t-ba", FromStepID: "b", ToStepID: "a", Priority: 1, Condition: engine.AlwaysTrue()},
		},
	}
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "a")

	result, err := executor.Execute(context.Background(), flow, conv, textEvent("go"))
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestExecute_BrokenStepConfigWarnsAndProceeds(t *testing.T) {
	executor := newExecutor(nil)

	flow := onboardingFlow()
	// Break the thanks step: text payload without text.
	flow.Steps[2].Config = map[string]any{
		"message": map[string]any{"type": "text"},
	}
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")

	_, err := executor.Execute(context.Background(), flow, conv, textEvent("hi"))
	require.NoError(t, err)

	result, err := executor.Resume(context.Background(), flow, conv, textEvent("ana@example.com"))
	require.NoError(t, err)

	// The flow still completed; the broken message was skipped with a warning.
	assert.Equal(t, engine.HaltCompleted, result.Halt)
	assert.Empty(t, result.Outbound)
	assert.NotEmpty(t, result.Warnings)
}

func TestResume_CompletedConversationDoesNotRun(t *testing.T) {
	executor := newExecutor(nil)
	flow := onboardingFlow()
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "done")
	conv.Complete()

	result, err := executor.Resume(context.Background(), flow, conv, textEvent("hi again"))
	require.NoError(t, err)

	assert.Equal(t, engine.HaltCompleted, result.Halt)
	assert.Empty(t, result.Outbound)
}

func TestResume_NumberReplyStoredAsNumber(t *testing.T) {
	executor := newExecutor(nil)

	flow := &engine.Flow{
		ID:       "flow-rating",
		Name:     "rating",
		IsActive: true,
		Steps: []engine.Step{
			{ID: "start", Kind: engine.StepKindStart, IsEntryPoint: true},
			{ID: "ask-rating", Kind: engine.StepKindQuestion, Config: map[string]any{
				"message": map[string]any{"type": "text", "text": "Rate us 1-5"},
				"reply": map[string]any{
					"expected_type": "number",
					"save_to":       "feedback.rating",
					"min_value":     1.0,
					"max_value":     5.0,
				},
			}},
			{ID: "done", Kind: engine.StepKindEnd},
		},
		Transitions: []engine.Transition{
			{ID: "t1", FromStepID: "start", ToStepID: "ask-rating", Priority: 1, Condition: engine.AlwaysTrue()},
			{ID: "t2", FromStepID: "ask-rating", ToStepID: "done", Priority: 1, Condition: engine.AlwaysTrue()},
		},
	}
	conv := engine.NewConversation("conv-1", "contact-1", flow.ID, "start")

	_, err := executor.Execute(context.Background(), flow, conv, textEvent("hi"))
	require.NoError(t, err)

	result, err := executor.Resume(context.Background(), flow, conv, textEvent("4"))
	require.NoError(t, err)

	assert.Equal(t, engine.HaltCompleted, result.Halt)
	rating, ok := conv.Variables.Get("feedback.rating")
	require.True(t, ok)
	assert.Equal(t, 4.0, rating)

	// Out-of-range replies are rejected.
	conv2 := engine.NewConversation("conv-2", "contact-2", flow.ID, "start")
	_, err = executor.Execute(context.Background(), flow, conv2, textEvent("hi"))
	require.NoError(t, err)

	result, err = executor.Resume(context.Background(), flow, conv2, textEvent("9"))
	require.NoError(t, err)
	assert.Equal(t, engine.HaltAwaitingReply, result.Halt)
}
