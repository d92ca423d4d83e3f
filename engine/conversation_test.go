package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationLifecycle(t *testing.T) {
	conv := NewConversation("conv-1", "contact-1", "flow-1", "start")

	assert.True(t, conv.IsValid())
	assert.Equal(t, ConversationStatusActive, conv.Status)
	assert.False(t, conv.IsTerminated())
	assert.False(t, conv.IsAwaitingReply())

	conv.MoveTo("ask-email")
	assert.Equal(t, "ask-email", conv.CurrentStepID.String())

	conv.AwaitReply("ask-email")
	require.True(t, conv.IsAwaitingReply())
	assert.Equal(t, 0, conv.PendingReply.Attempts)

	// Re-awaiting the same step counts an attempt.
	conv.AwaitReply("ask-email")
	assert.Equal(t, 1, conv.PendingReply.Attempts)

	conv.ClearPendingReply()
	assert.False(t, conv.IsAwaitingReply())

	conv.Complete()
	assert.True(t, conv.IsTerminated())
	require.NotNil(t, conv.CompletedAt)
	// The pointer stays where the conversation ended.
	assert.Equal(t, "ask-email", conv.CurrentStepID.String())
}

func TestConversationHandover(t *testing.T) {
	conv := NewConversation("conv-1", "contact-1", "flow-1", "start")
	conv.AwaitReply("ask")

	conv.Handover()
	assert.True(t, conv.IsHandedOver())
	assert.False(t, conv.IsAwaitingReply())

	conv.ClearHandover()
	assert.False(t, conv.IsHandedOver())
	assert.Equal(t, ConversationStatusActive, conv.Status)

	// ClearHandover on a completed conversation is a no-op.
	conv.Complete()
	conv.ClearHandover()
	assert.True(t, conv.IsTerminated())
}

func TestVariables_SetGetDelete(t *testing.T) {
	vars := NewVariables()

	require.NoError(t, vars.Set("contact.email", "ana@example.com"))
	require.NoError(t, vars.Set("contact.age", 30.0))

	value, ok := vars.Get("contact.email")
	require.True(t, ok)
	assert.Equal(t, "ana@example.com", value)

	assert.Equal(t, "ana@example.com", vars.GetString("contact.email"))
	assert.Equal(t, "30", vars.GetString("contact.age"))
	assert.Equal(t, "", vars.GetString("contact.missing"))

	vars.Delete("contact.email")
	_, ok = vars.Get("contact.email")
	assert.False(t, ok)

	// Sibling paths survive the delete.
	_, ok = vars.Get("contact.age")
	assert.True(t, ok)
}

func TestVariables_ZeroValueUsable(t *testing.T) {
	var vars Variables

	_, ok := vars.Get("anything")
	assert.False(t, ok)

	require.NoError(t, vars.Set("a.b", "c"))
	assert.Equal(t, "c", vars.GetString("a.b"))
}

func TestVariables_CloneIsIndependent(t *testing.T) {
	vars := NewVariables()
	require.NoError(t, vars.Set("shared.value", "original"))

	clone := vars.Clone()
	require.NoError(t, clone.Set("shared.value", "changed"))
	require.NoError(t, clone.Set("only.in.clone", true))

	assert.Equal(t, "original", vars.GetString("shared.value"))
	_, ok := vars.Get("only.in.clone")
	assert.False(t, ok)
}

func TestVariables_JSONRoundTrip(t *testing.T) {
	vars := NewVariables()
	require.NoError(t, vars.Set("contact.name", "Ana"))
	require.NoError(t, vars.Set("order.items", []any{"a", "b"}))

	data, err := json.Marshal(vars)
	require.NoError(t, err)

	var restored Variables
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, "Ana", restored.GetString("contact.name"))
	items, ok := restored.Get("order.items")
	require.True(t, ok)
	assert.Len(t, items, 2)
}

func TestConversationJSONRoundTrip(t *testing.T) {
	conv := NewConversation("conv-1", "contact-1", "flow-1", "start")
	require.NoError(t, conv.Variables.Set("contact.email", "ana@example.com"))
	conv.AwaitReply("ask-email")

	data, err := json.Marshal(conv)
	require.NoError(t, err)

	var restored Conversation
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, conv.ID, restored.ID)
	assert.Equal(t, conv.CurrentStepID, restored.CurrentStepID)
	require.NotNil(t, restored.PendingReply)
	assert.Equal(t, "ask-email", restored.PendingReply.StepID.String())
	assert.Equal(t, "ana@example.com", restored.Variables.GetString("contact.email"))
}
