package engine

import (
	"encoding/json"
	"time"

	"github.com/Jeffail/gabs/v2"

	"github.com/kanalhq/kanal/pkg/kernel"
)

// ============================================================================
// Conversation Entity
// ============================================================================

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationStatusActive    ConversationStatus = "ACTIVE"
	ConversationStatusCompleted ConversationStatus = "COMPLETED"
	ConversationStatusHandover  ConversationStatus = "HANDOVER"
)

// Conversation is the per-contact runtime state of a flow: current step
// pointer, variable store and pending-reply marker. It is owned exclusively
// by the engine; nothing else writes the pointer or the store.
type Conversation struct {
	ID            kernel.ConversationID `json:"id"`
	ContactID     kernel.ContactID      `json:"contact_id"`
	FlowID        kernel.FlowID         `json:"flow_id"`
	CurrentStepID kernel.StepID         `json:"current_step_id"`
	Variables     Variables             `json:"variables"`
	Status        ConversationStatus    `json:"status"`
	PendingReply  *PendingReply         `json:"pending_reply,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
}

// PendingReply marks a conversation blocked on a question step.
type PendingReply struct {
	StepID   kernel.StepID `json:"step_id"`
	Attempts int           `json:"attempts"`
	AskedAt  time.Time     `json:"asked_at"`
}

// NewConversation creates a conversation positioned at a flow's entry step.
func NewConversation(id kernel.ConversationID, contactID kernel.ContactID, flowID kernel.FlowID, entryStepID kernel.StepID) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:            id,
		ContactID:     contactID,
		FlowID:        flowID,
		CurrentStepID: entryStepID,
		Variables:     NewVariables(),
		Status:        ConversationStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsValid checks the minimal identity fields.
func (c *Conversation) IsValid() bool {
	return !c.ID.IsEmpty() && !c.ContactID.IsEmpty() && !c.FlowID.IsEmpty()
}

// IsTerminated reports whether the conversation reached an end step.
func (c *Conversation) IsTerminated() bool {
	return c.Status == ConversationStatusCompleted
}

// IsAwaitingReply reports whether the conversation is blocked on a question.
func (c *Conversation) IsAwaitingReply() bool {
	return c.PendingReply != nil
}

// IsHandedOver reports whether automation is suspended pending a human.
func (c *Conversation) IsHandedOver() bool {
	return c.Status == ConversationStatusHandover
}

// MoveTo advances the current-step pointer.
func (c *Conversation) MoveTo(stepID kernel.StepID) {
	c.CurrentStepID = stepID
	c.UpdatedAt = time.Now()
}

// AwaitReply blocks the conversation on the given question step.
func (c *Conversation) AwaitReply(stepID kernel.StepID) {
	now := time.Now()
	if c.PendingReply != nil && c.PendingReply.StepID == stepID {
		c.PendingReply.Attempts++
		c.UpdatedAt = now
		return
	}
	c.PendingReply = &PendingReply{StepID: stepID, AskedAt: now}
	c.UpdatedAt = now
}

// ClearPendingReply unblocks the conversation after a reply was matched.
func (c *Conversation) ClearPendingReply() {
	c.PendingReply = nil
	c.UpdatedAt = time.Now()
}

// Complete terminates the conversation. The current-step pointer stays at
// the end step; future inbound events do not resume this flow without a new
// trigger.
func (c *Conversation) Complete() {
	c.Status = ConversationStatusCompleted
	c.PendingReply = nil
	now := time.Now()
	c.CompletedAt = &now
	c.UpdatedAt = now
}

// Handover suspends automation until a human clears the handover flag.
func (c *Conversation) Handover() {
	c.Status = ConversationStatusHandover
	c.PendingReply = nil
	c.UpdatedAt = time.Now()
}

// ClearHandover returns a handed-over conversation to automated control.
func (c *Conversation) ClearHandover() {
	if c.Status == ConversationStatusHandover {
		c.Status = ConversationStatusActive
		c.UpdatedAt = time.Now()
	}
}

// ============================================================================
// Variable Store
// ============================================================================

// Variables is the conversation's variable store. Values are addressed by
// dotted paths ("contact.email"), backed by a gabs container so nested
// structures round-trip through JSON persistence unchanged.
type Variables struct {
	container *gabs.Container
}

// NewVariables returns an empty store.
func NewVariables() Variables {
	return Variables{container: gabs.New()}
}

// VariablesFrom wraps an existing map.
func VariablesFrom(values map[string]any) Variables {
	if values == nil {
		return NewVariables()
	}
	return Variables{container: gabs.Wrap(values)}
}

// Get reads the value at a dotted path.
func (v Variables) Get(path string) (any, bool) {
	if v.container == nil || !v.container.ExistsP(path) {
		return nil, false
	}
	return v.container.Path(path).Data(), true
}

// GetString reads the value at a dotted path rendered as a string.
// Missing paths return "".
func (v Variables) GetString(path string) string {
	val, ok := v.Get(path)
	if !ok || val == nil {
		return ""
	}
	if s, isString := val.(string); isString {
		return s
	}
	data, err := json.Marshal(val)
	if err != nil {
		return ""
	}
	return string(data)
}

// Set writes a value at a dotted path, creating intermediate objects.
func (v *Variables) Set(path string, value any) error {
	if v.container == nil {
		v.container = gabs.New()
	}
	if _, err := v.container.SetP(value, path); err != nil {
		return ErrInvalidAction().
			WithDetail("path", path).
			WithDetail("reason", err.Error())
	}
	return nil
}

// Delete removes the value at a dotted path. Missing paths are a no-op.
func (v *Variables) Delete(path string) {
	if v.container == nil || !v.container.ExistsP(path) {
		return
	}
	_ = v.container.DeleteP(path)
}

// Map exposes the store as a plain map for expression environments and
// persistence. Mutating the returned map mutates the store.
func (v Variables) Map() map[string]any {
	if v.container == nil {
		return map[string]any{}
	}
	if m, ok := v.container.Data().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Clone returns a deep copy. The engine mutates clones and commits the
// result, never the original, so a failed event leaves the store untouched.
func (v Variables) Clone() Variables {
	if v.container == nil {
		return NewVariables()
	}
	copied, err := gabs.ParseJSON(v.container.Bytes())
	if err != nil {
		return NewVariables()
	}
	return Variables{container: copied}
}

// MarshalJSON implements json.Marshaler.
func (v Variables) MarshalJSON() ([]byte, error) {
	if v.container == nil {
		return []byte("{}"), nil
	}
	return v.container.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Variables) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		v.container = gabs.New()
		return nil
	}
	parsed, err := gabs.ParseJSON(data)
	if err != nil {
		return err
	}
	v.container = parsed
	return nil
}

// ============================================================================
// Transition Trail
// ============================================================================

// TrailEntry is one taken transition, recorded append-only per conversation
// for the analytics subsystem.
type TrailEntry struct {
	ID             string                `db:"id" json:"id"`
	ConversationID kernel.ConversationID `db:"conversation_id" json:"conversation_id"`
	FlowID         kernel.FlowID         `db:"flow_id" json:"flow_id"`
	FromStepID     kernel.StepID         `db:"from_step_id" json:"from_step_id"`
	ToStepID       kernel.StepID         `db:"to_step_id" json:"to_step_id"`
	TransitionID   kernel.TransitionID   `db:"transition_id" json:"transition_id"`
	Timestamp      time.Time             `db:"created_at" json:"timestamp"`
}
