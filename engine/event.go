package engine

import (
	"time"

	"github.com/kanalhq/kanal/pkg/kernel"
)

// ============================================================================
// Inbound Events
// ============================================================================

// EventKind classifies an inbound event from the transport layer.
type EventKind string

const (
	EventKindText             EventKind = "text"
	EventKindInteractiveReply EventKind = "interactive_reply"
	EventKindMedia            EventKind = "media"

	// EventKindTimeout is a synthetic event injected by the reply-timeout
	// sweeper, not by the transport.
	EventKindTimeout EventKind = "timeout"
)

// InboundEvent is a normalized inbound event: a contact's reply or a
// trigger message.
type InboundEvent struct {
	ContactID  kernel.ContactID `json:"contact_id"`
	Kind       EventKind        `json:"kind"`
	Text       string           `json:"text,omitempty"`
	ReplyID    string           `json:"reply_id,omitempty"`
	MediaURL   string           `json:"media_url,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// IsValid checks the minimal fields the engine needs.
func (e InboundEvent) IsValid() bool {
	return !e.ContactID.IsEmpty() && e.Kind != ""
}

// ReplyText is the textual content a condition or question matches against:
// the message text, falling back to a structured reply's title-less ID.
func (e InboundEvent) ReplyText() string {
	if e.Text != "" {
		return e.Text
	}
	return e.ReplyID
}

// ============================================================================
// Outbound Messages
// ============================================================================

// PayloadType is the rendered outbound payload kind.
type PayloadType string

const (
	PayloadTypeText        PayloadType = "text"
	PayloadTypeImage       PayloadType = "image"
	PayloadTypeDocument    PayloadType = "document"
	PayloadTypeInteractive PayloadType = "interactive"
)

// MessagePayload is a fully rendered outbound payload: variable templates
// substituted, media references resolved to URLs.
type MessagePayload struct {
	Type        PayloadType         `json:"type"`
	Text        string              `json:"text,omitempty"`
	MediaURL    string              `json:"media_url,omitempty"`
	Caption     string              `json:"caption,omitempty"`
	Interactive *InteractivePayload `json:"interactive,omitempty"`
}

// InteractivePayload is a button/list prompt with selectable options.
type InteractivePayload struct {
	Body    string              `json:"body"`
	Options []InteractiveOption `json:"options"`
}

// InteractiveOption is one selectable entry; its ID comes back in the
// contact's interactive reply.
type InteractiveOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// OutboundMessage is a rendered message queued for the external transport.
type OutboundMessage struct {
	ID             kernel.MessageID      `json:"id"`
	ContactID      kernel.ContactID      `json:"contact_id"`
	ConversationID kernel.ConversationID `json:"conversation_id"`
	Payload        MessagePayload        `json:"payload"`
	CreatedAt      time.Time             `json:"created_at"`
}

// HandoverNotice is the side effect of a human_handover step; delivering it
// to operators is outside the engine.
type HandoverNotice struct {
	ContactID      kernel.ContactID      `json:"contact_id"`
	ConversationID kernel.ConversationID `json:"conversation_id"`
	Note           string                `json:"note,omitempty"`
}

// ============================================================================
// Execution Result
// ============================================================================

// HaltReason says why the execution loop returned control.
type HaltReason string

const (
	HaltAwaitingReply HaltReason = "awaiting_reply"
	HaltCompleted     HaltReason = "completed"
	HaltHandover      HaltReason = "handover"
	HaltStalled       HaltReason = "stalled"
)

// ExecutionResult is the outcome of processing one inbound event.
type ExecutionResult struct {
	ConversationID kernel.ConversationID `json:"conversation_id"`
	FlowID         kernel.FlowID         `json:"flow_id"`
	Halt           HaltReason            `json:"halt"`
	CurrentStepID  kernel.StepID         `json:"current_step_id"`
	Outbound       []OutboundMessage     `json:"outbound,omitempty"`
	Handover       *HandoverNotice       `json:"handover,omitempty"`
	Trail          []TrailEntry          `json:"trail,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`
	StepsExecuted  int                   `json:"steps_executed"`
}

// Warn appends a recoverable diagnostic.
func (r *ExecutionResult) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
