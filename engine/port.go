package engine

import (
	"context"
	"time"

	"github.com/kanalhq/kanal/pkg/kernel"
)

// ============================================================================
// Repository Interfaces
// ============================================================================

// FlowRepository persists flow definitions. The engine only reads them; the
// authoring subsystem owns writes. Definitions are safe to cache: live
// conversations always re-read through this interface.
type FlowRepository interface {
	Save(ctx context.Context, flow Flow) error
	FindByID(ctx context.Context, id kernel.FlowID) (*Flow, error)
	FindActive(ctx context.Context) ([]*Flow, error)
	List(ctx context.Context, req FlowListRequest) (FlowListResponse, error)
	Delete(ctx context.Context, id kernel.FlowID) error
}

// ConversationRepository persists per-contact conversation state.
type ConversationRepository interface {
	FindByID(ctx context.Context, id kernel.ConversationID) (*Conversation, error)

	// FindOpenByContact returns the contact's active or handed-over
	// conversation; completed conversations are never resumed.
	FindOpenByContact(ctx context.Context, contactID kernel.ContactID) (*Conversation, error)

	// FindAwaitingReplyBefore lists conversations whose pending question was
	// asked before the cutoff, for the reply-timeout sweeper.
	FindAwaitingReplyBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Conversation, error)

	// SaveSnapshot commits the conversation, its new trail entries and the
	// queued outbound messages in one transaction. Either the whole event's
	// outcome is persisted or none of it.
	SaveSnapshot(ctx context.Context, conv Conversation, trail []TrailEntry, outbound []OutboundMessage) error

	Save(ctx context.Context, conv Conversation) error
	List(ctx context.Context, req ConversationListRequest) (ConversationListResponse, error)
}

// TrailRepository reads the append-only transition trail. Writes happen only
// through ConversationRepository.SaveSnapshot.
type TrailRepository interface {
	ListByConversation(ctx context.Context, id kernel.ConversationID) ([]TrailEntry, error)
	CountByFlowSince(ctx context.Context, flowID kernel.FlowID, since time.Time) (int, error)
}

// OutboxRepository hands queued outbound messages to the external transport.
type OutboxRepository interface {
	ListPending(ctx context.Context, limit int) ([]OutboundMessage, error)
	MarkDispatched(ctx context.Context, ids []kernel.MessageID) error
}

// ============================================================================
// Locking
// ============================================================================

// ConversationLocker serializes event processing per contact. Acquire blocks
// until the contact's lock is free or ctx is done; the returned release must
// be called after the updated conversation is durably persisted.
type ConversationLocker interface {
	Acquire(ctx context.Context, contactID kernel.ContactID) (release func(), err error)
}

// ============================================================================
// Media
// ============================================================================

// MediaResolver turns an authored asset reference into a deliverable URL.
type MediaResolver interface {
	Resolve(ctx context.Context, assetID kernel.AssetID) (string, error)
}

// ============================================================================
// Processing
// ============================================================================

// EventProcessor is the engine's entry point for inbound events.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, contactID kernel.ContactID, event InboundEvent) (*ExecutionResult, error)
}
