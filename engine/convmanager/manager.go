// Package convmanager owns the event pipeline: it serializes events per
// contact, routes each one to its open conversation or to trigger matching,
// runs the executor and commits the outcome as one snapshot.
package convmanager

import (
	"context"
	"log"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/Abraxas-365/craftable/logx"
	"github.com/google/uuid"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/engine/stepexec"
	"github.com/kanalhq/kanal/pkg/kernel"
)

type Manager struct {
	flows    engine.FlowRepository
	convs    engine.ConversationRepository
	locker   engine.ConversationLocker
	executor *stepexec.Executor
}

var _ engine.EventProcessor = (*Manager)(nil)

func NewManager(
	flows engine.FlowRepository,
	convs engine.ConversationRepository,
	locker engine.ConversationLocker,
	executor *stepexec.Executor,
) *Manager {
	return &Manager{
		flows:    flows,
		convs:    convs,
		locker:   locker,
		executor: executor,
	}
}

// ============================================================================
// Event Processing
// ============================================================================

// ProcessEvent handles one inbound event for a contact. Events for the same
// contact are processed one at a time: the contact's lock is held from before
// the conversation is read until after the snapshot is committed, so each
// event sees the state the previous one left behind.
func (m *Manager) ProcessEvent(ctx context.Context, contactID kernel.ContactID, event engine.InboundEvent) (*engine.ExecutionResult, error) {
	if event.ContactID.IsEmpty() {
		event.ContactID = contactID
	}
	if !event.IsValid() || event.ContactID != contactID {
		return nil, engine.ErrInvalidEvent().
			WithDetail("contact_id", contactID.String())
	}

	release, err := m.locker.Acquire(ctx, contactID)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := m.convs.FindOpenByContact(ctx, contactID)
	if err != nil && !errx.IsType(err, errx.TypeNotFound) {
		return nil, err
	}

	if conv != nil {
		return m.resume(ctx, conv, event)
	}
	return m.start(ctx, contactID, event)
}

// resume feeds the event into an existing conversation.
func (m *Manager) resume(ctx context.Context, conv *engine.Conversation, event engine.InboundEvent) (*engine.ExecutionResult, error) {
	flow, err := m.flows.FindByID(ctx, conv.FlowID)
	if err != nil {
		return nil, err
	}

	// Flow deactivation only blocks new conversations; live ones run their
	// course on the definition they started with.
	result, err := m.executor.Resume(ctx, flow, conv, event)
	if err != nil {
		return nil, err
	}

	if err := m.convs.SaveSnapshot(ctx, *conv, result.Trail, result.Outbound); err != nil {
		return nil, err
	}

	log.Printf("✅ Event processed for contact %s: conversation %s halted at %s (%s)",
		conv.ContactID, conv.ID, result.CurrentStepID, result.Halt)
	return result, nil
}

// start matches the event against active flows' trigger keywords and begins
// a new conversation at the winning flow's entry step.
func (m *Manager) start(ctx context.Context, contactID kernel.ContactID, event engine.InboundEvent) (*engine.ExecutionResult, error) {
	if event.Kind == engine.EventKindTimeout {
		// A timeout for a contact with no open conversation is stale sweeper
		// work; there is nothing to resume.
		return nil, engine.ErrConversationNotFound().
			WithDetail("contact_id", contactID.String())
	}

	flow, err := m.matchTrigger(ctx, event)
	if err != nil {
		return nil, err
	}

	entry := flow.EntryStep()
	if entry == nil {
		return nil, engine.ErrInvalidFlowDefinition().
			WithDetail("flow_id", flow.ID.String()).
			WithDetail("reason", "flow has no entry point")
	}

	conv := engine.NewConversation(
		kernel.NewConversationID(uuid.New().String()),
		contactID,
		flow.ID,
		entry.ID,
	)

	log.Printf("💬 New conversation %s for contact %s on flow %s", conv.ID, contactID, flow.Name)

	result, err := m.executor.Execute(ctx, flow, conv, event)
	if err != nil {
		return nil, err
	}

	if err := m.convs.SaveSnapshot(ctx, *conv, result.Trail, result.Outbound); err != nil {
		return nil, err
	}

	return result, nil
}

// matchTrigger returns the first active flow whose trigger keywords match
// the event text. Flows are checked in the repository's listing order, so
// the winner is stable for a given set of active flows.
func (m *Manager) matchTrigger(ctx context.Context, event engine.InboundEvent) (*engine.Flow, error) {
	flows, err := m.flows.FindActive(ctx)
	if err != nil {
		return nil, err
	}

	text := event.ReplyText()
	for _, flow := range flows {
		if flow.MatchesTrigger(text) {
			return flow, nil
		}
	}

	return nil, engine.ErrNoMatchingFlow().
		WithDetail("contact_id", event.ContactID.String())
}

// ============================================================================
// Handover Control
// ============================================================================

// ClearHandover returns a handed-over conversation to automated control. The
// next inbound event resumes at the current step.
func (m *Manager) ClearHandover(ctx context.Context, id kernel.ConversationID) (*engine.Conversation, error) {
	conv, err := m.convs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !conv.IsHandedOver() {
		return conv, nil
	}

	conv.ClearHandover()
	if err := m.convs.Save(ctx, *conv); err != nil {
		return nil, err
	}

	log.Printf("🔓 Handover cleared for conversation %s", conv.ID)
	return conv, nil
}

// ============================================================================
// Reply Timeouts
// ============================================================================

// SweepReplyTimeouts injects a synthetic timeout event into every
// conversation whose pending question has waited past the cutoff. Failures
// are logged and skipped; the sweep keeps going.
func (m *Manager) SweepReplyTimeouts(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := m.convs.FindAwaitingReplyBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, conv := range stale {
		event := engine.InboundEvent{
			ContactID:  conv.ContactID,
			Kind:       engine.EventKindTimeout,
			ReceivedAt: time.Now(),
		}
		if _, err := m.ProcessEvent(ctx, conv.ContactID, event); err != nil {
			logx.Error("Reply timeout sweep failed for conversation %s: %v", conv.ID, err)
			continue
		}
		swept++
	}

	return swept, nil
}
