package engineapi

import (
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/engine/convmanager"
	"github.com/kanalhq/kanal/pkg/kernel"
)

var validate = validator.New()

// EngineHandler exposes the flow engine over HTTP: event ingestion, flow
// authoring and conversation inspection.
type EngineHandler struct {
	manager *convmanager.Manager
	flows   engine.FlowRepository
	convs   engine.ConversationRepository
	trail   engine.TrailRepository
}

func NewEngineHandler(
	manager *convmanager.Manager,
	flows engine.FlowRepository,
	convs engine.ConversationRepository,
	trail engine.TrailRepository,
) *EngineHandler {
	return &EngineHandler{
		manager: manager,
		flows:   flows,
		convs:   convs,
		trail:   trail,
	}
}

// ============================================================================
// Events
// ============================================================================

// ProcessEvent ingests one inbound event and returns the execution outcome.
// POST /api/v1/events
func (h *EngineHandler) ProcessEvent(c *fiber.Ctx) error {
	var req engine.ProcessEventRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.ErrInvalidEvent().WithDetail("reason", err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return engine.ErrInvalidEvent().WithDetail("reason", err.Error())
	}

	log.Printf("📨 Inbound %s event from contact %s", req.Kind, req.ContactID)

	event := engine.InboundEvent{
		ContactID:  req.ContactID,
		Kind:       req.Kind,
		Text:       req.Text,
		ReplyID:    req.ReplyID,
		MediaURL:   req.MediaURL,
		ReceivedAt: time.Now(),
	}

	result, err := h.manager.ProcessEvent(c.Context(), req.ContactID, event)
	if err != nil {
		return err
	}

	return c.JSON(result)
}

// ============================================================================
// Flows
// ============================================================================

// SaveFlow creates or replaces a flow definition after validating it.
// POST /api/v1/flows
func (h *EngineHandler) SaveFlow(c *fiber.Ctx) error {
	var flow engine.Flow
	if err := c.BodyParser(&flow); err != nil {
		return engine.ErrInvalidFlowDefinition().WithDetail("reason", err.Error())
	}

	if flow.ID.IsEmpty() {
		flow.ID = kernel.NewFlowID(uuid.New().String())
		flow.CreatedAt = time.Now()
	}
	flow.UpdatedAt = time.Now()

	if err := flow.Validate(); err != nil {
		return err
	}

	if err := h.flows.Save(c.Context(), flow); err != nil {
		return err
	}

	log.Printf("💾 Flow saved: %s (%s)", flow.Name, flow.ID)
	return c.Status(fiber.StatusCreated).JSON(flow)
}

// GetFlow returns one flow definition.
// GET /api/v1/flows/:flowId
func (h *EngineHandler) GetFlow(c *fiber.Ctx) error {
	flow, err := h.flows.FindByID(c.Context(), kernel.NewFlowID(c.Params("flowId")))
	if err != nil {
		return err
	}
	return c.JSON(flow)
}

// ListFlows returns a page of flow definitions.
// GET /api/v1/flows
func (h *EngineHandler) ListFlows(c *fiber.Ctx) error {
	req := engine.FlowListRequest{Search: c.Query("search")}
	req.Page = parseIntQuery(c, "page", 1)
	req.PageSize = parseIntQuery(c, "page_size", 20)

	if raw := c.Query("is_active"); raw != "" {
		active := raw == "true"
		req.IsActive = &active
	}

	resp, err := h.flows.List(c.Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// DeleteFlow removes a flow definition. Open conversations keep running on
// the copy they already loaded only until their next event.
// DELETE /api/v1/flows/:flowId
func (h *EngineHandler) DeleteFlow(c *fiber.Ctx) error {
	id := kernel.NewFlowID(c.Params("flowId"))
	if err := h.flows.Delete(c.Context(), id); err != nil {
		return err
	}
	log.Printf("🗑️ Flow deleted: %s", id)
	return c.SendStatus(fiber.StatusNoContent)
}

// ActivateFlow marks a flow executable.
// POST /api/v1/flows/:flowId/activate
func (h *EngineHandler) ActivateFlow(c *fiber.Ctx) error {
	return h.setFlowActive(c, true)
}

// DeactivateFlow withdraws a flow from trigger matching.
// POST /api/v1/flows/:flowId/deactivate
func (h *EngineHandler) DeactivateFlow(c *fiber.Ctx) error {
	return h.setFlowActive(c, false)
}

func (h *EngineHandler) setFlowActive(c *fiber.Ctx, active bool) error {
	flow, err := h.flows.FindByID(c.Context(), kernel.NewFlowID(c.Params("flowId")))
	if err != nil {
		return err
	}

	if active {
		if err := flow.Validate(); err != nil {
			return err
		}
		flow.Activate()
	} else {
		flow.Deactivate()
	}

	if err := h.flows.Save(c.Context(), *flow); err != nil {
		return err
	}
	return c.JSON(flow)
}

// ValidateFlow dry-runs flow validation without persisting anything.
// POST /api/v1/flows/validate
func (h *EngineHandler) ValidateFlow(c *fiber.Ctx) error {
	var flow engine.Flow
	if err := c.BodyParser(&flow); err != nil {
		return engine.ErrInvalidFlowDefinition().WithDetail("reason", err.Error())
	}

	resp := engine.ValidateFlowResponse{IsValid: true}
	if err := flow.Validate(); err != nil {
		resp.IsValid = false
		resp.Errors = append(resp.Errors, err.Error())
	}
	resp.Warnings = append(resp.Warnings, flowWarnings(&flow)...)

	return c.JSON(resp)
}

// flowWarnings reports issues that do not block activation but will degrade
// at runtime: malformed transition conditions never match, and steps with no
// outgoing transition (other than terminal kinds) park the conversation.
func flowWarnings(flow *engine.Flow) []string {
	var warnings []string

	for _, t := range flow.Transitions {
		if err := validateCondition(t.Condition); err != nil {
			warnings = append(warnings,
				"transition "+t.ID.String()+": condition will never match: "+err.Error())
		}
	}

	for _, step := range flow.Steps {
		switch step.Kind {
		case engine.StepKindEnd, engine.StepKindHumanHandover:
			continue
		}
		if len(flow.TransitionsFrom(step.ID)) == 0 {
			warnings = append(warnings,
				"step "+step.ID.String()+" has no outgoing transitions; conversations will stall there")
		}
	}

	return warnings
}

func validateCondition(cond engine.Condition) error {
	switch cond.Kind {
	case engine.ConditionAlwaysTrue, engine.ConditionReplyIsEmail:
		return nil
	case engine.ConditionReplyMatchesKeyword, engine.ConditionReplyContainsKeyword:
		_, err := engine.ExtractKeywordCondition(cond.Config)
		return err
	case engine.ConditionInteractiveReplyIDEquals:
		_, err := engine.ExtractInteractiveReplyCondition(cond.Config)
		return err
	case engine.ConditionVariableEquals:
		_, err := engine.ExtractVariableEqualsCondition(cond.Config)
		return err
	case engine.ConditionReplyIsNumber:
		_, err := engine.ExtractNumberReplyCondition(cond.Config)
		return err
	case engine.ConditionExpression:
		_, err := engine.ExtractExpressionCondition(cond.Config)
		return err
	default:
		return engine.ErrInvalidCondition().WithDetail("kind", string(cond.Kind))
	}
}

// ============================================================================
// Conversations
// ============================================================================

// GetConversation returns one conversation by ID.
// GET /api/v1/conversations/:conversationId
func (h *EngineHandler) GetConversation(c *fiber.Ctx) error {
	conv, err := h.convs.FindByID(c.Context(), kernel.NewConversationID(c.Params("conversationId")))
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

// GetOpenConversation returns a contact's open conversation.
// GET /api/v1/contacts/:contactId/conversation
func (h *EngineHandler) GetOpenConversation(c *fiber.Ctx) error {
	conv, err := h.convs.FindOpenByContact(c.Context(), kernel.NewContactID(c.Params("contactId")))
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

// ListConversations returns a page of conversations with optional filters.
// GET /api/v1/conversations
func (h *EngineHandler) ListConversations(c *fiber.Ctx) error {
	req := engine.ConversationListRequest{
		FlowID: kernel.NewFlowID(c.Query("flow_id")),
		Status: engine.ConversationStatus(c.Query("status")),
	}
	req.Page = parseIntQuery(c, "page", 1)
	req.PageSize = parseIntQuery(c, "page_size", 20)

	resp, err := h.convs.List(c.Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// GetTrail returns a conversation's transition history in order.
// GET /api/v1/conversations/:conversationId/trail
func (h *EngineHandler) GetTrail(c *fiber.Ctx) error {
	entries, err := h.trail.ListByConversation(c.Context(), kernel.NewConversationID(c.Params("conversationId")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"trail": entries, "count": len(entries)})
}

// ClearHandover returns a handed-over conversation to automated control.
// POST /api/v1/conversations/:conversationId/handover/clear
func (h *EngineHandler) ClearHandover(c *fiber.Ctx) error {
	conv, err := h.manager.ClearHandover(c.Context(), kernel.NewConversationID(c.Params("conversationId")))
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

// ============================================================================
// Helpers
// ============================================================================

func parseIntQuery(c *fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
