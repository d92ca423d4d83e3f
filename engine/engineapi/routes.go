package engineapi

import (
	"github.com/gofiber/fiber/v2"
)

type EngineRoutes struct {
	handler *EngineHandler
}

func NewEngineRoutes(handler *EngineHandler) *EngineRoutes {
	return &EngineRoutes{
		handler: handler,
	}
}

func (r *EngineRoutes) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/v1")

	// Event ingestion
	api.Post("/events", r.handler.ProcessEvent)

	// Flow authoring
	flows := api.Group("/flows")
	flows.Post("/", r.handler.SaveFlow)
	flows.Get("/", r.handler.ListFlows)
	flows.Post("/validate", r.handler.ValidateFlow)
	flows.Get("/:flowId", r.handler.GetFlow)
	flows.Delete("/:flowId", r.handler.DeleteFlow)
	flows.Post("/:flowId/activate", r.handler.ActivateFlow)
	flows.Post("/:flowId/deactivate", r.handler.DeactivateFlow)

	// Conversation inspection
	conversations := api.Group("/conversations")
	conversations.Get("/", r.handler.ListConversations)
	conversations.Get("/:conversationId", r.handler.GetConversation)
	conversations.Get("/:conversationId/trail", r.handler.GetTrail)
	conversations.Post("/:conversationId/handover/clear", r.handler.ClearHandover)

	api.Get("/contacts/:contactId/conversation", r.handler.GetOpenConversation)
}
