package engine

import (
	"github.com/Abraxas-365/craftable/storex"

	"github.com/kanalhq/kanal/pkg/kernel"
)

// ============================================================================
// Event DTOs
// ============================================================================

type ProcessEventRequest struct {
	ContactID kernel.ContactID `json:"contact_id" validate:"required"`
	Kind      EventKind        `json:"kind" validate:"required"`
	Text      string           `json:"text,omitempty"`
	ReplyID   string           `json:"reply_id,omitempty"`
	MediaURL  string           `json:"media_url,omitempty"`
}

// ============================================================================
// Flow DTOs
// ============================================================================

type FlowListRequest struct {
	storex.PaginationOptions
	IsActive *bool  `json:"is_active,omitempty"`
	Search   string `json:"search,omitempty"`
}

func (r FlowListRequest) GetOffset() int {
	return (r.Page - 1) * r.PageSize
}

type FlowListResponse = storex.Paginated[Flow]

type ValidateFlowResponse struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ============================================================================
// Conversation DTOs
// ============================================================================

type ConversationListRequest struct {
	storex.PaginationOptions
	FlowID kernel.FlowID      `json:"flow_id,omitempty"`
	Status ConversationStatus `json:"status,omitempty"`
}

func (r ConversationListRequest) GetOffset() int {
	return (r.Page - 1) * r.PageSize
}

type ConversationListResponse = storex.Paginated[Conversation]
