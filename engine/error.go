package engine

import (
	"net/http"

	"github.com/Abraxas-365/craftable/errx"
)

var ErrRegistry = errx.NewRegistry("ENGINE")

var (
	// Flow errors
	CodeFlowNotFound          = ErrRegistry.Register("FLOW_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Flow not found")
	CodeInvalidFlowDefinition = ErrRegistry.Register("INVALID_FLOW_DEFINITION", errx.TypeValidation, http.StatusBadRequest, "Invalid flow definition")
	CodeFlowInactive          = ErrRegistry.Register("FLOW_INACTIVE", errx.TypeBusiness, http.StatusForbidden, "Flow is inactive")
	CodeNoMatchingFlow        = ErrRegistry.Register("NO_MATCHING_FLOW", errx.TypeBusiness, http.StatusNotFound, "No flow matches the trigger")

	// Step / config errors
	CodeStepNotFound      = ErrRegistry.Register("STEP_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Step not found")
	CodeInvalidStepConfig = ErrRegistry.Register("INVALID_STEP_CONFIG", errx.TypeValidation, http.StatusBadRequest, "Invalid step configuration")
	CodeInvalidCondition  = ErrRegistry.Register("INVALID_CONDITION", errx.TypeValidation, http.StatusBadRequest, "Invalid condition configuration")
	CodeInvalidAction     = ErrRegistry.Register("INVALID_ACTION", errx.TypeValidation, http.StatusBadRequest, "Invalid action configuration")

	// Execution errors
	CodeStepLimitExceeded = ErrRegistry.Register("STEP_LIMIT_EXCEEDED", errx.TypeInternal, http.StatusInternalServerError, "Step chain limit exceeded")
	CodeInvalidEvent      = ErrRegistry.Register("INVALID_EVENT", errx.TypeValidation, http.StatusBadRequest, "Invalid inbound event")

	// Conversation errors
	CodeConversationNotFound = ErrRegistry.Register("CONVERSATION_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Conversation not found")
	CodeConversationLocked   = ErrRegistry.Register("CONVERSATION_LOCKED", errx.TypeConflict, http.StatusConflict, "Conversation is locked by another event")
)

func ErrFlowNotFound() *errx.Error {
	return ErrRegistry.New(CodeFlowNotFound)
}

func ErrInvalidFlowDefinition() *errx.Error {
	return ErrRegistry.New(CodeInvalidFlowDefinition)
}

func ErrFlowInactive() *errx.Error {
	return ErrRegistry.New(CodeFlowInactive)
}

func ErrNoMatchingFlow() *errx.Error {
	return ErrRegistry.New(CodeNoMatchingFlow)
}

func ErrStepNotFound() *errx.Error {
	return ErrRegistry.New(CodeStepNotFound)
}

func ErrInvalidStepConfig() *errx.Error {
	return ErrRegistry.New(CodeInvalidStepConfig)
}

func ErrInvalidCondition() *errx.Error {
	return ErrRegistry.New(CodeInvalidCondition)
}

func ErrInvalidAction() *errx.Error {
	return ErrRegistry.New(CodeInvalidAction)
}

func ErrStepLimitExceeded() *errx.Error {
	return ErrRegistry.New(CodeStepLimitExceeded)
}

func ErrInvalidEvent() *errx.Error {
	return ErrRegistry.New(CodeInvalidEvent)
}

func ErrConversationNotFound() *errx.Error {
	return ErrRegistry.New(CodeConversationNotFound)
}

func ErrConversationLocked() *errx.Error {
	return ErrRegistry.New(CodeConversationLocked)
}
