// Package stepexec is the engine's state machine: it performs each step
// kind's entry behavior, handles replies to blocking question steps, and
// drives the per-event execution loop until a halting state is reached.
package stepexec

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/engine/actionrun"
	"github.com/kanalhq/kanal/engine/condeval"
	"github.com/kanalhq/kanal/engine/render"
	"github.com/kanalhq/kanal/engine/transition"
	"github.com/kanalhq/kanal/pkg/kernel"
)

// Config tunes the executor.
type Config struct {
	// MaxStepChain caps entered steps per inbound event, guarding against
	// cyclic flow graphs. Default: 25.
	MaxStepChain int

	// MaxReplyAttempts caps re-prompts for an invalid question reply before
	// the handover fallback. 0 means unlimited. Default: 3.
	MaxReplyAttempts int
}

type Executor struct {
	renderer         *render.Renderer
	selector         *transition.Selector
	actions          *actionrun.Runner
	maxStepChain     int
	maxReplyAttempts int
}

func NewExecutor(
	renderer *render.Renderer,
	selector *transition.Selector,
	actions *actionrun.Runner,
	config *Config,
) *Executor {
	if config == nil {
		config = &Config{}
	}
	if config.MaxStepChain == 0 {
		config.MaxStepChain = 25
	}
	if config.MaxReplyAttempts == 0 {
		config.MaxReplyAttempts = 3
	}

	return &Executor{
		renderer:         renderer,
		selector:         selector,
		actions:          actions,
		maxStepChain:     config.MaxStepChain,
		maxReplyAttempts: config.MaxReplyAttempts,
	}
}

// ============================================================================
// Entry Points
// ============================================================================

// Execute runs a freshly created conversation, starting with the entry
// behavior of its current (entry point) step.
func (e *Executor) Execute(ctx context.Context, flow *engine.Flow, conv *engine.Conversation, event engine.InboundEvent) (*engine.ExecutionResult, error) {
	log.Printf("🚀 Starting conversation %s on flow %s at step %s",
		conv.ID, flow.Name, conv.CurrentStepID)

	result := newResult(flow, conv)
	return e.runChain(ctx, flow, conv, event, result, true)
}

// Resume processes an inbound event for an existing conversation: the
// pending question's reply handling when one is outstanding, then transition
// selection from the current step.
func (e *Executor) Resume(ctx context.Context, flow *engine.Flow, conv *engine.Conversation, event engine.InboundEvent) (*engine.ExecutionResult, error) {
	result := newResult(flow, conv)

	if conv.IsTerminated() {
		result.Halt = engine.HaltCompleted
		return finalize(result, conv), nil
	}
	if conv.IsHandedOver() {
		// Automation stays silent until the handover flag is cleared.
		result.Halt = engine.HaltHandover
		return finalize(result, conv), nil
	}

	if conv.IsAwaitingReply() {
		outcome := e.handleReply(ctx, flow, conv, event, result)
		switch outcome {
		case replyHalted:
			return finalize(result, conv), nil
		case replyEnter:
			return e.runChain(ctx, flow, conv, event, result, true)
		}
		// Reply captured; fall through to transition selection.
	}

	return e.runChain(ctx, flow, conv, event, result, false)
}

// ============================================================================
// Execution Loop
// ============================================================================

// runChain drives the step loop. When enterFirst is set the current step's
// entry behavior runs before the first transition selection. The loop stops
// at a halting step, a stall, or the step-chain cap; the cap is fatal for
// the event and nothing from it may be persisted.
func (e *Executor) runChain(ctx context.Context, flow *engine.Flow, conv *engine.Conversation, event engine.InboundEvent, result *engine.ExecutionResult, enterFirst bool) (*engine.ExecutionResult, error) {
	enter := enterFirst

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if enter {
			result.StepsExecuted++
			if result.StepsExecuted > e.maxStepChain {
				return nil, engine.ErrStepLimitExceeded().
					WithDetail("flow_id", flow.ID.String()).
					WithDetail("conversation_id", conv.ID.String()).
					WithDetail("limit", strconv.Itoa(e.maxStepChain))
			}

			halt := e.enterStep(ctx, flow, conv, result)
			if halt != "" {
				result.Halt = halt
				return finalize(result, conv), nil
			}
		}
		enter = true

		next, warnings := e.selector.Select(flow, conv.CurrentStepID, event, conv.Variables)
		result.Warnings = append(result.Warnings, warnings...)
		if next == nil {
			// Parked: no outgoing condition matched. Reportable, not fatal.
			result.Halt = engine.HaltStalled
			return finalize(result, conv), nil
		}

		result.Trail = append(result.Trail, engine.TrailEntry{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			FlowID:         flow.ID,
			FromStepID:     next.FromStepID,
			ToStepID:       next.ToStepID,
			TransitionID:   next.ID,
			Timestamp:      time.Now(),
		})
		conv.MoveTo(next.ToStepID)
	}
}

// enterStep performs one step's entry behavior. Configuration problems are
// recovered as warnings; the step is treated as a no-op and the loop keeps
// going. A non-empty return is a halting state.
func (e *Executor) enterStep(ctx context.Context, flow *engine.Flow, conv *engine.Conversation, result *engine.ExecutionResult) engine.HaltReason {
	step := flow.GetStepByID(conv.CurrentStepID)
	if step == nil {
		result.Warn(fmt.Sprintf("step %s not found in flow %s; conversation parked", conv.CurrentStepID, flow.ID))
		return engine.HaltStalled
	}

	switch step.Kind {
	case engine.StepKindStart, engine.StepKindCondition:
		// No runtime behavior; these exist to anchor transitions.
		return ""

	case engine.StepKindSendMessage:
		cfg, err := engine.ExtractSendMessageConfig(step.Config)
		if err != nil {
			result.Warn(fmt.Sprintf("step %s: %v", step.ID, err))
			return ""
		}
		e.emitPayload(ctx, conv, cfg.Message, result, step.ID)
		return ""

	case engine.StepKindQuestion:
		cfg, err := engine.ExtractQuestionConfig(step.Config)
		if err != nil {
			result.Warn(fmt.Sprintf("step %s: %v", step.ID, err))
			return ""
		}
		e.emitPayload(ctx, conv, cfg.Message, result, step.ID)
		conv.AwaitReply(step.ID)
		return engine.HaltAwaitingReply

	case engine.StepKindAction:
		cfg, err := engine.ExtractActionStepConfig(step.Config)
		if err != nil {
			result.Warn(fmt.Sprintf("step %s: %v", step.ID, err))
			return ""
		}
		updated, warnings := e.actions.Run(cfg.Actions, conv.Variables)
		result.Warnings = append(result.Warnings, warnings...)
		conv.Variables = updated
		return ""

	case engine.StepKindEnd:
		cfg, err := engine.ExtractEndConfig(step.Config)
		if err != nil {
			result.Warn(fmt.Sprintf("step %s: %v", step.ID, err))
		} else if cfg.Message != nil {
			e.emitPayload(ctx, conv, *cfg.Message, result, step.ID)
		}
		conv.Complete()
		return engine.HaltCompleted

	case engine.StepKindHumanHandover:
		cfg, err := engine.ExtractHandoverConfig(step.Config)
		note := ""
		if err != nil {
			result.Warn(fmt.Sprintf("step %s: %v", step.ID, err))
		} else {
			note = cfg.Note
			if cfg.Message != nil {
				e.emitPayload(ctx, conv, *cfg.Message, result, step.ID)
			}
		}
		result.Handover = &engine.HandoverNotice{
			ContactID:      conv.ContactID,
			ConversationID: conv.ID,
			Note:           note,
		}
		conv.Handover()
		return engine.HaltHandover

	default:
		result.Warn(fmt.Sprintf("step %s: unknown step kind %q", step.ID, step.Kind))
		return ""
	}
}

// ============================================================================
// Reply Handling
// ============================================================================

type replyOutcome int

const (
	// replyProceed: reply captured, run transition selection.
	replyProceed replyOutcome = iota
	// replyHalted: result is final (re-prompt or silent wait).
	replyHalted
	// replyEnter: pointer moved (handover fallback); enter current step.
	replyEnter
)

func (e *Executor) handleReply(ctx context.Context, flow *engine.Flow, conv *engine.Conversation, event engine.InboundEvent, result *engine.ExecutionResult) replyOutcome {
	step := flow.GetStepByID(conv.PendingReply.StepID)
	if step == nil || step.Kind != engine.StepKindQuestion {
		// The definition changed under a live conversation. Drop the marker
		// and let transition selection decide what happens next.
		result.Warn(fmt.Sprintf("pending reply step %s no longer a question; marker dropped", conv.PendingReply.StepID))
		conv.ClearPendingReply()
		return replyProceed
	}

	cfg, err := engine.ExtractQuestionConfig(step.Config)
	if err != nil {
		result.Warn(fmt.Sprintf("step %s: %v", step.ID, err))
		conv.ClearPendingReply()
		return replyProceed
	}

	if event.Kind == engine.EventKindTimeout {
		result.Warn(fmt.Sprintf("step %s: reply timed out", step.ID))
		return e.failPending(flow, conv, cfg, result)
	}

	value, valid, warnings := validateReply(event, cfg.Reply)
	result.Warnings = append(result.Warnings, warnings...)

	if !valid {
		// The invalid value is never written; the pointer does not move.
		conv.PendingReply.Attempts++
		if e.maxReplyAttempts > 0 && conv.PendingReply.Attempts >= e.maxReplyAttempts {
			result.Warn(fmt.Sprintf("step %s: reply attempts exhausted", step.ID))
			return e.failPending(flow, conv, cfg, result)
		}
		e.reprompt(ctx, conv, cfg, result, step.ID)
		result.Halt = engine.HaltAwaitingReply
		return replyHalted
	}

	if err := conv.Variables.Set(cfg.Reply.SaveTo, value); err != nil {
		result.Warn(fmt.Sprintf("step %s: %v", step.ID, err))
	}
	// Record the validation outcome alongside the captured value so
	// downstream variable_equals guards can branch on it.
	if err := conv.Variables.Set(cfg.Reply.SaveTo+"_valid", true); err != nil {
		result.Warn(fmt.Sprintf("step %s: %v", step.ID, err))
	}
	conv.ClearPendingReply()
	return replyProceed
}

// failPending routes an exhausted or timed-out question to its configured
// handover step, or leaves the conversation silently waiting when none is
// configured.
func (e *Executor) failPending(flow *engine.Flow, conv *engine.Conversation, cfg *engine.QuestionConfig, result *engine.ExecutionResult) replyOutcome {
	if cfg.Reply.HandoverStepID != "" {
		target := flow.GetStepByID(kernel.StepID(cfg.Reply.HandoverStepID))
		if target != nil {
			conv.ClearPendingReply()
			conv.MoveTo(target.ID)
			return replyEnter
		}
		result.Warn(fmt.Sprintf("handover step %s not found in flow %s", cfg.Reply.HandoverStepID, flow.ID))
	}
	result.Halt = engine.HaltAwaitingReply
	return replyHalted
}

// reprompt re-presents the question: the configured retry message when one
// exists, otherwise the original prompt.
func (e *Executor) reprompt(ctx context.Context, conv *engine.Conversation, cfg *engine.QuestionConfig, result *engine.ExecutionResult, stepID kernel.StepID) {
	if cfg.Reply.RetryMessage != "" {
		text, warnings := e.renderer.RenderString(cfg.Reply.RetryMessage, conv.Variables)
		result.Warnings = append(result.Warnings, warnings...)
		e.emit(conv, engine.MessagePayload{Type: engine.PayloadTypeText, Text: text}, result)
		return
	}
	e.emitPayload(ctx, conv, cfg.Message, result, stepID)
}

// ============================================================================
// Helpers
// ============================================================================

func (e *Executor) emitPayload(ctx context.Context, conv *engine.Conversation, cfg engine.MessagePayloadConfig, result *engine.ExecutionResult, stepID kernel.StepID) {
	payload, warnings, err := e.renderer.RenderPayload(ctx, cfg, conv.Variables)
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		result.Warn(fmt.Sprintf("step %s: message skipped: %v", stepID, err))
		return
	}
	e.emit(conv, payload, result)
}

func (e *Executor) emit(conv *engine.Conversation, payload engine.MessagePayload, result *engine.ExecutionResult) {
	result.Outbound = append(result.Outbound, engine.OutboundMessage{
		ID:             kernel.NewMessageID(uuid.New().String()),
		ContactID:      conv.ContactID,
		ConversationID: conv.ID,
		Payload:        payload,
		CreatedAt:      time.Now(),
	})
}

// validateReply checks an inbound reply against a question's expectation and
// returns the value to capture. Invalid configuration (a broken pattern)
// degrades to a warning, never to a rejected reply.
func validateReply(event engine.InboundEvent, reply engine.ReplyExpectation) (any, bool, []string) {
	var warnings []string

	text := strings.TrimSpace(event.ReplyText())
	if text == "" {
		return nil, false, warnings
	}

	var value any = text

	switch reply.ExpectedType {
	case "", engine.ReplyTypeText:
	case engine.ReplyTypeEmail:
		if !condeval.IsEmail(text) {
			return nil, false, warnings
		}
	case engine.ReplyTypeNumber:
		parsed, ok := condeval.ParseNumber(text, reply.AllowDecimal, reply.MinValue, reply.MaxValue)
		if !ok {
			return nil, false, warnings
		}
		value = parsed
	default:
		warnings = append(warnings, fmt.Sprintf("unknown expected reply type %q; reply accepted as text", reply.ExpectedType))
	}

	if reply.Pattern != "" {
		re, err := regexp.Compile(reply.Pattern)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid reply pattern %q; pattern check skipped", reply.Pattern))
		} else if !re.MatchString(text) {
			return nil, false, warnings
		}
	}

	return value, true, warnings
}

func newResult(flow *engine.Flow, conv *engine.Conversation) *engine.ExecutionResult {
	return &engine.ExecutionResult{
		ConversationID: conv.ID,
		FlowID:         flow.ID,
	}
}

func finalize(result *engine.ExecutionResult, conv *engine.Conversation) *engine.ExecutionResult {
	result.CurrentStepID = conv.CurrentStepID
	return result
}
