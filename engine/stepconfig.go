package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ============================================================================
// Step Config Interface
// ============================================================================

// StepConfig is implemented by every step kind's typed configuration.
type StepConfig interface {
	Validate() error
	GetKind() StepKind
}

// decodeConfig extracts a typed config from a free-form document via a JSON
// round trip.
func decodeConfig[T any](config map[string]any) (*T, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var typed T
	if err := json.Unmarshal(data, &typed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &typed, nil
}

// ============================================================================
// Message Payload Config
// ============================================================================

// MessagePayloadConfig is the authored (unrendered) form of an outbound
// payload: text may hold {{variable.path}} templates and media is referenced
// by asset ID, resolved to a URL at render time.
type MessagePayloadConfig struct {
	Type        PayloadType        `json:"type"`
	Text        string             `json:"text,omitempty"`
	AssetID     string             `json:"asset_id,omitempty"`
	Caption     string             `json:"caption,omitempty"`
	Interactive *InteractiveConfig `json:"interactive,omitempty"`
}

// InteractiveConfig is the authored form of a button/list prompt.
type InteractiveConfig struct {
	Body    string              `json:"body"`
	Options []InteractiveOption `json:"options"`
}

func (c MessagePayloadConfig) Validate() error {
	switch c.Type {
	case PayloadTypeText:
		if c.Text == "" {
			return ErrInvalidStepConfig().WithDetail("reason", "text is required for text payloads")
		}
	case PayloadTypeImage, PayloadTypeDocument:
		if c.AssetID == "" {
			return ErrInvalidStepConfig().WithDetail("reason", "asset_id is required for media payloads")
		}
	case PayloadTypeInteractive:
		if c.Interactive == nil || c.Interactive.Body == "" {
			return ErrInvalidStepConfig().WithDetail("reason", "interactive body is required")
		}
		if len(c.Interactive.Options) == 0 {
			return ErrInvalidStepConfig().WithDetail("reason", "interactive payloads need at least one option")
		}
		for _, opt := range c.Interactive.Options {
			if opt.ID == "" {
				return ErrInvalidStepConfig().WithDetail("reason", "interactive option has no ID")
			}
		}
	default:
		return ErrInvalidStepConfig().WithDetail("payload_type", string(c.Type)).
			WithDetail("reason", "unknown payload type")
	}
	return nil
}

// ============================================================================
// Send Message Config
// ============================================================================

type SendMessageConfig struct {
	Message MessagePayloadConfig `json:"message"`
}

func (c SendMessageConfig) Validate() error {
	return c.Message.Validate()
}

func (c SendMessageConfig) GetKind() StepKind { return StepKindSendMessage }

// ============================================================================
// Question Config
// ============================================================================

// ReplyExpectation validates and captures a contact's reply to a question.
type ReplyExpectation struct {
	// ExpectedType is text, email or number. Empty defaults to text.
	ExpectedType string `json:"expected_type,omitempty"`

	// Pattern is an optional regular expression the reply must match.
	Pattern string `json:"pattern,omitempty"`

	// SaveTo is the variable-store path the validated reply is written to.
	SaveTo string `json:"save_to"`

	// RetryMessage is sent on an invalid reply instead of re-sending the
	// full prompt. Optional.
	RetryMessage string `json:"retry_message,omitempty"`

	// Numeric constraints, applied when ExpectedType is number.
	MinValue     *float64 `json:"min_value,omitempty"`
	MaxValue     *float64 `json:"max_value,omitempty"`
	AllowDecimal bool     `json:"allow_decimal,omitempty"`

	// HandoverStepID routes the conversation to a human_handover step once
	// the retry budget is exhausted. Optional; without it the conversation
	// keeps waiting at the question.
	HandoverStepID string `json:"handover_step_id,omitempty"`
}

const (
	ReplyTypeText   = "text"
	ReplyTypeEmail  = "email"
	ReplyTypeNumber = "number"
)

type QuestionConfig struct {
	Message MessagePayloadConfig `json:"message"`
	Reply   ReplyExpectation     `json:"reply"`
}

func (c QuestionConfig) Validate() error {
	if err := c.Message.Validate(); err != nil {
		return err
	}
	if c.Reply.SaveTo == "" {
		return ErrInvalidStepConfig().WithDetail("reason", "reply.save_to is required")
	}
	switch c.Reply.ExpectedType {
	case "", ReplyTypeText, ReplyTypeEmail, ReplyTypeNumber:
	default:
		return ErrInvalidStepConfig().
			WithDetail("expected_type", c.Reply.ExpectedType).
			WithDetail("reason", "unknown expected reply type")
	}
	if c.Reply.Pattern != "" {
		if _, err := regexp.Compile(c.Reply.Pattern); err != nil {
			return ErrInvalidStepConfig().
				WithDetail("pattern", c.Reply.Pattern).
				WithDetail("reason", "invalid reply pattern")
		}
	}
	return nil
}

func (c QuestionConfig) GetKind() StepKind { return StepKindQuestion }

// ============================================================================
// Action Step Config
// ============================================================================

type ActionStepConfig struct {
	Actions []Action `json:"actions"`
}

func (c ActionStepConfig) Validate() error {
	if len(c.Actions) == 0 {
		return ErrInvalidStepConfig().WithDetail("reason", "action steps need at least one action")
	}
	return nil
}

func (c ActionStepConfig) GetKind() StepKind { return StepKindAction }

// ============================================================================
// End Config
// ============================================================================

type EndConfig struct {
	// Message is an optional closing message.
	Message *MessagePayloadConfig `json:"message,omitempty"`
}

func (c EndConfig) Validate() error {
	if c.Message != nil {
		return c.Message.Validate()
	}
	return nil
}

func (c EndConfig) GetKind() StepKind { return StepKindEnd }

// ============================================================================
// Human Handover Config
// ============================================================================

type HandoverConfig struct {
	// Message is an optional "connecting you to a person" message.
	Message *MessagePayloadConfig `json:"message,omitempty"`

	// Note travels with the operator notification.
	Note string `json:"note,omitempty"`
}

func (c HandoverConfig) Validate() error {
	if c.Message != nil {
		return c.Message.Validate()
	}
	return nil
}

func (c HandoverConfig) GetKind() StepKind { return StepKindHumanHandover }

// ============================================================================
// Decoding
// ============================================================================

// DecodeStepConfig extracts the typed config for a step. Kinds without
// runtime configuration (start, condition) return nil.
func DecodeStepConfig(step Step) (StepConfig, error) {
	switch step.Kind {
	case StepKindStart, StepKindCondition:
		return nil, nil
	case StepKindSendMessage:
		cfg, err := decodeConfig[SendMessageConfig](step.Config)
		if err != nil {
			return nil, err
		}
		return *cfg, nil
	case StepKindQuestion:
		cfg, err := decodeConfig[QuestionConfig](step.Config)
		if err != nil {
			return nil, err
		}
		return *cfg, nil
	case StepKindAction:
		cfg, err := decodeConfig[ActionStepConfig](step.Config)
		if err != nil {
			return nil, err
		}
		return *cfg, nil
	case StepKindEnd:
		cfg, err := decodeConfig[EndConfig](step.Config)
		if err != nil {
			return nil, err
		}
		return *cfg, nil
	case StepKindHumanHandover:
		cfg, err := decodeConfig[HandoverConfig](step.Config)
		if err != nil {
			return nil, err
		}
		return *cfg, nil
	default:
		return nil, ErrInvalidStepConfig().
			WithDetail("kind", string(step.Kind)).
			WithDetail("reason", "unknown step kind")
	}
}

// ExtractSendMessageConfig decodes and validates a send_message config.
func ExtractSendMessageConfig(config map[string]any) (*SendMessageConfig, error) {
	cfg, err := decodeConfig[SendMessageConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractQuestionConfig decodes and validates a question config.
func ExtractQuestionConfig(config map[string]any) (*QuestionConfig, error) {
	cfg, err := decodeConfig[QuestionConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractActionStepConfig decodes and validates an action step config.
func ExtractActionStepConfig(config map[string]any) (*ActionStepConfig, error) {
	cfg, err := decodeConfig[ActionStepConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractEndConfig decodes and validates an end config.
func ExtractEndConfig(config map[string]any) (*EndConfig, error) {
	cfg, err := decodeConfig[EndConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractHandoverConfig decodes and validates a human_handover config.
func ExtractHandoverConfig(config map[string]any) (*HandoverConfig, error) {
	cfg, err := decodeConfig[HandoverConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ============================================================================
// Condition / Action Config Decoding
// ============================================================================

// ExtractKeywordCondition decodes a keyword condition config.
func ExtractKeywordCondition(config map[string]any) (*KeywordConditionConfig, error) {
	cfg, err := decodeConfig[KeywordConditionConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractInteractiveReplyCondition decodes an interactive reply condition config.
func ExtractInteractiveReplyCondition(config map[string]any) (*InteractiveReplyConfig, error) {
	cfg, err := decodeConfig[InteractiveReplyConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractVariableEqualsCondition decodes a variable_equals condition config.
func ExtractVariableEqualsCondition(config map[string]any) (*VariableEqualsConfig, error) {
	cfg, err := decodeConfig[VariableEqualsConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractNumberReplyCondition decodes a user_reply_is_number condition config.
func ExtractNumberReplyCondition(config map[string]any) (*NumberReplyConfig, error) {
	cfg, err := decodeConfig[NumberReplyConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractExpressionCondition decodes an expression condition config.
func ExtractExpressionCondition(config map[string]any) (*ExpressionConditionConfig, error) {
	cfg, err := decodeConfig[ExpressionConditionConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractSetVariableAction decodes a set_context_variable action config.
func ExtractSetVariableAction(config map[string]any) (*SetVariableConfig, error) {
	cfg, err := decodeConfig[SetVariableConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtractClearVariableAction decodes a clear_context_variable action config.
func ExtractClearVariableAction(config map[string]any) (*ClearVariableConfig, error) {
	cfg, err := decodeConfig[ClearVariableConfig](config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
