// Package render substitutes {{variable.path}} templates and resolves media
// references when turning authored message configs into outbound payloads.
package render

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/pkg/kernel"
)

// Renderer renders authored message configs against a variable store.
type Renderer struct {
	media         engine.MediaResolver
	templateRegex *regexp.Regexp
}

// NewRenderer creates a renderer. media may be nil when the deployment has
// no asset store; media payloads then fail with a config warning.
func NewRenderer(media engine.MediaResolver) *Renderer {
	return &Renderer{
		media:         media,
		templateRegex: regexp.MustCompile(`\{\{([^}]+)\}\}`),
	}
}

// RenderString substitutes every {{path}} reference with the value at that
// dotted path in the store. Missing paths render as the empty string and are
// reported as warnings, never as failures.
func (r *Renderer) RenderString(input string, vars engine.Variables) (string, []string) {
	var warnings []string

	rendered := r.templateRegex.ReplaceAllStringFunc(input, func(match string) string {
		path := strings.TrimSpace(r.templateRegex.FindStringSubmatch(match)[1])
		if path == "" {
			warnings = append(warnings, "empty template expression")
			return ""
		}
		value, ok := vars.Get(path)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("template references unknown variable %q", path))
			return ""
		}
		return stringify(value)
	})

	return rendered, warnings
}

// RenderPayload renders a full message config: templates substituted in all
// textual fields, asset references resolved to URLs. An unresolvable asset
// is an error; the caller decides whether to skip the message.
func (r *Renderer) RenderPayload(ctx context.Context, cfg engine.MessagePayloadConfig, vars engine.Variables) (engine.MessagePayload, []string, error) {
	var warnings []string

	payload := engine.MessagePayload{Type: cfg.Type}

	text, w := r.RenderString(cfg.Text, vars)
	warnings = append(warnings, w...)
	payload.Text = text

	caption, w := r.RenderString(cfg.Caption, vars)
	warnings = append(warnings, w...)
	payload.Caption = caption

	if cfg.AssetID != "" {
		if r.media == nil {
			return payload, warnings, engine.ErrInvalidStepConfig().
				WithDetail("asset_id", cfg.AssetID).
				WithDetail("reason", "no media resolver configured")
		}
		url, err := r.media.Resolve(ctx, kernel.AssetID(cfg.AssetID))
		if err != nil {
			return payload, warnings, engine.ErrInvalidStepConfig().
				WithDetail("asset_id", cfg.AssetID).
				WithDetail("reason", "asset could not be resolved").
				WithCause(err)
		}
		payload.MediaURL = url
	}

	if cfg.Interactive != nil {
		body, w := r.RenderString(cfg.Interactive.Body, vars)
		warnings = append(warnings, w...)

		options := make([]engine.InteractiveOption, 0, len(cfg.Interactive.Options))
		for _, opt := range cfg.Interactive.Options {
			title, w := r.RenderString(opt.Title, vars)
			warnings = append(warnings, w...)
			options = append(options, engine.InteractiveOption{ID: opt.ID, Title: title})
		}
		payload.Interactive = &engine.InteractivePayload{Body: body, Options: options}
	}

	return payload, warnings, nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integral values without
		// the trailing ".0".
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
