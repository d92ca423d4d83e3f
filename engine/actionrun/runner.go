// Package actionrun executes a step's ordered action list against the
// variable store. Actions never send messages; a failed action produces a
// warning and the remaining actions still run.
package actionrun

import (
	"fmt"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/engine/render"
)

type Runner struct {
	renderer *render.Renderer
}

func NewRunner(renderer *render.Renderer) *Runner {
	return &Runner{renderer: renderer}
}

// Run applies the actions in list order to a copy of the store and returns
// the updated copy plus any warnings. The input store is never mutated;
// committing the result is the caller's decision.
func (r *Runner) Run(actions []engine.Action, vars engine.Variables) (engine.Variables, []string) {
	out := vars.Clone()
	var warnings []string

	for i, action := range actions {
		switch action.Kind {
		case engine.ActionSetVariable:
			cfg, err := engine.ExtractSetVariableAction(action.Config)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("action %d (%s): %v", i, action.Kind, err))
				continue
			}
			// Templates see mutations made by earlier actions in the list.
			value, w := r.renderer.RenderString(cfg.Value, out)
			warnings = append(warnings, w...)
			if err := out.Set(cfg.Variable, value); err != nil {
				warnings = append(warnings, fmt.Sprintf("action %d (%s): %v", i, action.Kind, err))
			}

		case engine.ActionClearVariable:
			cfg, err := engine.ExtractClearVariableAction(action.Config)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("action %d (%s): %v", i, action.Kind, err))
				continue
			}
			out.Delete(cfg.Variable)

		default:
			warnings = append(warnings, fmt.Sprintf("action %d: unknown action kind %q", i, action.Kind))
		}
	}

	return out, warnings
}
