package actionrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/engine/render"
)

func newRunner() *Runner {
	return NewRunner(render.NewRenderer(nil))
}

func TestRun_SetVariable(t *testing.T) {
	runner := newRunner()

	actions := []engine.Action{
		{Kind: engine.ActionSetVariable, Config: map[string]any{
			"variable": "contact.tier", "value": "gold",
		}},
	}

	out, warnings := runner.Run(actions, engine.NewVariables())
	assert.Empty(t, warnings)

	value, ok := out.Get("contact.tier")
	require.True(t, ok)
	assert.Equal(t, "gold", value)
}

func TestRun_SetVariableRendersTemplate(t *testing.T) {
	runner := newRunner()

	vars := engine.NewVariables()
	require.NoError(t, vars.Set("contact.name", "Ana"))

	actions := []engine.Action{
		{Kind: engine.ActionSetVariable, Config: map[string]any{
			"variable": "greeting", "value": "Hello {{contact.name}}",
		}},
	}

	out, warnings := runner.Run(actions, vars)
	assert.Empty(t, warnings)
	assert.Equal(t, "Hello Ana", out.GetString("greeting"))
}

func TestRun_LaterActionsSeeEarlierWrites(t *testing.T) {
	runner := newRunner()

	actions := []engine.Action{
		{Kind: engine.ActionSetVariable, Config: map[string]any{
			"variable": "first", "value": "one",
		}},
		{Kind: engine.ActionSetVariable, Config: map[string]any{
			"variable": "second", "value": "{{first}}-two",
		}},
	}

	out, warnings := runner.Run(actions, engine.NewVariables())
	assert.Empty(t, warnings)
	assert.Equal(t, "one-two", out.GetString("second"))
}

func TestRun_ClearVariable(t *testing.T) {
	runner := newRunner()

	vars := engine.NewVariables()
	require.NoError(t, vars.Set("contact.email", "ana@example.com"))

	actions := []engine.Action{
		{Kind: engine.ActionClearVariable, Config: map[string]any{"variable": "contact.email"}},
	}

	out, warnings := runner.Run(actions, vars)
	assert.Empty(t, warnings)

	_, ok := out.Get("contact.email")
	assert.False(t, ok)
}

func TestRun_InputStoreNeverMutated(t *testing.T) {
	runner := newRunner()

	vars := engine.NewVariables()
	require.NoError(t, vars.Set("keep", "original"))

	actions := []engine.Action{
		{Kind: engine.ActionSetVariable, Config: map[string]any{"variable": "keep", "value": "changed"}},
		{Kind: engine.ActionSetVariable, Config: map[string]any{"variable": "new", "value": "x"}},
	}

	out, _ := runner.Run(actions, vars)

	assert.Equal(t, "changed", out.GetString("keep"))
	assert.Equal(t, "original", vars.GetString("keep"))
	_, ok := vars.Get("new")
	assert.False(t, ok)
}

func TestRun_BadActionWarnsAndContinues(t *testing.T) {
	runner := newRunner()

	actions := []engine.Action{
		// Missing the required variable name.
		{Kind: engine.ActionSetVariable, Config: map[string]any{"value": "x"}},
		{Kind: engine.ActionSetVariable, Config: map[string]any{"variable": "ok", "value": "done"}},
	}

	out, warnings := runner.Run(actions, engine.NewVariables())
	assert.Len(t, warnings, 1)
	assert.Equal(t, "done", out.GetString("ok"))
}

func TestRun_UnknownActionKind(t *testing.T) {
	runner := newRunner()

	actions := []engine.Action{
		{Kind: "launch_rocket", Config: map[string]any{}},
	}

	_, warnings := runner.Run(actions, engine.NewVariables())
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "launch_rocket")
}
