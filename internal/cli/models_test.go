package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelsList(t *testing.T) {
	out, err := execute(t, "models")
	require.NoError(t, err)
	assert.Equal(t, "clock\ncounter\neditor\ntodos\n", out)
}

func TestModelsShowManifest(t *testing.T) {
	out, err := execute(t, "models", "counter")
	require.NoError(t, err)
	assert.Contains(t, out, "model: counter:")
	assert.Contains(t, out, `"counter.incrementAsync"`)

	out, err = execute(t, "models", "todos", "--format", "json")
	require.NoError(t, err)
	resp := decode[map[string]string](t, out)
	assert.Equal(t, "todos", resp.Data["name"])
	assert.Contains(t, resp.Data["manifest"], "model: todos:")
}

func TestModelsUnknown(t *testing.T) {
	out, err := execute(t, "models", "nope", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decode[any](t, out)
	assert.Equal(t, "E_UNKNOWN_MODEL", resp.Error.Code)
}
