package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "storeweave", cmd.Use)
	assert.Contains(t, cmd.Long, "STOREWEAVE_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"compile", "validate", "models", "run", "dispatch", "test", "sessions", "trace", "replay"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	levelFlag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, levelFlag)
	assert.Equal(t, "warn", levelFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flags   []string
	}{
		{"compile", []string{"models", "output"}},
		{"run", []string{"models", "dispatch", "duration", "metrics-addr", "label", "tick"}},
		{"dispatch", []string{"models", "payload", "wait-for", "timeout"}},
		{"test", []string{"update", "filter"}},
		{"trace", []string{"namespace", "type"}},
		{"replay", []string{"models", "manifests"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sub, _, err := NewRootCommand().Find([]string{tt.command})
			require.NoError(t, err)
			for _, name := range tt.flags {
				assert.NotNil(t, sub.Flags().Lookup(name), "flag --%s", name)
			}
		})
	}
}

func TestCommandHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "storeweave")
	assert.Contains(t, out, "replay")
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, "models", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel(&RootOptions{LogLevel: "info"})
	require.NoError(t, err)
	assert.Equal(t, "INFO", level.String())

	level, err = parseLevel(&RootOptions{LogLevel: "error", Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", level.String(), "verbose forces debug")

	_, err = parseLevel(&RootOptions{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storeweave.yaml")
	require.NoError(t, os.WriteFile(path, []byte("format: json\nlog_level: error\n"), 0o644))

	out, err := execute(t, "models", "--config", path)
	require.NoError(t, err)

	resp := decode[map[string][]string](t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Contains(t, resp.Data["models"], "counter")
}

func TestConfigFlagOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storeweave.yaml")
	require.NoError(t, os.WriteFile(path, []byte("format: json\n"), 0o644))

	out, err := execute(t, "models", "--config", path, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "counter\n")
	assert.NotContains(t, out, `"status"`)
}

func TestConfigMissingExplicitFile(t *testing.T) {
	_, err := execute(t, "models", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("STOREWEAVE_FORMAT", "json")

	out, err := execute(t, "models")
	require.NoError(t, err)
	assert.Equal(t, "ok", decode[map[string]any](t, out).Status)
}

func TestRequireJournal(t *testing.T) {
	err := requireJournal(&RootOptions{})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	assert.NoError(t, requireJournal(&RootOptions{Journal: "x.db"}))
}
