package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/arca/pkg/keypath"
	logopts "github.com/kart-io/arca/pkg/options/logger"
)

func newTestOptions() *logopts.Options {
	opts := logopts.NewOptions()
	opts.OutputPaths = []string{"stderr"}
	return opts
}

func TestNewReloadableLoggerDefaultBranch(t *testing.T) {
	rl := NewReloadableLogger(newTestOptions(), nil)
	assert.True(t, rl.Branch().Equal(DefaultBranch))

	custom := keypath.Parse("logging.sinks")
	rl = NewReloadableLogger(newTestOptions(), custom)
	assert.True(t, rl.Branch().Equal(custom))
}

func TestApplyUpdatesSettings(t *testing.T) {
	opts := newTestOptions()
	rl := NewReloadableLogger(opts, nil)

	err := rl.Apply(map[string]any{
		"level":  "ERROR",
		"format": "json",
	})
	require.NoError(t, err)
	assert.Equal(t, "ERROR", opts.Level)
	assert.Equal(t, "json", opts.Format)
}

func TestApplyKeepsAbsentAndMistypedKeys(t *testing.T) {
	opts := newTestOptions()
	before := *opts.LogOption
	rl := NewReloadableLogger(opts, nil)

	require.NoError(t, rl.Apply(map[string]any{
		"level":       123,
		"development": "yes",
	}))
	assert.Equal(t, before.Level, opts.Level)
	assert.Equal(t, before.Development, opts.Development)
}

func TestApplyCoercesOutputPaths(t *testing.T) {
	opts := newTestOptions()
	rl := NewReloadableLogger(opts, nil)

	require.NoError(t, rl.Apply(map[string]any{
		"output-paths": []any{"stderr", "stdout"},
	}))
	assert.Equal(t, []string{"stderr", "stdout"}, opts.OutputPaths)

	require.NoError(t, rl.Apply(map[string]any{
		"output-paths": []string{"stderr"},
	}))
	assert.Equal(t, []string{"stderr"}, opts.OutputPaths)

	// A mixed array is rejected and the previous value kept.
	require.NoError(t, rl.Apply(map[string]any{
		"output-paths": []any{"stderr", 42},
	}))
	assert.Equal(t, []string{"stderr"}, opts.OutputPaths)
}

func TestOnTreeChangeReadsBranch(t *testing.T) {
	opts := newTestOptions()
	rl := NewReloadableLogger(opts, nil)

	rl.OnTreeChange(map[string]any{
		"log": map[string]any{"level": "WARN"},
	})
	assert.Equal(t, "WARN", opts.Level)
}

func TestOnTreeChangeIgnoresMissingOrMistypedBranch(t *testing.T) {
	opts := newTestOptions()
	before := opts.Level
	rl := NewReloadableLogger(opts, nil)

	rl.OnTreeChange(map[string]any{"unrelated": true})
	assert.Equal(t, before, opts.Level)

	rl.OnTreeChange(map[string]any{"log": "not a map"})
	assert.Equal(t, before, opts.Level)
}

func TestOnTreeChangeCustomBranch(t *testing.T) {
	opts := newTestOptions()
	rl := NewReloadableLogger(opts, keypath.Parse("service.log"))

	rl.OnTreeChange(map[string]any{
		"service": map[string]any{
			"log": map[string]any{"level": "DEBUG"},
		},
	})
	assert.Equal(t, "DEBUG", opts.Level)
}
