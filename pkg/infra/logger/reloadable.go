// Package logger keeps the process logger in sync with logger settings
// stored in a managed configuration tree.
package logger

import (
	"fmt"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/arca/pkg/keypath"
	logopts "github.com/kart-io/arca/pkg/options/logger"
	"github.com/kart-io/arca/pkg/tree"
)

// DefaultBranch is the tree branch logger settings are read from.
var DefaultBranch = keypath.Path{"log"}

// ReloadableLogger wraps logger options with hot reload capability.
// Registered as a tree callback on a config server, it reapplies the
// settings under its branch whenever the tree is reloaded, so log
// level and format changes take effect without a restart.
//
// Hot-reloadable settings: level, format, output-paths, development,
// disable-caller, disable-stacktrace.
type ReloadableLogger struct {
	mu     sync.Mutex
	opts   *logopts.Options
	branch keypath.Path
}

// NewReloadableLogger creates a reloadable logger manager around opts.
// A nil branch reads from DefaultBranch.
func NewReloadableLogger(opts *logopts.Options, branch keypath.Path) *ReloadableLogger {
	if branch.IsZero() {
		branch = DefaultBranch.Clone()
	}
	return &ReloadableLogger{opts: opts, branch: branch}
}

// Branch returns the tree branch settings are read from.
func (rl *ReloadableLogger) Branch() keypath.Path {
	return rl.branch.Clone()
}

// OnTreeChange applies the logger settings found in snapshot. It has
// the tree callback signature, so it can be registered directly:
//
//	srv.RegisterCallback("logger", rl.OnTreeChange)
//
// A snapshot without the branch leaves the logger untouched. Apply
// failures are logged and the previous configuration stays active.
func (rl *ReloadableLogger) OnTreeChange(snapshot map[string]any) {
	value, ok := tree.Get(snapshot, rl.branch)
	if !ok {
		return
	}
	section, ok := value.(map[string]any)
	if !ok {
		logger.Warnw("Logger settings branch is not a map",
			"branch", rl.branch.String(), "got", fmt.Sprintf("%T", value))
		return
	}
	if err := rl.Apply(section); err != nil {
		logger.Errorw("Failed to apply logger settings",
			"branch", rl.branch.String(), "error", err)
	}
}

// Apply validates and applies one settings section. On any validation
// or initialization failure the previous values are restored and the
// running logger is left untouched. Keys absent from the section keep
// their current values.
func (rl *ReloadableLogger) Apply(section map[string]any) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Keep the old values for rollback on error.
	oldLevel := rl.opts.Level
	oldFormat := rl.opts.Format
	oldDevelopment := rl.opts.Development
	oldDisableCaller := rl.opts.DisableCaller
	oldDisableStacktrace := rl.opts.DisableStacktrace
	oldOutputPaths := rl.opts.OutputPaths

	rollback := func() {
		rl.opts.Level = oldLevel
		rl.opts.Format = oldFormat
		rl.opts.Development = oldDevelopment
		rl.opts.DisableCaller = oldDisableCaller
		rl.opts.DisableStacktrace = oldDisableStacktrace
		rl.opts.OutputPaths = oldOutputPaths
	}

	rl.opts.Level = stringSetting(section, "level", oldLevel)
	rl.opts.Format = stringSetting(section, "format", oldFormat)
	rl.opts.Development = boolSetting(section, "development", oldDevelopment)
	rl.opts.DisableCaller = boolSetting(section, "disable-caller", oldDisableCaller)
	rl.opts.DisableStacktrace = boolSetting(section, "disable-stacktrace", oldDisableStacktrace)
	rl.opts.OutputPaths = stringSliceSetting(section, "output-paths", oldOutputPaths)

	if err := rl.opts.Validate(); err != nil {
		rollback()
		return fmt.Errorf("invalid logger configuration: %w", err)
	}

	if err := rl.opts.Init(); err != nil {
		rollback()
		return fmt.Errorf("failed to reinitialize logger: %w", err)
	}

	logger.Infow("Logger configuration reloaded",
		"level", rl.opts.Level, "format", rl.opts.Format)

	return nil
}

func stringSetting(section map[string]any, key, current string) string {
	if v, ok := section[key].(string); ok {
		return v
	}
	return current
}

func boolSetting(section map[string]any, key string, current bool) bool {
	if v, ok := section[key].(bool); ok {
		return v
	}
	return current
}

// stringSliceSetting accepts both decoded JSON arrays and values put
// directly as []string.
func stringSliceSetting(section map[string]any, key string, current []string) []string {
	switch v := section[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return current
			}
			out = append(out, s)
		}
		return out
	default:
		return current
	}
}
