// Package ctl implements arcactl, the command line tool for inspecting
// and editing configuration trees managed by arca.
package ctl

import (
	"fmt"
	"io"

	"github.com/kart-io/arca/pkg/infra/app"
	"github.com/kart-io/arca/pkg/server"
	"github.com/kart-io/arca/pkg/utils/json"
	"github.com/kart-io/logger"
)

const (
	appName        = "arcactl"
	appDescription = `Arca Configuration Tool

arcactl reads and edits the configuration tree arca manages for a
domain. Every mutation goes through the same server embedding
applications use, so persistence, caching, and change notification
behave exactly as they do in process.`
)

// NewApp creates a new application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithShortDescription("Inspect and edit arca configuration"),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithSubCommands(
			newGetCommand(opts),
			newPutCommand(opts),
			newDelCommand(opts),
			newReloadCommand(opts),
			newWatchCommand(opts),
			newLocationCommand(opts),
		),
	)
}

// newServer initializes logging and builds a config server from the
// shared options. Callers own the returned server and must Close it.
func newServer(opts *Options) (*server.Server, error) {
	opts.Log.AddInitialField("app", appName)
	if err := opts.Log.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	srv, err := server.New(opts.Domain,
		server.WithLocation(opts.Dir, opts.File),
		server.WithPollInterval(opts.PollInterval),
	)
	if err != nil {
		return nil, err
	}

	if opts.ApplyEnv {
		if applied := srv.ApplyEnvOverrides(); len(applied) > 0 {
			logger.Debugw("Applied environment overrides", "count", len(applied))
		}
	}

	return srv, nil
}

// printJSON writes a value as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
