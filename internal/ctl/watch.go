package ctl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cliapp "github.com/kart-io/arca/pkg/app"
	"github.com/kart-io/arca/pkg/keypath"
	"github.com/kart-io/arca/pkg/server"
	"github.com/kart-io/arca/pkg/tree"
	"github.com/spf13/cobra"
)

func newWatchCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [path]",
		Short: "Print the tree, or the value at a path, whenever the file changes",
		Long: `Print the tree, or the value at a path, whenever the file changes.

The current state is printed once, then the configuration file is
polled until interrupted. Each external change prints a fresh snapshot.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := newServer(opts)
			if err != nil {
				return err
			}
			defer srv.Close()

			var path keypath.Path
			if len(args) == 1 {
				path = keypath.Parse(args[0])
			}

			out := cmd.OutOrStdout()
			if err := printSnapshot(srv, path, out); err != nil {
				return err
			}

			// Snapshots arrive on pool goroutines. The mutex keeps two
			// rapid reloads from interleaving their output.
			var mu sync.Mutex
			srv.RegisterCallback("arcactl-watch", func(snapshot map[string]any) {
				mu.Lock()
				defer mu.Unlock()
				if path.IsZero() {
					_ = printJSON(out, snapshot)
					return
				}
				value, ok := tree.Get(snapshot, path)
				if !ok {
					fmt.Fprintf(out, "%s: not found\n", path)
					return
				}
				_ = printJSON(out, value)
			})

			srv.StartWatching()
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s watching %s (interval %s)\n",
				appName, cliapp.GetVersion(), srv.Location().Path(), opts.PollInterval)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			return nil
		},
	}
}

// printSnapshot prints the current state once before watching starts.
// A missing path is reported rather than treated as a failure so the
// watch can pick the value up when it appears.
func printSnapshot(srv *server.Server, path keypath.Path, out io.Writer) error {
	if path.IsZero() {
		snapshot, err := srv.Tree()
		if err != nil {
			return err
		}
		return printJSON(out, snapshot)
	}

	value, err := srv.Get(path)
	switch {
	case errors.Is(err, server.ErrNotFound):
		_, err = fmt.Fprintf(out, "%s: not found\n", path)
		return err
	case err != nil:
		return err
	default:
		return printJSON(out, value)
	}
}
