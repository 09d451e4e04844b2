package ctl

import (
	"github.com/spf13/cobra"
)

func newLocationCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "location [dir] [file]",
		Short: "Show the resolved configuration location, or verify a new one",
		Long: `Show the resolved configuration location, or verify a new one.

Without arguments the resolved domain, environment prefix, and file
path are printed. With a directory (and optionally a file name) the
server switches to that location and reloads from it, which verifies
the new location parses before anything is pointed at it.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := newServer(opts)
			if err != nil {
				return err
			}
			defer srv.Close()

			if len(args) == 0 {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"domain":     srv.Domain(),
					"env_prefix": srv.EnvPrefix(),
					"path":       srv.Location().Path(),
				})
			}

			dir := args[0]
			file := ""
			if len(args) == 2 {
				file = args[1]
			}

			previous, err := srv.SwitchLocation(dir, file)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"previous": previous.Path(),
				"current":  srv.Location().Path(),
			})
		},
	}
}
