package ctl

import (
	"github.com/spf13/cobra"
)

func newReloadCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the tree from disk and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := newServer(opts)
			if err != nil {
				return err
			}
			defer srv.Close()

			snapshot, err := srv.Reload()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snapshot)
		},
	}
}
