package ctl

import (
	"fmt"

	"github.com/kart-io/arca/pkg/keypath"
	"github.com/spf13/cobra"
)

func newDelCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "del <path>",
		Aliases: []string{"delete"},
		Short:   "Delete the value stored at a dotted path",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := newServer(opts)
			if err != nil {
				return err
			}
			defer srv.Close()

			if err := srv.Delete(keypath.Parse(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
