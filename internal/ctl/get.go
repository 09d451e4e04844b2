package ctl

import (
	"github.com/kart-io/arca/pkg/keypath"
	"github.com/spf13/cobra"
)

func newGetCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print the value stored at a dotted path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := newServer(opts)
			if err != nil {
				return err
			}
			defer srv.Close()

			value, err := srv.Get(keypath.Parse(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), value)
		},
	}
}
