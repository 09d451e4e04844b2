package ctl

import (
	"github.com/kart-io/arca/pkg/keypath"
	"github.com/kart-io/arca/pkg/override"
	"github.com/spf13/cobra"
)

func newPutCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "put <path> <value>",
		Short: "Store a value at a dotted path",
		Long: `Store a value at a dotted path.

The value is interpreted the same way environment overrides are:
booleans, numbers, and JSON documents are decoded, anything else is
stored as a string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := newServer(opts)
			if err != nil {
				return err
			}
			defer srv.Close()

			stored, err := srv.Put(keypath.Parse(args[0]), override.Coerce(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stored)
		},
	}
}
