package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// set by the goreleaser configuration for release binaries
var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the oastkeeper version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "oastkeeper %s\n", version)
			return err
		},
	}
}
