package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oastkeeper/oastkeeper/internal/deploy"
)

func newDownCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Destroy the deployment, snapshotting the data volume first",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := deploy.New(cmd.Context(), deployConfig())
			if err != nil {
				return err
			}
			if err := d.Down(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "teardown complete; restore later with 'up --volume-id' from the final snapshot")
			return nil
		},
	}
	return cmd
}
