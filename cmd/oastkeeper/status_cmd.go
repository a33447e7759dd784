package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oastkeeper/oastkeeper/internal/deploy"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the deployment is serving and who holds its resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := deploy.New(cmd.Context(), deployConfig())
			if err != nil {
				return err
			}
			st, err := d.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if st.PublicIP != "" {
				fmt.Fprintf(out, "public ip:      %s (%s)\n", st.PublicIP, st.AllocationID)
				fmt.Fprintf(out, "associated to:  %s\n", orNone(st.AssociatedInstanceID))
			} else {
				fmt.Fprintln(out, "public ip:      not allocated")
			}
			if st.VolumeID != "" {
				fmt.Fprintf(out, "data volume:    %s (%s)\n", st.VolumeID, st.VolumeState)
				fmt.Fprintf(out, "attached to:    %s\n", orNone(st.AttachedInstance))
			} else {
				fmt.Fprintln(out, "data volume:    not found")
			}
			if st.ScalingGroupExists {
				fmt.Fprintf(out, "instance:       %s (%s)\n", orNone(st.InstanceID), st.InstanceLifecycle)
			} else {
				fmt.Fprintln(out, "scaling group:  not found")
			}

			if st.Serving() {
				fmt.Fprintln(out, "\nserving: the instance holds both the public IP and the data volume")
			} else {
				fmt.Fprintln(out, "\nnot serving")
			}
			return nil
		},
	}
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
