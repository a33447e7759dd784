package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oastkeeper/oastkeeper/internal/deploy"
	"github.com/oastkeeper/oastkeeper/internal/oast"
)

func newUpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create the deployment: elastic IP, data volume, permissions and the replacement controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := deploy.New(cmd.Context(), deployConfig())
			if err != nil {
				return err
			}
			dep, err := d.Up(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "public ip:     %s\n", dep.Durable.PublicIP)
			fmt.Fprintf(out, "allocation id: %s\n", dep.Durable.AllocationID)
			fmt.Fprintf(out, "volume id:     %s\n", dep.Durable.VolumeID)
			fmt.Fprintf(out, "scaling group: %s\n", dep.Controller.ScalingGroupName)
			fmt.Fprintf(out, "\npoint your domain's NS records at %s and the server will begin answering.\n", dep.Durable.PublicIP)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("ami", "", "AMI for the server instance (required)")
	f.String("domain", "", "domain the interaction server answers for (required)")
	f.String("token", "", "auth token clients present when polling interactions (required)")
	f.String("zone", "", "availability zone; defaults to <region>a")
	f.String("instance-type", "", "EC2 instance type")
	f.String("key-name", "", "optional EC2 key pair for SSH access")
	f.String("vpc-id", "", "VPC to deploy into; empty means the default VPC")
	f.String("subnet-id", "", "subnet for the instance; empty lets the scaling group choose")
	f.Int32("root-volume-size", 0, "root volume size in GiB")
	f.Int32("data-volume-size", 0, "data volume size in GiB")
	f.String("volume-id", "", "adopt an existing data volume instead of creating one")
	f.String("image", oast.DefaultImage, "interaction server container image")
	f.String("mount-path", oast.DefaultMountPath, "mount path for the data volume on the instance")
	f.String("agent-path", "", "path of the bootstrap agent binary baked into the AMI")
	f.Bool("ftp", false, "enable the FTP listener")
	f.Bool("ldap", false, "enable the LDAP listener")
	f.Bool("wildcard", false, "enable wildcard interaction handling")
	return cmd
}
