package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oastkeeper/oastkeeper/internal/deploy"
	"github.com/oastkeeper/oastkeeper/internal/log"
	"github.com/oastkeeper/oastkeeper/internal/o11y"
)

func submain(ctx context.Context) int {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	var logCleanup func()

	root := &cobra.Command{
		Use:           "oastkeeper",
		Short:         "Provision and keep alive a self-healing out-of-band interaction server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			level := slog.LevelInfo
			if viper.GetBool("debug") {
				level = slog.LevelDebug
			}
			ctx, cleanup := log.Setup(cmd.Context(), level, viper.GetString("logs-dir"), viper.GetString("name"))
			logCleanup = cleanup
			if err := o11y.SetupTracing(ctx); err != nil {
				return fmt.Errorf("setting up tracing: %w", err)
			}
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCleanup != nil {
				logCleanup()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String("name", "oastkeeper", "deployment name; prefixes every cloud resource")
	pf.String("region", "us-west-2", "AWS region")
	pf.Bool("debug", false, "enable debug logging")
	pf.String("logs-dir", "", "directory for a per-deployment log file (disabled when empty)")
	_ = viper.BindPFlags(pf)

	viper.SetEnvPrefix("OASTKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	root.AddCommand(
		newUpCommand(),
		newDownCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
	return root
}

// deployConfig assembles the deployment configuration from flags and
// environment via viper. Up validates the fields it needs; down and status
// work from the name and region alone.
func deployConfig() deploy.Config {
	return deploy.Config{
		Name:             viper.GetString("name"),
		Region:           viper.GetString("region"),
		AvailabilityZone: viper.GetString("zone"),
		AMI:              viper.GetString("ami"),
		InstanceType:     viper.GetString("instance-type"),
		KeyName:          viper.GetString("key-name"),
		VPCID:            viper.GetString("vpc-id"),
		SubnetID:         viper.GetString("subnet-id"),
		RootVolumeSize:   viper.GetInt32("root-volume-size"),
		DataVolumeSize:   viper.GetInt32("data-volume-size"),
		VolumeID:         viper.GetString("volume-id"),
		Image:            viper.GetString("image"),
		MountPath:        viper.GetString("mount-path"),
		AgentPath:        viper.GetString("agent-path"),
		Domain:           viper.GetString("domain"),
		Token:            viper.GetString("token"),
		EnableFTP:        viper.GetBool("ftp"),
		EnableLDAP:       viper.GetBool("ldap"),
		EnableWildcard:   viper.GetBool("wildcard"),
	}
}
