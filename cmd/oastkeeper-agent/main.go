// oastkeeper-agent runs once at instance boot, invoked by the launch
// template's first-boot script. It reclaims the deployment's durable
// resources for the instance it runs on and starts the interaction server.
// Exit code zero means the instance is serving; nonzero leaves the instance
// non-serving for the replacement controller to recycle.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/oastkeeper/oastkeeper/internal/bootstrap"
	"github.com/oastkeeper/oastkeeper/internal/oast"
)

// DefaultTimeout bounds the whole bootstrap, including the volume settle
// and workload readiness waits. A run that cannot finish inside it will not
// finish at all.
const DefaultTimeout = 15 * time.Minute

func parseFlags() (bootstrap.Config, time.Duration) {
	var cfg bootstrap.Config
	var timeout time.Duration

	flag.StringVar(&cfg.Region, "region", "", "AWS region of the deployment")
	flag.StringVar(&cfg.VolumeID, "volume-id", "", "persistent data volume to attach")
	flag.StringVar(&cfg.AllocationID, "allocation-id", "", "elastic IP allocation to associate")
	flag.StringVar(&cfg.Device, "device", oast.DeviceName, "device name to attach the volume at")
	flag.StringVar(&cfg.MountPath, "mount-path", oast.DefaultMountPath, "where to mount the data volume")
	flag.StringVar(&cfg.Image, "image", oast.DefaultImage, "interaction server container image")
	flag.StringVar(&cfg.Domain, "domain", "", "domain the interaction server answers for")
	flag.StringVar(&cfg.Token, "token", "", "auth token clients present when polling interactions")
	flag.BoolVar(&cfg.EnableFTP, "ftp", false, "enable the FTP listener")
	flag.BoolVar(&cfg.EnableLDAP, "ldap", false, "enable the LDAP listener")
	flag.BoolVar(&cfg.EnableWildcard, "wildcard", false, "enable wildcard interaction handling")
	flag.DurationVar(&timeout, "timeout", DefaultTimeout, "bound on the whole bootstrap run")
	flag.Parse()

	return cfg, timeout
}

func main() {
	cfg, timeout := parseFlags()

	log := clog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx := clog.WithLogger(context.Background(), log)
	slog.SetDefault(&log.Logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.ErrorContext(ctx, "agent setup failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Run(ctx); err != nil {
		log.ErrorContext(ctx, "bootstrap failed", "error", err)
		os.Exit(1)
	}
	log.InfoContext(ctx, "instance is serving")
}
