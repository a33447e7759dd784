// bootstrap is the procedure every newly launched server instance executes to
// reclaim the deployment's durable resources and resume service: the public
// elastic IP, the persistent data volume, and the workload container serving
// the interaction listeners.
//
// # Model
//
// The procedure is a strictly ordered sequence of named steps. There is no
// persistence between attempts: a crashed bootstrap leaves the instance
// non-serving, the replacement controller terminates it, and the next
// instance starts again from step one. Nothing here rolls back: all
// reclaimable state (volume attachment, address association) is designed to
// be reclaimed by the NEXT instance, not cleaned up by this one.
//
// # Races
//
// Two steps race against the asynchronous detach of a dying predecessor and
// retry transient conflicts with bounded backoff: attach-volume and
// await-volume. Every other step is deterministic; its failure indicates a
// configuration or capacity fault that must surface rather than spin.
//
// # Ordering
//
// The workload must be accepting connections before the public address is
// associated with this instance. associate-address is therefore the final
// step; reordering it earlier would route probes to an instance with no
// listener.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/chainguard-dev/clog"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/oastkeeper/oastkeeper/internal/oast"
	"github.com/oastkeeper/oastkeeper/internal/workload"
)

// Config carries everything the agent needs to reclaim the durable resources
// and start the workload. All of it arrives via the instance's first-boot
// invocation; none of it is discovered.
type Config struct {
	// Required
	Region       string
	VolumeID     string
	AllocationID string

	// Optional with defaults
	Device        string // default: oast.DeviceName
	MountPath     string // default: oast.DefaultMountPath
	Image         string // default: oast.DefaultImage
	ContainerName string // default: oast.DefaultContainerName

	// Workload configuration surface
	Domain         string // comma-joined when several
	Token          string
	EnableFTP      bool
	EnableLDAP     bool
	EnableWildcard bool
}

func (c *Config) applyDefaults() {
	if c.Device == "" {
		c.Device = oast.DeviceName
	}
	if c.MountPath == "" {
		c.MountPath = oast.DefaultMountPath
	}
	if c.Image == "" {
		c.Image = oast.DefaultImage
	}
	if c.ContainerName == "" {
		c.ContainerName = oast.DefaultContainerName
	}
}

func (c *Config) validate() error {
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if !strings.HasPrefix(c.VolumeID, "vol-") {
		return fmt.Errorf("volume ID %q is not a volume identifier", c.VolumeID)
	}
	if !strings.HasPrefix(c.AllocationID, "eipalloc-") {
		return fmt.Errorf("allocation ID %q is not an elastic IP allocation identifier", c.AllocationID)
	}
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

// Runner executes one bootstrap run. It is single-use: construct, Run, exit.
type Runner struct {
	cfg Config

	ec2Client ec2API
	identity  identityAPI
	engine    engine
	exec      commandRunner

	// Filesystem probe locations and the workload readiness probe target,
	// overridable in tests.
	fstabPath string
	byIDDir   string
	readyHost string
	readyPort uint16

	// Retry pacing for the reclaim race and the settle polls, shortened in
	// tests.
	backoff   wait.Backoff
	pollEvery time.Duration

	// Discovered by the identify step, consumed by everything after it.
	instanceID       string
	availabilityZone string
}

// New constructs a Runner with real clients: IMDSv2 for identity, EC2 for
// resource reclamation, the local Docker engine for the workload.
func New(ctx context.Context, cfg Config) (*Runner, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid bootstrap config: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	engineClient, err := workload.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create workload engine client: %w", err)
	}

	return &Runner{
		cfg:       cfg,
		ec2Client: ec2.NewFromConfig(awsCfg),
		identity:  imds.NewFromConfig(awsCfg),
		engine:    engineClient,
		exec:      execRunner{},
		fstabPath: "/etc/fstab",
		byIDDir:   "/dev/disk/by-id",
		readyHost: "127.0.0.1",
		readyPort: 53,
		backoff:   reclaimBackoff(),
		pollEvery: 3 * time.Second,
	}, nil
}

// step is one named stage of the bootstrap.
type step struct {
	name string
	fn   func(ctx context.Context) error
}

func (r *Runner) steps() []step {
	return []step{
		{"identify", r.stepIdentify},
		{"attach-volume", r.stepAttachVolume},
		{"ensure-runtime", r.stepEnsureRuntime},
		{"pull-image", r.stepPullImage},
		{"await-volume", r.stepAwaitVolume},
		{"prepare-filesystem", r.stepPrepareFilesystem},
		{"mount", r.stepMount},
		{"start-workload", r.stepStartWorkload},
		{"associate-address", r.stepAssociateAddress},
	}
}

// Run executes the steps in order. The first failure aborts the run; the
// instance stays non-serving and is eventually replaced. There is no
// in-place resume.
func (r *Runner) Run(ctx context.Context) error {
	log := clog.FromContext(ctx)
	steps := r.steps()
	log.Info("beginning bootstrap run",
		"volume_id", r.cfg.VolumeID,
		"allocation_id", r.cfg.AllocationID,
		"step_count", len(steps),
	)

	for i, s := range steps {
		stepLog := log.With("step", s.name, "position", fmt.Sprintf("%d/%d", i+1, len(steps)))
		stepCtx := clog.WithLogger(ctx, stepLog)
		stepLog.Info("step starting")
		started := time.Now()
		if err := s.fn(stepCtx); err != nil {
			stepLog.Error("step failed, bootstrap run is fatal",
				"error", err,
				"elapsed", time.Since(started).Round(time.Millisecond),
			)
			return fmt.Errorf("bootstrap step %q: %w", s.name, err)
		}
		stepLog.Info("step complete", "elapsed", time.Since(started).Round(time.Millisecond))
	}

	log.Info("bootstrap run is complete, instance is serving",
		"instance_id", r.instanceID,
	)
	return nil
}
