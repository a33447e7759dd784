// deploy provisions and destroys the cloud resources backing a single-node
// interaction-catcher deployment: the durable resource set (elastic IP,
// encrypted data volume, scoped IAM role), the launch template every
// replacement instance boots from, and the single-capacity auto scaling group
// that keeps exactly one instance alive.
//
// # Resource lifetimes
//
// The elastic IP, the data volume and the IAM role outlive any one instance;
// instances are disposable and are replaced, never repaired. A replacement
// instance reclaims the durable resources at boot (see internal/bootstrap).
//
// # Rollback
//
// Every created resource pushes a destructor onto a LIFO stack. A failed 'Up'
// destroys the partial stack; 'Down' rediscovers resources by their
// deterministic names and destroys them in dependency order, snapshotting the
// data volume before it is deleted.
package deploy

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/google/uuid"

	"github.com/oastkeeper/oastkeeper/internal/oast"
)

// Config configures the deployer.
type Config struct {
	// Required
	AMI    string // machine image for replacement instances
	Domain string // listening domain(s), comma-joined when several
	Token  string // workload authentication token

	// Optional with defaults
	Name             string // resource name prefix, default: oastkeeper
	Region           string // default: us-west-2
	AvailabilityZone string // default: <region>a; fixed for the volume's lifetime
	InstanceType     string // default: t3.small
	RootVolumeSize   int32  // default: 16 (GB), ephemeral system disk
	DataVolumeSize   int32  // default: 20 (GB), persistent encrypted volume
	Image            string // workload image ref, default: oast.DefaultImage
	MountPath        string // default: oast.DefaultMountPath
	AgentPath        string // agent binary path on the AMI, default: /usr/local/bin/oastkeeper-agent

	// Optional - discovered if empty
	VPCID    string // default VPC when empty
	SubnetID string // discovered in the volume's zone when empty (VPC-scoped, or the zone default)
	KeyName  string // optional SSH key pair; management access is SSM, not SSH

	// Workload feature flags
	EnableFTP      bool
	EnableLDAP     bool
	EnableWildcard bool

	// Reuse an existing data volume (e.g. one restored from a snapshot)
	// instead of creating a fresh one. Must live in AvailabilityZone.
	VolumeID string
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "oastkeeper"
	}
	if c.Region == "" {
		c.Region = "us-west-2"
	}
	if c.AvailabilityZone == "" {
		c.AvailabilityZone = c.Region + "a"
	}
	if c.InstanceType == "" {
		c.InstanceType = "t3.small"
	}
	if c.RootVolumeSize == 0 {
		c.RootVolumeSize = 16
	}
	if c.DataVolumeSize == 0 {
		c.DataVolumeSize = 20
	}
	if c.Image == "" {
		c.Image = oast.DefaultImage
	}
	if c.MountPath == "" {
		c.MountPath = oast.DefaultMountPath
	}
	if c.AgentPath == "" {
		c.AgentPath = "/usr/local/bin/oastkeeper-agent"
	}
}

// validate checks the fields only creation needs. Teardown and status work
// from the name prefix alone, so New does not call this; Up does.
func (c *Config) validate() error {
	if c.AMI == "" {
		return fmt.Errorf("ami is required")
	}
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if len(c.AvailabilityZone) <= len(c.Region) {
		return fmt.Errorf("availability zone %q is not in region %q", c.AvailabilityZone, c.Region)
	}
	return nil
}

// Deployer orchestrates resource creation and destruction.
type Deployer struct {
	Config Config

	ec2Client ec2API
	iamClient iamAPI
	asgClient asgAPI

	// runID distinguishes concurrent deployer invocations in logs and serves
	// as the idempotency client token for volume creation.
	runID string

	// stack is a LIFO queue of 'Destructor's for rollback of a failed 'Up'.
	stack Stack

	// pollEvery is the interval for state-settle polls (volume detach,
	// snapshot copy, scaling group drain). Shortened in tests.
	pollEvery time.Duration
}

// New constructs a Deployer with real AWS clients for the configured region.
func New(ctx context.Context, cfg Config) (*Deployer, error) {
	cfg.applyDefaults()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &Deployer{
		Config:    cfg,
		ec2Client: ec2.NewFromConfig(awsCfg),
		iamClient: iam.NewFromConfig(awsCfg),
		asgClient: autoscaling.NewFromConfig(awsCfg),
		runID:     uuid.New().String()[:8],
		pollEvery: 10 * time.Second,
	}, nil
}

// Deterministic resource names. 'Down' and 'Status' rediscover resources by
// these, so they must be pure functions of the configured name prefix.
func (d *Deployer) eipName() string      { return d.Config.Name + "-eip" }
func (d *Deployer) volumeName() string   { return d.Config.Name + "-data" }
func (d *Deployer) sgName() string       { return d.Config.Name + "-sg" }
func (d *Deployer) roleName() string     { return d.Config.Name + "-role" }
func (d *Deployer) policyName() string   { return d.Config.Name + "-reclaim" }
func (d *Deployer) profileName() string  { return d.Config.Name + "-profile" }
func (d *Deployer) templateName() string { return d.Config.Name + "-template" }
func (d *Deployer) asgName() string      { return d.Config.Name + "-asg" }
func (d *Deployer) snapshotName() string { return d.Config.Name + "-final-snapshot" }
