package bootstrap

import (
	"context"
	"os/exec"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/google/go-containerregistry/pkg/name"

	"github.com/oastkeeper/oastkeeper/internal/workload"
)

// ec2API captures the only control-plane mutations the instance is permitted
// to perform (see the deployer's permission model): attach its one volume,
// associate its one address, and read volume state.
type ec2API interface {
	AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	AssociateAddress(ctx context.Context, params *ec2.AssociateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error)
}

// identityAPI is the instance metadata service. The concrete client speaks
// IMDSv2: it fetches a session-bound token before every credentialed read,
// and the launch template requires tokens so the v1 endpoint is never
// answerable.
type identityAPI interface {
	GetInstanceIdentityDocument(ctx context.Context, params *imds.GetInstanceIdentityDocumentInput, optFns ...func(*imds.Options)) (*imds.GetInstanceIdentityDocumentOutput, error)
}

// engine is the container runtime the workload runs under.
type engine interface {
	Ping(ctx context.Context) error
	Pull(ctx context.Context, ref name.Reference) error
	EnsureRunning(ctx context.Context, req *workload.Request) (string, error)
}

// commandRunner executes host commands (filesystem probing, formatting,
// mounting). Tests substitute a recorder.
type commandRunner interface {
	run(ctx context.Context, command string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, command string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, command, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
