package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/go-containerregistry/pkg/name"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/oastkeeper/oastkeeper/internal/workload"
)

// API operation names to verify reclaim sequences against.
const (
	opAttachVolume     = "AttachVolume"
	opDescribeVolumes  = "DescribeVolumes"
	opAssociateAddress = "AssociateAddress"

	opEnginePing          = "Ping"
	opEnginePull          = "Pull"
	opEngineEnsureRunning = "EnsureRunning"
)

// mockEC2Client is a mock implementation of the EC2 client for testing.
type mockEC2Client struct {
	attachVolumeFunc     func(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	describeVolumesFunc  func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	associateAddressFunc func(ctx context.Context, params *ec2.AssociateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error)

	// Track operations for testing.
	operations []string
}

func (m *mockEC2Client) AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error) {
	m.operations = append(m.operations, opAttachVolume)
	if m.attachVolumeFunc != nil {
		return m.attachVolumeFunc(ctx, params, optFns...)
	}
	return &ec2.AttachVolumeOutput{
		State: types.VolumeAttachmentStateAttaching,
	}, nil
}

func (m *mockEC2Client) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	m.operations = append(m.operations, opDescribeVolumes)
	if m.describeVolumesFunc != nil {
		return m.describeVolumesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeVolumesOutput{
		Volumes: []types.Volume{
			{VolumeId: aws.String(params.VolumeIds[0])},
		},
	}, nil
}

func (m *mockEC2Client) AssociateAddress(ctx context.Context, params *ec2.AssociateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error) {
	m.operations = append(m.operations, opAssociateAddress)
	if m.associateAddressFunc != nil {
		return m.associateAddressFunc(ctx, params, optFns...)
	}
	return &ec2.AssociateAddressOutput{
		AssociationId: aws.String("eipassoc-0123456789abcdef0"),
	}, nil
}

// describeVolumesAttachedTo answers every describe with the volume attached
// to the given instance in the given state.
func describeVolumesAttachedTo(instanceID string, state types.VolumeAttachmentState) func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	return func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
		return &ec2.DescribeVolumesOutput{
			Volumes: []types.Volume{
				{
					VolumeId: aws.String(params.VolumeIds[0]),
					Attachments: []types.VolumeAttachment{
						{
							InstanceId: aws.String(instanceID),
							State:      state,
						},
					},
				},
			},
		}, nil
	}
}

// mockIdentity is a mock implementation of the metadata client for testing.
type mockIdentity struct {
	getInstanceIdentityDocumentFunc func(ctx context.Context, params *imds.GetInstanceIdentityDocumentInput, optFns ...func(*imds.Options)) (*imds.GetInstanceIdentityDocumentOutput, error)
}

func (m *mockIdentity) GetInstanceIdentityDocument(ctx context.Context, params *imds.GetInstanceIdentityDocumentInput, optFns ...func(*imds.Options)) (*imds.GetInstanceIdentityDocumentOutput, error) {
	if m.getInstanceIdentityDocumentFunc != nil {
		return m.getInstanceIdentityDocumentFunc(ctx, params, optFns...)
	}
	return &imds.GetInstanceIdentityDocumentOutput{
		InstanceIdentityDocument: imds.InstanceIdentityDocument{
			InstanceID:       "i-0self0000000000000",
			AvailabilityZone: "us-west-2a",
		},
	}, nil
}

// mockEngine is a mock implementation of the container engine for testing.
type mockEngine struct {
	pingFunc          func(ctx context.Context) error
	pullFunc          func(ctx context.Context, ref name.Reference) error
	ensureRunningFunc func(ctx context.Context, req *workload.Request) (string, error)

	// Track operations for testing.
	operations []string
	// The last request passed to EnsureRunning.
	lastRequest *workload.Request
}

func (m *mockEngine) Ping(ctx context.Context) error {
	m.operations = append(m.operations, opEnginePing)
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

func (m *mockEngine) Pull(ctx context.Context, ref name.Reference) error {
	m.operations = append(m.operations, opEnginePull)
	if m.pullFunc != nil {
		return m.pullFunc(ctx, ref)
	}
	return nil
}

func (m *mockEngine) EnsureRunning(ctx context.Context, req *workload.Request) (string, error) {
	m.operations = append(m.operations, opEngineEnsureRunning)
	m.lastRequest = req
	if m.ensureRunningFunc != nil {
		return m.ensureRunningFunc(ctx, req)
	}
	return "container0123", nil
}

// recordingRunner is a commandRunner that records invocations and answers
// from a canned response table keyed on "command arg arg...".
type recordingRunner struct {
	mu        sync.Mutex
	responses map[string]cmdResponse
	calls     []string
}

type cmdResponse struct {
	out string
	err error
}

func (r *recordingRunner) run(ctx context.Context, command string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := command
	for _, a := range args {
		key += " " + a
	}
	r.calls = append(r.calls, key)
	if resp, ok := r.responses[key]; ok {
		return resp.out, resp.err
	}
	return "", nil
}

func (r *recordingRunner) calledWithPrefix(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// testRunner assembles a Runner around the mocks with defaults applied.
func testRunner(cfg Config, ec2c *mockEC2Client, identity *mockIdentity, engine *mockEngine, exec *recordingRunner) *Runner {
	cfg.applyDefaults()
	if exec.responses == nil {
		exec.responses = map[string]cmdResponse{}
	}
	return &Runner{
		cfg:       cfg,
		ec2Client: ec2c,
		identity:  identity,
		engine:    engine,
		exec:      exec,
		fstabPath: "/etc/fstab",
		byIDDir:   "/dev/disk/by-id",
		readyHost: "127.0.0.1",
		readyPort: 53,
		backoff: wait.Backoff{
			Duration: time.Millisecond,
			Factor:   1.1,
			Steps:    10,
		},
		pollEvery: time.Millisecond,
	}
}

func testBootstrapConfig() Config {
	return Config{
		Region:       "us-west-2",
		VolumeID:     "vol-0123456789abcdef0",
		AllocationID: "eipalloc-0123456789abcdef0",
		Domain:       "oast.example.com",
		Token:        "s3cr3t",
	}
}
