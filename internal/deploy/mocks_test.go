package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
)

// API operation names to verify resource lifecycles against.
const (
	opAllocateAddress               = "AllocateAddress"
	opReleaseAddress                = "ReleaseAddress"
	opDescribeAddresses             = "DescribeAddresses"
	opCreateVolume                  = "CreateVolume"
	opDeleteVolume                  = "DeleteVolume"
	opDescribeVolumes               = "DescribeVolumes"
	opCreateSnapshot                = "CreateSnapshot"
	opDescribeSnapshots             = "DescribeSnapshots"
	opCreateSecurityGroup           = "CreateSecurityGroup"
	opDeleteSecurityGroup           = "DeleteSecurityGroup"
	opAuthorizeSecurityGroupIngress = "AuthorizeSecurityGroupIngress"
	opDescribeSecurityGroups        = "DescribeSecurityGroups"
	opDescribeSubnets               = "DescribeSubnets"
	opCreateLaunchTemplate          = "CreateLaunchTemplate"
	opDeleteLaunchTemplate          = "DeleteLaunchTemplate"

	opCreateRole                    = "CreateRole"
	opDeleteRole                    = "DeleteRole"
	opPutRolePolicy                 = "PutRolePolicy"
	opDeleteRolePolicy              = "DeleteRolePolicy"
	opAttachRolePolicy              = "AttachRolePolicy"
	opDetachRolePolicy              = "DetachRolePolicy"
	opCreateInstanceProfile         = "CreateInstanceProfile"
	opDeleteInstanceProfile         = "DeleteInstanceProfile"
	opAddRoleToInstanceProfile      = "AddRoleToInstanceProfile"
	opRemoveRoleFromInstanceProfile = "RemoveRoleFromInstanceProfile"

	opCreateAutoScalingGroup    = "CreateAutoScalingGroup"
	opDeleteAutoScalingGroup    = "DeleteAutoScalingGroup"
	opDescribeAutoScalingGroups = "DescribeAutoScalingGroups"
)

// mockEC2Client is a mock implementation of the EC2 client for testing.
// Every method records its operation name and defaults to a successful
// response; individual tests override the funcs they care about.
type mockEC2Client struct {
	allocateAddressFunc               func(ctx context.Context, params *ec2.AllocateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AllocateAddressOutput, error)
	releaseAddressFunc                func(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error)
	describeAddressesFunc             func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	createVolumeFunc                  func(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error)
	deleteVolumeFunc                  func(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	describeVolumesFunc               func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	createSnapshotFunc                func(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	describeSnapshotsFunc             func(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	createSecurityGroupFunc           func(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	deleteSecurityGroupFunc           func(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	authorizeSecurityGroupIngressFunc func(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	describeSecurityGroupsFunc        func(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	describeSubnetsFunc               func(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	createLaunchTemplateFunc          func(ctx context.Context, params *ec2.CreateLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error)
	deleteLaunchTemplateFunc          func(ctx context.Context, params *ec2.DeleteLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error)

	// Track operations for testing.
	operations []string
}

func (m *mockEC2Client) AllocateAddress(ctx context.Context, params *ec2.AllocateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AllocateAddressOutput, error) {
	m.operations = append(m.operations, opAllocateAddress)
	if m.allocateAddressFunc != nil {
		return m.allocateAddressFunc(ctx, params, optFns...)
	}
	return &ec2.AllocateAddressOutput{
		AllocationId: aws.String("eipalloc-0123456789abcdef0"),
		PublicIp:     aws.String("203.0.113.10"),
	}, nil
}

func (m *mockEC2Client) ReleaseAddress(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error) {
	m.operations = append(m.operations, opReleaseAddress)
	if m.releaseAddressFunc != nil {
		return m.releaseAddressFunc(ctx, params, optFns...)
	}
	return &ec2.ReleaseAddressOutput{}, nil
}

func (m *mockEC2Client) DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
	m.operations = append(m.operations, opDescribeAddresses)
	if m.describeAddressesFunc != nil {
		return m.describeAddressesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeAddressesOutput{}, nil
}

func (m *mockEC2Client) CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error) {
	m.operations = append(m.operations, opCreateVolume)
	if m.createVolumeFunc != nil {
		return m.createVolumeFunc(ctx, params, optFns...)
	}
	return &ec2.CreateVolumeOutput{
		VolumeId: aws.String("vol-0123456789abcdef0"),
	}, nil
}

func (m *mockEC2Client) DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	m.operations = append(m.operations, opDeleteVolume)
	if m.deleteVolumeFunc != nil {
		return m.deleteVolumeFunc(ctx, params, optFns...)
	}
	return &ec2.DeleteVolumeOutput{}, nil
}

func (m *mockEC2Client) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	m.operations = append(m.operations, opDescribeVolumes)
	if m.describeVolumesFunc != nil {
		return m.describeVolumesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeVolumesOutput{}, nil
}

func (m *mockEC2Client) CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error) {
	m.operations = append(m.operations, opCreateSnapshot)
	if m.createSnapshotFunc != nil {
		return m.createSnapshotFunc(ctx, params, optFns...)
	}
	return &ec2.CreateSnapshotOutput{
		SnapshotId: aws.String("snap-0123456789abcdef0"),
	}, nil
}

func (m *mockEC2Client) DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	m.operations = append(m.operations, opDescribeSnapshots)
	if m.describeSnapshotsFunc != nil {
		return m.describeSnapshotsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeSnapshotsOutput{
		Snapshots: []types.Snapshot{
			{
				SnapshotId: aws.String("snap-0123456789abcdef0"),
				State:      types.SnapshotStateCompleted,
			},
		},
	}, nil
}

func (m *mockEC2Client) CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	m.operations = append(m.operations, opCreateSecurityGroup)
	if m.createSecurityGroupFunc != nil {
		return m.createSecurityGroupFunc(ctx, params, optFns...)
	}
	return &ec2.CreateSecurityGroupOutput{
		GroupId: aws.String("sg-0123456789abcdef0"),
	}, nil
}

func (m *mockEC2Client) DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	m.operations = append(m.operations, opDeleteSecurityGroup)
	if m.deleteSecurityGroupFunc != nil {
		return m.deleteSecurityGroupFunc(ctx, params, optFns...)
	}
	return &ec2.DeleteSecurityGroupOutput{}, nil
}

func (m *mockEC2Client) AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	m.operations = append(m.operations, opAuthorizeSecurityGroupIngress)
	if m.authorizeSecurityGroupIngressFunc != nil {
		return m.authorizeSecurityGroupIngressFunc(ctx, params, optFns...)
	}
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func (m *mockEC2Client) DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	m.operations = append(m.operations, opDescribeSecurityGroups)
	if m.describeSecurityGroupsFunc != nil {
		return m.describeSecurityGroupsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeSecurityGroupsOutput{}, nil
}

func (m *mockEC2Client) DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	m.operations = append(m.operations, opDescribeSubnets)
	if m.describeSubnetsFunc != nil {
		return m.describeSubnetsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeSubnetsOutput{
		Subnets: []types.Subnet{
			{
				SubnetId:         aws.String("subnet-0123456789abcdef0"),
				AvailabilityZone: aws.String("us-west-2a"),
				DefaultForAz:     aws.Bool(true),
			},
		},
	}, nil
}

func (m *mockEC2Client) CreateLaunchTemplate(ctx context.Context, params *ec2.CreateLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error) {
	m.operations = append(m.operations, opCreateLaunchTemplate)
	if m.createLaunchTemplateFunc != nil {
		return m.createLaunchTemplateFunc(ctx, params, optFns...)
	}
	return &ec2.CreateLaunchTemplateOutput{
		LaunchTemplate: &types.LaunchTemplate{
			LaunchTemplateId: aws.String("lt-0123456789abcdef0"),
		},
	}, nil
}

func (m *mockEC2Client) DeleteLaunchTemplate(ctx context.Context, params *ec2.DeleteLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error) {
	m.operations = append(m.operations, opDeleteLaunchTemplate)
	if m.deleteLaunchTemplateFunc != nil {
		return m.deleteLaunchTemplateFunc(ctx, params, optFns...)
	}
	return &ec2.DeleteLaunchTemplateOutput{}, nil
}

// mockIAMClient is a mock implementation of the IAM client for testing.
type mockIAMClient struct {
	createRoleFunc                    func(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	deleteRoleFunc                    func(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
	putRolePolicyFunc                 func(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	deleteRolePolicyFunc              func(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	attachRolePolicyFunc              func(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	detachRolePolicyFunc              func(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	createInstanceProfileFunc         func(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error)
	deleteInstanceProfileFunc         func(ctx context.Context, params *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error)
	addRoleToInstanceProfileFunc      func(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error)
	removeRoleFromInstanceProfileFunc func(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error)

	// Track operations for testing.
	operations []string
}

func (m *mockIAMClient) CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	m.operations = append(m.operations, opCreateRole)
	if m.createRoleFunc != nil {
		return m.createRoleFunc(ctx, params, optFns...)
	}
	return &iam.CreateRoleOutput{
		Role: &iamtypes.Role{
			Arn:      aws.String(fmt.Sprintf("arn:aws:iam::123456789012:role/%s", *params.RoleName)),
			RoleName: params.RoleName,
		},
	}, nil
}

func (m *mockIAMClient) DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	m.operations = append(m.operations, opDeleteRole)
	if m.deleteRoleFunc != nil {
		return m.deleteRoleFunc(ctx, params, optFns...)
	}
	return &iam.DeleteRoleOutput{}, nil
}

func (m *mockIAMClient) PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	m.operations = append(m.operations, opPutRolePolicy)
	if m.putRolePolicyFunc != nil {
		return m.putRolePolicyFunc(ctx, params, optFns...)
	}
	return &iam.PutRolePolicyOutput{}, nil
}

func (m *mockIAMClient) DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	m.operations = append(m.operations, opDeleteRolePolicy)
	if m.deleteRolePolicyFunc != nil {
		return m.deleteRolePolicyFunc(ctx, params, optFns...)
	}
	return &iam.DeleteRolePolicyOutput{}, nil
}

func (m *mockIAMClient) AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	m.operations = append(m.operations, opAttachRolePolicy)
	if m.attachRolePolicyFunc != nil {
		return m.attachRolePolicyFunc(ctx, params, optFns...)
	}
	return &iam.AttachRolePolicyOutput{}, nil
}

func (m *mockIAMClient) DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	m.operations = append(m.operations, opDetachRolePolicy)
	if m.detachRolePolicyFunc != nil {
		return m.detachRolePolicyFunc(ctx, params, optFns...)
	}
	return &iam.DetachRolePolicyOutput{}, nil
}

func (m *mockIAMClient) CreateInstanceProfile(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error) {
	m.operations = append(m.operations, opCreateInstanceProfile)
	if m.createInstanceProfileFunc != nil {
		return m.createInstanceProfileFunc(ctx, params, optFns...)
	}
	return &iam.CreateInstanceProfileOutput{
		InstanceProfile: &iamtypes.InstanceProfile{
			Arn:                 aws.String(fmt.Sprintf("arn:aws:iam::123456789012:instance-profile/%s", *params.InstanceProfileName)),
			InstanceProfileName: params.InstanceProfileName,
		},
	}, nil
}

func (m *mockIAMClient) DeleteInstanceProfile(ctx context.Context, params *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error) {
	m.operations = append(m.operations, opDeleteInstanceProfile)
	if m.deleteInstanceProfileFunc != nil {
		return m.deleteInstanceProfileFunc(ctx, params, optFns...)
	}
	return &iam.DeleteInstanceProfileOutput{}, nil
}

func (m *mockIAMClient) AddRoleToInstanceProfile(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error) {
	m.operations = append(m.operations, opAddRoleToInstanceProfile)
	if m.addRoleToInstanceProfileFunc != nil {
		return m.addRoleToInstanceProfileFunc(ctx, params, optFns...)
	}
	return &iam.AddRoleToInstanceProfileOutput{}, nil
}

func (m *mockIAMClient) RemoveRoleFromInstanceProfile(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error) {
	m.operations = append(m.operations, opRemoveRoleFromInstanceProfile)
	if m.removeRoleFromInstanceProfileFunc != nil {
		return m.removeRoleFromInstanceProfileFunc(ctx, params, optFns...)
	}
	return &iam.RemoveRoleFromInstanceProfileOutput{}, nil
}

// mockASGClient is a mock implementation of the Auto Scaling client for
// testing.
type mockASGClient struct {
	createAutoScalingGroupFunc    func(ctx context.Context, params *autoscaling.CreateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error)
	deleteAutoScalingGroupFunc    func(ctx context.Context, params *autoscaling.DeleteAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error)
	describeAutoScalingGroupsFunc func(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)

	// Track operations for testing.
	operations []string
}

func (m *mockASGClient) CreateAutoScalingGroup(ctx context.Context, params *autoscaling.CreateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error) {
	m.operations = append(m.operations, opCreateAutoScalingGroup)
	if m.createAutoScalingGroupFunc != nil {
		return m.createAutoScalingGroupFunc(ctx, params, optFns...)
	}
	return &autoscaling.CreateAutoScalingGroupOutput{}, nil
}

func (m *mockASGClient) DeleteAutoScalingGroup(ctx context.Context, params *autoscaling.DeleteAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error) {
	m.operations = append(m.operations, opDeleteAutoScalingGroup)
	if m.deleteAutoScalingGroupFunc != nil {
		return m.deleteAutoScalingGroupFunc(ctx, params, optFns...)
	}
	return &autoscaling.DeleteAutoScalingGroupOutput{}, nil
}

func (m *mockASGClient) DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	m.operations = append(m.operations, opDescribeAutoScalingGroups)
	if m.describeAutoScalingGroupsFunc != nil {
		return m.describeAutoScalingGroupsFunc(ctx, params, optFns...)
	}
	return &autoscaling.DescribeAutoScalingGroupsOutput{}, nil
}

// newTestDeployer wires the mocks into a deployer with fast polling.
func newTestDeployer(cfg Config, ec2c *mockEC2Client, iamc *mockIAMClient, asgc *mockASGClient) *Deployer {
	cfg.applyDefaults()
	return &Deployer{
		Config:    cfg,
		ec2Client: ec2c,
		iamClient: iamc,
		asgClient: asgc,
		runID:     "test0run",
		pollEvery: time.Millisecond,
	}
}
