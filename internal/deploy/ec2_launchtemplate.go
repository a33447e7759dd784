package deploy

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

var (
	ErrLaunchTemplateCreate = fmt.Errorf("failed to create launch template")
	ErrLaunchTemplateIDNil  = fmt.Errorf("encountered no error in launch " +
		"template creation, but the returned template ID was nil")
)

// launchTemplateCreate writes the immutable description every replacement
// instance is launched from.
//
// Two details here are load-bearing:
//   - The instance-level tag specification applies the marker tag atomically
//     with launch. Tagging in a follow-up call would open a window where a
//     legitimate replacement cannot reclaim its resources.
//   - IMDSv2 is required (HttpTokens: required) so the agent's
//     self-identification is gated on a session token; a long-lived,
//     unauthenticated metadata endpoint is not exposed.
func launchTemplateCreate(
	ctx context.Context,
	client ec2API,
	name string,
	cfg Config,
	profileName, sgID, userDataScript string,
	tags ...types.Tag,
) (string, error) {
	instanceTags := append([]types.Tag{tagMarker(), tagName(cfg.Name)}, tagsDefault()...)

	data := &types.RequestLaunchTemplateData{
		ImageId:      aws.String(cfg.AMI),
		InstanceType: types.InstanceType(cfg.InstanceType),
		IamInstanceProfile: &types.LaunchTemplateIamInstanceProfileSpecificationRequest{
			Name: aws.String(profileName),
		},
		SecurityGroupIds: []string{sgID},
		UserData:         aws.String(encodeUserData(userDataScript)),
		MetadataOptions: &types.LaunchTemplateInstanceMetadataOptionsRequest{
			HttpTokens:   types.LaunchTemplateHttpTokensStateRequired,
			HttpEndpoint: types.LaunchTemplateInstanceMetadataEndpointStateEnabled,
		},
		BlockDeviceMappings: []types.LaunchTemplateBlockDeviceMappingRequest{
			{
				// The root disk is ephemeral by design; nothing on it
				// survives replacement.
				DeviceName: aws.String("/dev/xvda"),
				Ebs: &types.LaunchTemplateEbsBlockDeviceRequest{
					VolumeSize:          aws.Int32(cfg.RootVolumeSize),
					VolumeType:          types.VolumeTypeGp3,
					DeleteOnTermination: aws.Bool(true),
				},
			},
		},
		TagSpecifications: []types.LaunchTemplateTagSpecificationRequest{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags:         instanceTags,
			},
		},
	}
	if cfg.KeyName != "" {
		data.KeyName = aws.String(cfg.KeyName)
	}

	result, err := client.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: aws.String(name),
		LaunchTemplateData: data,
		TagSpecifications:  tagSpecificationWithDefaults(types.ResourceTypeLaunchTemplate, tags...),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLaunchTemplateCreate, err)
	}
	if result.LaunchTemplate == nil || result.LaunchTemplate.LaunchTemplateId == nil {
		return "", ErrLaunchTemplateIDNil
	}
	return *result.LaunchTemplate.LaunchTemplateId, nil
}

var ErrLaunchTemplateDelete = fmt.Errorf("failed to delete launch template")

func launchTemplateDelete(ctx context.Context, client ec2API, name string) error {
	_, err := client.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{
		LaunchTemplateName: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLaunchTemplateDelete, err)
	}
	return nil
}
