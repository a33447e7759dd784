package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/chainguard-dev/clog"

	"github.com/oastkeeper/oastkeeper/internal/oast"
)

var ErrScalingGroupCreate = fmt.Errorf("failed to create auto scaling group")

// scalingGroupCreate expresses the replacement controller: exactly one
// instance at all times. Min, max and desired capacity are all pinned to 1;
// the control plane terminates-and-replaces on health check failure and never
// runs two instances in steady state. Launch retry on capacity or quota
// errors is owned by this layer, not by the bootstrap.
//
// The group launches into a single subnet in the data volume's availability
// zone; volumes cannot cross zone boundaries, so a replacement launched
// anywhere else could never reclaim the volume.
func scalingGroupCreate(
	ctx context.Context,
	client asgAPI,
	name, launchTemplateID, subnetID string,
) error {
	_, err := client.CreateAutoScalingGroup(ctx, &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		LaunchTemplate: &asgtypes.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(launchTemplateID),
			Version:          aws.String("$Latest"),
		},
		VPCZoneIdentifier: aws.String(subnetID),
		MinSize:           aws.Int32(1),
		MaxSize:           aws.Int32(1),
		DesiredCapacity:   aws.Int32(1),
		HealthCheckType:   aws.String("EC2"),
		// Grace period covers the bootstrap window: volume reclaim, filesystem
		// prepare and workload start take low single-digit minutes.
		HealthCheckGracePeriod: aws.Int32(300),
		Tags: []asgtypes.Tag{
			{
				Key:               aws.String(oast.MarkerTagKey),
				Value:             aws.String(oast.MarkerTagValue),
				PropagateAtLaunch: aws.Bool(true),
			},
			{
				Key:               aws.String(tagKeyProject),
				Value:             aws.String(tagDefaultProject),
				PropagateAtLaunch: aws.Bool(true),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScalingGroupCreate, err)
	}
	return nil
}

var ErrScalingGroupDelete = fmt.Errorf("failed to delete auto scaling group")

// scalingGroupDelete force-deletes the group, terminating its instance.
func scalingGroupDelete(ctx context.Context, client asgAPI, name string) error {
	_, err := client.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		ForceDelete:          aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScalingGroupDelete, err)
	}
	return nil
}

var ErrScalingGroupDescribe = fmt.Errorf("failed to describe auto scaling group")

// scalingGroupGet fetches the group, or nil when it does not exist.
func scalingGroupGet(ctx context.Context, client asgAPI, name string) (*asgtypes.AutoScalingGroup, error) {
	result, err := client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScalingGroupDescribe, err)
	}
	if len(result.AutoScalingGroups) == 0 {
		return nil, nil
	}
	return &result.AutoScalingGroups[0], nil
}

// awaitScalingGroupGone polls until the deleted group disappears. The group
// owning its instance is a hard blocker on deleting the launch template and
// releasing the elastic IP further up the teardown chain.
func awaitScalingGroupGone(ctx context.Context, client asgAPI, name string, every time.Duration) error {
	log := clog.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("deadlined waiting for auto scaling group deletion")
		case <-time.After(every):
			group, err := scalingGroupGet(ctx, client, name)
			if err != nil {
				return err
			}
			if group == nil {
				log.Info("auto scaling group deletion complete")
				return nil
			}
			log.Debug("auto scaling group still draining, waiting longer",
				"instances", len(group.Instances))
		}
	}
}
