package deploy

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Status is a point-in-time view of the deployment, assembled from read-only
// describe calls.
type Status struct {
	// Public identity
	PublicIP             string
	AllocationID         string
	AssociatedInstanceID string

	// Persistent volume
	VolumeID         string
	VolumeState      string
	AttachedInstance string

	// Replacement controller
	ScalingGroupExists bool
	InstanceID         string
	InstanceLifecycle  string // ASG lifecycle state, e.g. "InService"
}

// Serving reports whether the deployment is fully up: one in-service
// instance holding both the public identity and the volume.
func (s Status) Serving() bool {
	return s.InstanceID != "" &&
		s.AssociatedInstanceID == s.InstanceID &&
		s.AttachedInstance == s.InstanceID &&
		s.InstanceLifecycle == "InService"
}

// Status inspects the deployment's current state. The service is either
// fully up on the current instance or down during a replacement window;
// this surfaces which.
func (d *Deployer) Status(ctx context.Context) (Status, error) {
	var status Status

	group, err := scalingGroupGet(ctx, d.asgClient, d.asgName())
	if err != nil {
		return status, err
	}
	if group != nil {
		status.ScalingGroupExists = true
		if len(group.Instances) > 0 {
			instance := group.Instances[0]
			if instance.InstanceId != nil {
				status.InstanceID = *instance.InstanceId
			}
			status.InstanceLifecycle = string(instance.LifecycleState)
		}
	}

	address, err := elasticIPFindByName(ctx, d.ec2Client, d.eipName())
	if err != nil {
		return status, err
	}
	if address != nil {
		if address.PublicIp != nil {
			status.PublicIP = *address.PublicIp
		}
		if address.AllocationId != nil {
			status.AllocationID = *address.AllocationId
		}
		if address.InstanceId != nil {
			status.AssociatedInstanceID = *address.InstanceId
		}
	}

	volume, err := volumeFindByName(ctx, d.ec2Client, d.volumeName())
	if err != nil {
		return status, err
	}
	if volume != nil {
		if volume.VolumeId != nil {
			status.VolumeID = *volume.VolumeId
		}
		status.VolumeState = string(volume.State)
		for _, attachment := range volume.Attachments {
			if attachment.State == types.VolumeAttachmentStateAttached && attachment.InstanceId != nil {
				status.AttachedInstance = *attachment.InstanceId
			}
		}
	}

	return status, nil
}
