package deploy

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"
)

// ControllerDeployment holds the instance template and the replacement
// controller built on top of it.
type ControllerDeployment struct {
	LaunchTemplateName string
	LaunchTemplateID   string
	ScalingGroupName   string
}

// deployController writes the launch template and creates the
// single-capacity auto scaling group that keeps one instance alive.
func (d *Deployer) deployController(ctx context.Context, dur DurableDeployment, net NetworkDeployment) (ControllerDeployment, error) {
	log := clog.FromContext(ctx)

	ctrl := ControllerDeployment{
		LaunchTemplateName: d.templateName(),
		ScalingGroupName:   d.asgName(),
	}

	userData := renderUserData(d.Config, dur.AllocationID, dur.VolumeID)

	var err error
	ctrl.LaunchTemplateID, err = launchTemplateCreate(
		ctx,
		d.ec2Client,
		ctrl.LaunchTemplateName,
		d.Config,
		dur.ProfileName, net.SecurityGroupID, userData,
		tagName(ctrl.LaunchTemplateName),
	)
	if err != nil {
		return ctrl, err
	}
	log.Info("launch template creation is successful", "id", ctrl.LaunchTemplateID)
	d.stack.Push(func(ctx context.Context) error {
		log.Info("deleting launch template", "name", ctrl.LaunchTemplateName)
		return launchTemplateDelete(ctx, d.ec2Client, ctrl.LaunchTemplateName)
	})

	err = scalingGroupCreate(
		ctx,
		d.asgClient,
		ctrl.ScalingGroupName, ctrl.LaunchTemplateID, net.SubnetID,
	)
	if err != nil {
		return ctrl, err
	}
	log.Info("auto scaling group creation is successful",
		"name", ctrl.ScalingGroupName,
		"subnet_id", net.SubnetID,
		"availability_zone", d.Config.AvailabilityZone,
	)
	d.stack.Push(func(ctx context.Context) error {
		log.Info("deleting auto scaling group", "name", ctrl.ScalingGroupName)
		if err := scalingGroupDelete(ctx, d.asgClient, ctrl.ScalingGroupName); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		return awaitScalingGroupGone(ctx, d.asgClient, ctrl.ScalingGroupName, d.pollEvery)
	})

	return ctrl, nil
}
