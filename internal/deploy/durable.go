package deploy

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
)

// DurableDeployment collects the identifiers of the resources that outlive
// any one instance: the public identity, the persistent volume and the
// permission grant.
type DurableDeployment struct {
	// Public identity
	AllocationID string
	PublicIP     string
	// Persistent volume
	VolumeID string
	// Permission grant
	RoleARN     string
	RoleName    string
	ProfileName string
	AccountID   string
}

// deployDurable creates the durable resource set, pushing a destructor for
// each member so a failed 'Up' rolls everything back. The volume destructor
// here deletes without a snapshot: rollback of a creation that never served
// traffic has nothing worth preserving; 'Down' is the path that snapshots.
func (d *Deployer) deployDurable(ctx context.Context) (DurableDeployment, error) {
	log := clog.FromContext(ctx)

	var dur DurableDeployment

	// Allocate the public identity.
	var err error
	dur.AllocationID, dur.PublicIP, err = elasticIPCreate(
		ctx,
		d.ec2Client,
		tagName(d.eipName()),
	)
	if err != nil {
		return dur, err
	}
	log.Info("elastic IP allocation is successful",
		"allocation_id", dur.AllocationID,
		"public_ip", dur.PublicIP,
	)
	d.stack.Push(func(ctx context.Context) error {
		log.Info("releasing elastic IP", "allocation_id", dur.AllocationID)
		return elasticIPDelete(ctx, d.ec2Client, dur.AllocationID)
	})

	// Create or adopt the persistent volume.
	if d.Config.VolumeID != "" {
		// Adopted volumes (e.g. restored from a snapshot) are validated, not
		// created, and are never rolled back by this deployer.
		if _, err := volumeGet(ctx, d.ec2Client, d.Config.VolumeID, d.Config.AvailabilityZone); err != nil {
			return dur, err
		}
		dur.VolumeID = d.Config.VolumeID
		log.Info("adopted existing data volume", "volume_id", dur.VolumeID)
	} else {
		dur.VolumeID, err = volumeCreate(
			ctx,
			d.ec2Client,
			d.Config.AvailabilityZone,
			d.Config.DataVolumeSize,
			d.runID,
			tagName(d.volumeName()), tagMarker(),
		)
		if err != nil {
			return dur, err
		}
		log.Info("data volume creation is successful",
			"volume_id", dur.VolumeID,
			"availability_zone", d.Config.AvailabilityZone,
		)
		d.stack.Push(func(ctx context.Context) error {
			log.Info("deleting data volume", "volume_id", dur.VolumeID)
			return volumeDelete(ctx, d.ec2Client, dur.VolumeID)
		})
	}

	// Create the permission grant: role, scoped inline policy, managed SSM
	// policy, instance profile.
	dur.RoleName = d.roleName()
	dur.ProfileName = d.profileName()
	dur.RoleARN, err = iamRoleCreate(ctx, d.iamClient, dur.RoleName, iamTagsDefaultWithName(dur.RoleName)...)
	if err != nil {
		return dur, err
	}
	d.stack.Push(func(ctx context.Context) error {
		return iamRoleDelete(ctx, d.iamClient, dur.RoleName)
	})

	dur.AccountID, err = accountFromARN(dur.RoleARN)
	if err != nil {
		return dur, err
	}

	policyJSON, err := marshalPolicy(reclaimPolicyDocument(
		d.Config.Region, dur.AccountID, dur.AllocationID, dur.VolumeID,
	))
	if err != nil {
		return dur, err
	}
	if err := iamRolePutPolicy(ctx, d.iamClient, dur.RoleName, d.policyName(), policyJSON); err != nil {
		return dur, err
	}
	d.stack.Push(func(ctx context.Context) error {
		return iamRoleDeletePolicy(ctx, d.iamClient, dur.RoleName, d.policyName())
	})

	if err := iamRoleAttachPolicy(ctx, d.iamClient, dur.RoleName, ssmCorePolicyArn); err != nil {
		return dur, err
	}
	d.stack.Push(func(ctx context.Context) error {
		return iamRoleDetachPolicy(ctx, d.iamClient, dur.RoleName, ssmCorePolicyArn)
	})

	if _, err := iamInstanceProfileCreate(ctx, d.iamClient, dur.ProfileName, iamTagsDefaultWithName(dur.ProfileName)...); err != nil {
		return dur, err
	}
	d.stack.Push(func(ctx context.Context) error {
		return iamInstanceProfileDelete(ctx, d.iamClient, dur.ProfileName)
	})

	if err := iamInstanceProfileAddRole(ctx, d.iamClient, dur.ProfileName, dur.RoleName); err != nil {
		return dur, err
	}
	d.stack.Push(func(ctx context.Context) error {
		return iamInstanceProfileRemoveRole(ctx, d.iamClient, dur.ProfileName, dur.RoleName)
	})

	log.Info("durable resource set is complete",
		"allocation_id", dur.AllocationID,
		"volume_id", dur.VolumeID,
		"role_arn", dur.RoleARN,
	)
	return dur, nil
}

var ErrDurableIncomplete = fmt.Errorf("durable resource set is incomplete")
