package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oastkeeper/oastkeeper/internal/o11y"
)

// Down destroys the deployment. Resources are rediscovered by their
// deterministic names, so 'down' works from any machine with credentials, not
// just the one that ran 'up'.
//
// The persistent volume is the one resource with data worth keeping: it is
// snapshotted, the snapshot is awaited to completion, and only then is the
// volume deleted. Recovery is snapshot → new volume → 'up --volume-id'.
//
// Teardown is best-effort: a failure on one resource does not stop the rest,
// and all errors are joined for the operator.
func (d *Deployer) Down(ctx context.Context) error {
	log := clog.FromContext(ctx)
	ctx, span := otel.Tracer("deploy").Start(ctx, "Down")
	span.SetAttributes(attribute.String(o11y.AttrName, d.Config.Name))
	defer span.End()
	log.Info("beginning teardown", "name", d.Config.Name)

	var errs error

	// The scaling group goes first. Force-delete terminates the instance,
	// which implicitly disassociates the elastic IP and begins the volume
	// detach.
	if group, err := scalingGroupGet(ctx, d.asgClient, d.asgName()); err != nil {
		errs = errors.Join(errs, err)
	} else if group != nil {
		if err := scalingGroupDelete(ctx, d.asgClient, d.asgName()); err != nil {
			errs = errors.Join(errs, err)
		} else {
			waitCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			errs = errors.Join(errs, awaitScalingGroupGone(waitCtx, d.asgClient, d.asgName(), d.pollEvery))
			cancel()
		}
	}

	if err := launchTemplateDelete(ctx, d.ec2Client, d.templateName()); err != nil {
		errs = errors.Join(errs, err)
	}

	// Snapshot, then delete, the data volume.
	if volume, err := volumeFindByName(ctx, d.ec2Client, d.volumeName()); err != nil {
		errs = errors.Join(errs, err)
	} else if volume != nil && volume.VolumeId != nil {
		errs = errors.Join(errs, d.snapshotAndDeleteVolume(ctx, *volume.VolumeId))
	}

	// Release the public identity.
	if address, err := elasticIPFindByName(ctx, d.ec2Client, d.eipName()); err != nil {
		errs = errors.Join(errs, err)
	} else if address != nil && address.AllocationId != nil {
		log.Info("releasing elastic IP", "allocation_id", *address.AllocationId)
		errs = errors.Join(errs, elasticIPDelete(ctx, d.ec2Client, *address.AllocationId))
	}

	// Dismantle the permission grant in reverse creation order.
	errs = errors.Join(errs,
		iamInstanceProfileRemoveRole(ctx, d.iamClient, d.profileName(), d.roleName()),
		iamInstanceProfileDelete(ctx, d.iamClient, d.profileName()),
		iamRoleDetachPolicy(ctx, d.iamClient, d.roleName(), ssmCorePolicyArn),
		iamRoleDeletePolicy(ctx, d.iamClient, d.roleName(), d.policyName()),
		iamRoleDelete(ctx, d.iamClient, d.roleName()),
	)

	// The security group last; it is held by the instance until termination
	// completes.
	if sgID, err := securityGroupFindByName(ctx, d.ec2Client, d.sgName()); err != nil {
		errs = errors.Join(errs, err)
	} else if sgID != "" {
		errs = errors.Join(errs, securityGroupDelete(ctx, d.ec2Client, sgID))
	}

	if errs != nil {
		log.Error("teardown finished with errors", "error", errs)
		return errs
	}
	log.Info("teardown is complete")
	return nil
}

func (d *Deployer) snapshotAndDeleteVolume(ctx context.Context, volumeID string) error {
	log := clog.FromContext(ctx)

	// The instance's termination detaches the volume lazily; deletion (and a
	// clean snapshot) want the volume settled first.
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	if err := awaitVolumeAvailable(waitCtx, d.ec2Client, volumeID, d.pollEvery); err != nil {
		return err
	}

	description := fmt.Sprintf("final snapshot of %s before teardown", volumeID)
	snapshotID, err := volumeSnapshot(ctx, d.ec2Client, volumeID, description, tagName(d.snapshotName()))
	if err != nil {
		return err
	}
	log.Info("final snapshot started", "snapshot_id", snapshotID, "volume_id", volumeID)

	snapCtx, cancelSnap := context.WithTimeout(ctx, 30*time.Minute)
	defer cancelSnap()
	if err := awaitSnapshotComplete(snapCtx, d.ec2Client, snapshotID, d.pollEvery); err != nil {
		// Keep the volume if the snapshot did not finish.
		return fmt.Errorf("volume %s retained, snapshot incomplete: %w", volumeID, err)
	}

	log.Info("deleting data volume", "volume_id", volumeID)
	return volumeDelete(ctx, d.ec2Client, volumeID)
}

// awaitVolumeAvailable blocks until the volume reports no attachments.
func awaitVolumeAvailable(ctx context.Context, client ec2API, volumeID string, every time.Duration) error {
	log := clog.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("deadlined waiting for volume %s to detach", volumeID)
		case <-time.After(every):
			volume, err := volumeGet(ctx, client, volumeID, "")
			if err != nil {
				return err
			}
			if volume.State == types.VolumeStateAvailable {
				return nil
			}
			log.Debug("volume still attached, waiting longer", "state", volume.State)
		}
	}
}
