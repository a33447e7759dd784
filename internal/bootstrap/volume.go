package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
	"k8s.io/apimachinery/pkg/util/wait"
)

var (
	ErrVolumeAttach   = fmt.Errorf("failed to attach data volume")
	ErrVolumeDescribe = fmt.Errorf("failed to describe data volume")
	ErrVolumeGone     = fmt.Errorf("data volume not found; the durable resource set is broken")
)

// stepAttachVolume issues the attach request for the persistent volume to
// self at the fixed device name.
//
// The volume may still be shown attached to a now-dead predecessor, whose
// implicit detach-on-terminate lags. The attach is retried with bounded
// backoff until the control plane completes that detach; "already attached
// elsewhere" is never fatal on the first attempt. No force-detach is issued:
// forcing would risk ripping the volume off an instance that is not actually
// dead (a false health check), and the lazy detach resolves within the retry
// budget.
func (r *Runner) stepAttachVolume(ctx context.Context) error {
	log := clog.FromContext(ctx)

	// Re-running against a volume already attached to self is a no-op, not an
	// error. This happens on an in-place agent rerun after a reboot.
	attachment, err := r.volumeAttachment(ctx)
	if err != nil {
		return err
	}
	if attachment != nil && aws.ToString(attachment.InstanceId) == r.instanceID {
		log.Info("volume is already attached to this instance, nothing to do",
			"state", attachment.State,
		)
		return nil
	}
	if attachment != nil {
		log.Info("volume is currently attached to a predecessor, will contend for it",
			"holder", aws.ToString(attachment.InstanceId),
			"state", attachment.State,
		)
	}

	return retryOnConflict(ctx, r.backoff, func(ctx context.Context) error {
		_, err := r.ec2Client.AttachVolume(ctx, &ec2.AttachVolumeInput{
			VolumeId:   aws.String(r.cfg.VolumeID),
			InstanceId: aws.String(r.instanceID),
			Device:     aws.String(r.cfg.Device),
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrVolumeAttach, err)
		}
		log.Info("volume attach request accepted", "device", r.cfg.Device)
		return nil
	})
}

var ErrVolumeNeverSettled = fmt.Errorf("volume attachment never reached the 'attached' state")

// stepAwaitVolume blocks until the control plane reports the attachment as
// fully settled. Touching the block device before that, formatting in
// particular, is a race that corrupts filesystem state.
func (r *Runner) stepAwaitVolume(ctx context.Context) error {
	log := clog.FromContext(ctx)

	err := wait.PollUntilContextTimeout(ctx, r.pollEvery, 5*time.Minute, true, func(ctx context.Context) (bool, error) {
		attachment, err := r.volumeAttachment(ctx)
		if err != nil {
			if isTransientConflict(err) {
				return false, nil
			}
			return false, err
		}
		if attachment == nil || aws.ToString(attachment.InstanceId) != r.instanceID {
			log.Debug("volume not yet attached to this instance, waiting longer")
			return false, nil
		}
		if attachment.State != types.VolumeAttachmentStateAttached {
			log.Debug("volume attachment still settling, waiting longer", "state", attachment.State)
			return false, nil
		}
		return true, nil
	})
	if wait.Interrupted(err) {
		return ErrVolumeNeverSettled
	}
	if err != nil {
		return err
	}
	log.Info("volume attachment is settled, block device is safe to use")
	return nil
}

// volumeAttachment fetches the volume's current attachment, or nil when the
// volume is unattached.
func (r *Runner) volumeAttachment(ctx context.Context) (*types.VolumeAttachment, error) {
	result, err := r.ec2Client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: []string{r.cfg.VolumeID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVolumeDescribe, err)
	}
	if len(result.Volumes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrVolumeGone, r.cfg.VolumeID)
	}
	for i := range result.Volumes[0].Attachments {
		attachment := &result.Volumes[0].Attachments[i]
		// Detaching attachments still hold the slot; report them.
		if attachment.State != types.VolumeAttachmentStateDetached {
			return attachment, nil
		}
	}
	return nil, nil
}
