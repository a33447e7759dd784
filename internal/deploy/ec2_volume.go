package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
)

var (
	ErrVolumeCreate = fmt.Errorf("failed to create EBS volume")
	ErrVolumeIDNil  = fmt.Errorf("encountered no error in volume creation, " +
		"but the returned volume ID was nil")
)

// volumeCreate provisions the persistent data volume. Encryption is not
// configurable: the volume holds captured interaction data and is always
// encrypted. The availability zone is fixed for the volume's lifetime; every
// replacement instance must launch in the same zone.
func volumeCreate(
	ctx context.Context,
	client ec2API,
	az string,
	sizeGB int32,
	clientToken string,
	tags ...types.Tag,
) (string, error) {
	result, err := client.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone:  aws.String(az),
		Size:              aws.Int32(sizeGB),
		VolumeType:        types.VolumeTypeGp3,
		Encrypted:         aws.Bool(true),
		ClientToken:       aws.String(clientToken),
		TagSpecifications: tagSpecificationWithDefaults(types.ResourceTypeVolume, tags...),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVolumeCreate, err)
	}
	if result.VolumeId == nil {
		return "", ErrVolumeIDNil
	}
	return *result.VolumeId, nil
}

var ErrVolumeDelete = fmt.Errorf("failed to delete EBS volume")

func volumeDelete(ctx context.Context, client ec2API, volumeID string) error {
	_, err := client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
		VolumeId: &volumeID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVolumeDelete, err)
	}
	return nil
}

var (
	ErrVolumeDescribe  = fmt.Errorf("failed to describe EBS volume")
	ErrVolumeNotFound  = fmt.Errorf("EBS volume not found")
	ErrVolumeWrongZone = fmt.Errorf("EBS volume is in a different availability " +
		"zone than the deployment; volumes cannot cross zone boundaries")
)

// volumeGet fetches the volume, verifying it exists in the expected zone when
// 'az' is non-empty. An adopted volume (restored from snapshot) in the wrong
// zone is a configuration fault, not something any retry can fix.
func volumeGet(ctx context.Context, client ec2API, volumeID, az string) (*types.Volume, error) {
	result, err := client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: []string{volumeID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVolumeDescribe, err)
	}
	if len(result.Volumes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrVolumeNotFound, volumeID)
	}
	volume := &result.Volumes[0]
	if az != "" && volume.AvailabilityZone != nil && *volume.AvailabilityZone != az {
		return nil, fmt.Errorf("%w: volume is in %s, deployment is in %s",
			ErrVolumeWrongZone, *volume.AvailabilityZone, az)
	}
	return volume, nil
}

// volumeFindByName locates the deployment's data volume by its Name tag.
// Returns nil when none exists.
func volumeFindByName(ctx context.Context, client ec2API, name string) (*types.Volume, error) {
	result, err := client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		Filters: []types.Filter{
			{
				Name:   aws.String("tag:" + tagKeyName),
				Values: []string{name},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVolumeDescribe, err)
	}
	if len(result.Volumes) == 0 {
		return nil, nil
	}
	return &result.Volumes[0], nil
}

var (
	ErrSnapshotCreate = fmt.Errorf("failed to create volume snapshot")
	ErrSnapshotIDNil  = fmt.Errorf("encountered no error in snapshot " +
		"creation, but the returned snapshot ID was nil")
)

// volumeSnapshot snapshots the data volume. Teardown never deletes the
// volume's contents without one; restoring a deployment is snapshot → new
// volume → 'up --volume-id'.
func volumeSnapshot(ctx context.Context, client ec2API, volumeID, description string, tags ...types.Tag) (string, error) {
	result, err := client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:          &volumeID,
		Description:       &description,
		TagSpecifications: tagSpecificationWithDefaults(types.ResourceTypeSnapshot, tags...),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSnapshotCreate, err)
	}
	if result.SnapshotId == nil {
		return "", ErrSnapshotIDNil
	}
	return *result.SnapshotId, nil
}

var (
	ErrSnapshotDescribe = fmt.Errorf("failed to describe volume snapshot")
	ErrSnapshotFailed   = fmt.Errorf("volume snapshot entered the 'error' state")
)

// awaitSnapshotComplete blocks until the snapshot finishes copying. The
// volume must not be deleted before this returns.
func awaitSnapshotComplete(ctx context.Context, client ec2API, snapshotID string, every time.Duration) error {
	log := clog.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("deadlined waiting for snapshot completion")
		case <-time.After(every):
			result, err := client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
				SnapshotIds: []string{snapshotID},
			})
			if err != nil {
				return fmt.Errorf("%w: %w", ErrSnapshotDescribe, err)
			}
			if len(result.Snapshots) == 0 {
				return fmt.Errorf("%w: snapshot %s disappeared", ErrSnapshotDescribe, snapshotID)
			}
			switch state := result.Snapshots[0].State; state {
			case types.SnapshotStateCompleted:
				log.Info("snapshot is complete", "snapshot_id", snapshotID)
				return nil
			case types.SnapshotStateError:
				return fmt.Errorf("%w: %s", ErrSnapshotFailed, snapshotID)
			default:
				log.Debug("snapshot still copying, waiting longer", "state", state)
			}
		}
	}
}
