package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/oastkeeper/oastkeeper/internal/oast"
)

const filesystemType = "ext4"

var (
	ErrDeviceNotFound = fmt.Errorf("data volume block device not found on this instance")
	ErrProbeDevice    = fmt.Errorf("failed to probe block device for a filesystem")
	ErrMakeFilesystem = fmt.Errorf("failed to initialize filesystem on data volume")
)

// stepPrepareFilesystem probes the block device for an existing recognized
// filesystem and initializes one only when none is found.
//
// The check-before-format guard is the idempotence boundary that makes
// repeated boots against the same volume safe: a replacement instance
// reusing the volume after a crash finds a filesystem, skips the format, and
// all prior data survives. Finding one is the expected steady state on every
// bootstrap after the first.
func (r *Runner) stepPrepareFilesystem(ctx context.Context) error {
	log := clog.FromContext(ctx)

	device, err := r.resolveDevice()
	if err != nil {
		return err
	}
	log.Info("resolved data volume block device", "device", device)

	fsType, err := r.probeFilesystem(ctx, device)
	if err != nil {
		return err
	}
	if fsType != "" {
		log.Info("device already carries a filesystem, skipping format",
			"filesystem", fsType,
		)
		return nil
	}

	log.Info("device is blank, initializing filesystem", "filesystem", filesystemType)
	if out, err := r.exec.run(ctx, "mkfs."+filesystemType, "-L", "oast-data", device); err != nil {
		return fmt.Errorf("%w: %w: %s", ErrMakeFilesystem, err, out)
	}
	log.Info("filesystem initialization is successful")
	return nil
}

var (
	ErrDeviceUUID  = fmt.Errorf("failed to read filesystem UUID from block device")
	ErrFstabWrite  = fmt.Errorf("failed to persist mount in fstab")
	ErrMountVolume = fmt.Errorf("failed to mount data volume")
	ErrServiceDirs = fmt.Errorf("failed to create service directories")
)

// stepMount records the mount durably in fstab (so a plain reboot of this
// same instance reattaches correctly, not just a replacement), mounts the
// volume at the service data path, and creates the event-store and
// file-serving subdirectories if absent.
func (r *Runner) stepMount(ctx context.Context) error {
	log := clog.FromContext(ctx)

	device, err := r.resolveDevice()
	if err != nil {
		return err
	}

	// fstab entries reference the filesystem UUID, not the device path; NVMe
	// enumeration order is not stable across reboots.
	uuid, err := r.exec.run(ctx, "blkid", "-o", "value", "-s", "UUID", device)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUUID, err)
	}
	if uuid == "" {
		return fmt.Errorf("%w: blkid reported no UUID for %s", ErrDeviceUUID, device)
	}

	if err := r.ensureFstabEntry(uuid); err != nil {
		return err
	}

	if err := os.MkdirAll(r.cfg.MountPath, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrMountVolume, err)
	}

	if _, err := r.exec.run(ctx, "mountpoint", "-q", r.cfg.MountPath); err == nil {
		log.Info("data volume is already mounted", "path", r.cfg.MountPath)
	} else {
		if out, err := r.exec.run(ctx, "mount", r.cfg.MountPath); err != nil {
			return fmt.Errorf("%w: %w: %s", ErrMountVolume, err, out)
		}
		log.Info("data volume mounted", "path", r.cfg.MountPath, "uuid", uuid)
	}

	for _, dir := range oast.VolumeSubdirs(r.cfg.MountPath) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrServiceDirs, err)
		}
	}
	log.Info("service directories are in place",
		"dirs", strings.Join(oast.VolumeSubdirs(r.cfg.MountPath), ","),
	)
	return nil
}

// resolveDevice finds the data volume's block device. The attach call names
// a fixed device (/dev/sdf), but Nitro instances surface EBS volumes as NVMe
// namespaces instead; those are located under /dev/disk/by-id by the EBS
// volume ID serial.
func (r *Runner) resolveDevice() (string, error) {
	if _, err := os.Stat(r.cfg.Device); err == nil {
		return r.cfg.Device, nil
	}

	serial := strings.Replace(r.cfg.VolumeID, "-", "", 1)
	candidate := filepath.Join(r.byIDDir, "nvme-Amazon_Elastic_Block_Store_"+serial)
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		return resolved, nil
	}
	return "", fmt.Errorf("%w: tried %s and %s", ErrDeviceNotFound, r.cfg.Device, candidate)
}

// probeFilesystem returns the filesystem type on the device, or "" when the
// device is blank. blkid exits non-zero for a blank device with no output;
// that is the "no filesystem" answer, not an error.
func (r *Runner) probeFilesystem(ctx context.Context, device string) (string, error) {
	out, err := r.exec.run(ctx, "blkid", "-o", "value", "-s", "TYPE", device)
	if err != nil {
		if out == "" {
			return "", nil
		}
		return "", fmt.Errorf("%w: %w: %s", ErrProbeDevice, err, out)
	}
	return out, nil
}

// ensureFstabEntry appends the mount to fstab once; reruns find the existing
// entry and leave the file alone.
func (r *Runner) ensureFstabEntry(uuid string) error {
	entry := fmt.Sprintf("UUID=%s %s %s defaults,nofail 0 2\n", uuid, r.cfg.MountPath, filesystemType)

	existing, err := os.ReadFile(r.fstabPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", ErrFstabWrite, err)
	}
	if strings.Contains(string(existing), "UUID="+uuid) {
		return nil
	}

	f, err := os.OpenFile(r.fstabPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFstabWrite, err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("%w: %w", ErrFstabWrite, err)
	}
	return nil
}
