package bootstrap

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/google/go-containerregistry/pkg/name"

	"github.com/oastkeeper/oastkeeper/internal/oast"
	"github.com/oastkeeper/oastkeeper/internal/workload"
)

// Paths inside the workload container. The host side is the mounted
// persistent volume; the container side is fixed by the server's CLI.
const (
	containerEventStorePath = "/data"
	containerHTTPServePath  = "/www"
	containerFTPServePath   = "/ftp"
)

var ErrImageReference = fmt.Errorf("workload image reference is not parseable")

// stepPullImage fetches the workload artifact. The reference is a
// deployment choice: "latest" is acceptable since the server's startup is
// agnostic to the artifact's change history, and a digest pin works the same
// way through here.
func (r *Runner) stepPullImage(ctx context.Context) error {
	log := clog.FromContext(ctx)

	ref, err := name.ParseReference(r.cfg.Image)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrImageReference, err)
	}

	if err := r.engine.Pull(ctx, ref); err != nil {
		return fmt.Errorf("failed to pull workload image %s: %w", ref, err)
	}
	log.Info("workload image is present", "image", ref.String())
	return nil
}

var (
	ErrWorkloadStart      = fmt.Errorf("failed to start workload container")
	ErrWorkloadNeverReady = fmt.Errorf("workload never began accepting connections")
)

// stepStartWorkload launches the interaction server bound to the mounted
// data path and the fixed listener port set, then blocks until it is
// observably accepting connections. The readiness gate is what makes the
// final address association safe: traffic is only redirected to an instance
// with a live listener.
//
// The container restart policy is always-restart: a crashed workload process
// restarting in place is cheaper and faster than replacing the whole
// instance.
func (r *Runner) stepStartWorkload(ctx context.Context) error {
	log := clog.FromContext(ctx)

	ref, err := name.ParseReference(r.cfg.Image)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrImageReference, err)
	}

	req := &workload.Request{
		Ref:           ref,
		Name:          r.cfg.ContainerName,
		Cmd:           r.workloadArgs(),
		Mounts:        r.workloadMounts(),
		PortBindings:  listenerPortBindings(),
		RestartAlways: true,
	}

	containerID, err := r.engine.EnsureRunning(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWorkloadStart, err)
	}
	log.Info("workload container is running", "container_id", containerID)

	// DNS is the one listener every interaction flow touches; its TCP port
	// answering is the readiness signal.
	readyCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := waitTCP(readyCtx, r.readyHost, r.readyPort); err != nil {
		return fmt.Errorf("%w: %w", ErrWorkloadNeverReady, err)
	}
	log.Info("workload is accepting connections")
	return nil
}

func (r *Runner) workloadArgs() []string {
	args := []string{
		"-domain", r.cfg.Domain,
		"-token", r.cfg.Token,
		"-disk",
		"-disk-path", containerEventStorePath,
		"-http-dir", containerHTTPServePath,
		"-ftp-dir", containerFTPServePath,
	}
	if r.cfg.EnableFTP {
		args = append(args, "-ftp")
	}
	if r.cfg.EnableLDAP {
		args = append(args, "-ldap")
	}
	if r.cfg.EnableWildcard {
		args = append(args, "-wildcard")
	}
	return args
}

func (r *Runner) workloadMounts() []mount.Mount {
	subdirs := oast.VolumeSubdirs(r.cfg.MountPath)
	targets := []string{containerEventStorePath, containerHTTPServePath, containerFTPServePath}
	mounts := make([]mount.Mount, 0, len(subdirs))
	for i, source := range subdirs {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: source,
			Target: targets[i],
		})
	}
	return mounts
}

// listenerPortBindings maps every listener port to the same host port on all
// interfaces, IPv4 and IPv6.
func listenerPortBindings() nat.PortMap {
	bindings := make(nat.PortMap)
	for _, port := range oast.ListenerPorts() {
		containerPort := nat.Port(fmt.Sprintf("%d/%s", port.Number, port.Protocol))
		bindings[containerPort] = []nat.PortBinding{
			{HostPort: strconv.Itoa(int(port.Number))},
		}
	}
	return bindings
}

// waitTCP waits for a TCP port to become reachable on the provided target
// 'host'.
//
// If an error is returned by this function it will be 'context.Deadline'.
func waitTCP(ctx context.Context, host string, port uint16) error {
	log := clog.FromContext(ctx).With("host", host, "port", port)
	target := net.JoinHostPort(host, strconv.Itoa(int(port)))
	for {
		select {
		case <-ctx.Done():
			log.Debug("hit deadline waiting for the listener to come up")
			return context.DeadlineExceeded
		case <-time.After(250 * time.Millisecond):
			if tcpPortOpen(ctx, target) {
				return nil
			}
		}
	}
}

var dialer = &net.Dialer{
	Timeout: 3 * time.Second,
}

func tcpPortOpen(ctx context.Context, target string) bool {
	log := clog.FromContext(ctx).With("target", target)
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		log.Debug("target is not yet reachable", "error", err)
		return false
	}
	if err := conn.Close(); err != nil {
		log.Warn("encountered error closing TCP connection", "error", err)
	}
	return true
}
