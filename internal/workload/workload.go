// workload drives the local container engine for the interaction server:
// image pulls, container lifecycle, and the always-restart policy that keeps
// a crashed server process recovering in place instead of forcing a whole
// instance replacement.
package workload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Client wraps the engine API client.
type Client struct {
	inner *client.Client
}

// New connects to the local engine socket (or DOCKER_HOST when set).
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(
		client.WithAPIVersionNegotiation(),
		client.WithHostFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating engine client: %w", err)
	}
	return &Client{inner: cli}, nil
}

// Request describes the workload container.
type Request struct {
	Ref           name.Reference
	Name          string
	Env           []string
	Cmd           []string
	Mounts        []mount.Mount
	PortBindings  nat.PortMap
	RestartAlways bool
	Timeout       time.Duration
}

// Ping reports whether the engine is answering.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.inner.Ping(ctx); err != nil {
		return fmt.Errorf("engine ping: %w", err)
	}
	return nil
}

// Pull fetches the image if the engine does not already have it.
func (c *Client) Pull(ctx context.Context, ref name.Reference) error {
	var buf bytes.Buffer
	if _, err := c.inner.ImageInspect(ctx, ref.Name(), client.ImageInspectWithRawResponse(&buf)); err == nil {
		return nil
	} else if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("checking if image exists: %w", err)
	}

	// The engine API wants its own auth token; resolve it from the default
	// keychain the same way a CLI pull would.
	a, err := authn.DefaultKeychain.Resolve(ref.Context().Registry)
	if err != nil {
		return fmt.Errorf("resolving keychain for registry %s: %w", ref.Context().Registry, err)
	}
	acfg, err := a.Authorization()
	if err != nil {
		return fmt.Errorf("getting authorization: %w", err)
	}
	authJSON, err := json.Marshal(registry.AuthConfig{
		Username: acfg.Username,
		Password: acfg.Password,
		Auth:     acfg.Auth,
	})
	if err != nil {
		return fmt.Errorf("marshaling auth config: %w", err)
	}

	reader, err := c.inner.ImagePull(ctx, ref.Name(), image.PullOptions{
		RegistryAuth: base64.URLEncoding.EncodeToString(authJSON),
	})
	if err != nil {
		return fmt.Errorf("pulling image: %w", err)
	}
	defer reader.Close()

	// Drain the progress stream; the pull isn't complete until EOF.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull progress: %w", err)
	}
	return nil
}

// EnsureRunning makes the named container exist and run with the requested
// configuration, returning its ID. An already-running container of the same
// name is left alone; a stopped or stale one is removed and recreated. This
// makes agent reruns (in-place reboot of the same instance) converge rather
// than fail.
func (c *Client) EnsureRunning(ctx context.Context, req *Request) (string, error) {
	if req.Ref == nil {
		return "", fmt.Errorf("no image reference provided")
	}
	if req.Timeout == 0 {
		req.Timeout = 2 * time.Minute
	}

	if inspect, err := c.inner.ContainerInspect(ctx, req.Name); err == nil {
		if inspect.State != nil && inspect.State.Running {
			return inspect.ID, nil
		}
		if err := c.inner.ContainerRemove(ctx, inspect.ID, container.RemoveOptions{Force: true}); err != nil {
			return "", fmt.Errorf("removing stale container: %w", err)
		}
	} else if !cerrdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspecting container: %w", err)
	}

	exposedPorts := make(nat.PortSet)
	for port := range req.PortBindings {
		exposedPorts[port] = struct{}{}
	}

	restartPolicy := container.RestartPolicy{Name: container.RestartPolicyDisabled}
	if req.RestartAlways {
		restartPolicy = container.RestartPolicy{Name: container.RestartPolicyAlways}
	}

	cresp, err := c.inner.ContainerCreate(ctx,
		&container.Config{
			Image:        req.Ref.String(),
			Env:          req.Env,
			Cmd:          req.Cmd,
			ExposedPorts: exposedPorts,
		},
		&container.HostConfig{
			RestartPolicy: restartPolicy,
			Mounts:        req.Mounts,
			PortBindings:  req.PortBindings,
		},
		nil, nil, req.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	if cresp.ID == "" {
		return "", fmt.Errorf("failed to create container, ID is empty")
	}

	if err := c.inner.ContainerStart(ctx, cresp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}

	// Block until the engine reports the container running.
	if err := wait.PollUntilContextTimeout(ctx, time.Second, req.Timeout, true, func(ctx context.Context) (bool, error) {
		inspect, err := c.inner.ContainerInspect(ctx, cresp.ID)
		if err != nil {
			// Transient inspect failures resolve within the timeout.
			return false, nil
		}
		return inspect.State != nil && inspect.State.Running, nil
	}); err != nil {
		return "", fmt.Errorf("waiting for container to be running: %w", err)
	}

	return cresp.ID, nil
}
