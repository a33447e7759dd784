package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"k8s.io/apimachinery/pkg/util/wait"
)

var ErrRuntimeUnavailable = fmt.Errorf("container runtime is not available")

// stepEnsureRuntime verifies the container engine is up, starting it if the
// image baked it but did not enable it. The step is idempotent: an engine
// already answering pings is left alone. An engine that never comes up is a
// configuration fault of the machine image: fatal, not retried forever.
func (r *Runner) stepEnsureRuntime(ctx context.Context) error {
	log := clog.FromContext(ctx)

	if err := r.engine.Ping(ctx); err == nil {
		log.Info("container runtime is already running")
		return nil
	}

	log.Info("container runtime is not answering, attempting service start")
	if out, err := r.exec.run(ctx, "systemctl", "start", "docker"); err != nil {
		log.Warn("service start attempt failed", "error", err, "output", out)
	}

	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, r.pollEvery, 90*time.Second, true, func(ctx context.Context) (bool, error) {
		if err := r.engine.Ping(ctx); err != nil {
			lastErr = err
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntimeUnavailable, lastErr)
	}
	log.Info("container runtime is running")
	return nil
}
