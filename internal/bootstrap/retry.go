package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Transient conflict codes returned while a predecessor instance is still
// being torn down by the control plane. These are the expected steady-state
// noise of an unplanned replacement and are never fatal on first occurrence.
//
//   - VolumeInUse / IncorrectState: the volume still shows attached to the
//     terminated predecessor; the implicit detach completes lazily.
//   - InvalidInstanceID.NotFound: this instance is so new the control plane
//     has not finished propagating it.
//   - Resource.AlreadyAssociated: the address is still bound to the
//     predecessor.
//   - RequestLimitExceeded: plain API throttling.
var transientConflictCodes = map[string]bool{
	"VolumeInUse":                true,
	"IncorrectState":             true,
	"InvalidInstanceID.NotFound": true,
	"Resource.AlreadyAssociated": true,
	"RequestLimitExceeded":       true,
}

func isTransientConflict(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return transientConflictCodes[apiErr.ErrorCode()]
}

// reclaimBackoff is the retry budget for the two steps racing a
// predecessor's asynchronous detach. Capped exponential, roughly five
// minutes end to end, comfortably beyond the lazy detach of a terminated
// instance, and well inside the controller's health check grace period.
func reclaimBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: 2 * time.Second,
		Factor:   1.5,
		Jitter:   0.1,
		Cap:      30 * time.Second,
		Steps:    40,
	}
}

// retryOnConflict runs fn until it succeeds, the conflict budget is
// exhausted, or a non-transient error appears. Transient conflicts are
// logged and retried; everything else surfaces immediately as a
// configuration or capacity fault.
func retryOnConflict(ctx context.Context, backoff wait.Backoff, fn func(ctx context.Context) error) error {
	log := clog.FromContext(ctx)
	attempt := 0
	var lastConflict error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		err := fn(ctx)
		if err == nil {
			return true, nil
		}
		if isTransientConflict(err) {
			lastConflict = err
			log.Info("transient conflict, predecessor likely still releasing; retrying",
				"attempt", attempt,
				"error", err,
			)
			return false, nil
		}
		return false, err
	})
	if wait.Interrupted(err) && lastConflict != nil {
		return errors.Join(err, lastConflict)
	}
	return err
}
