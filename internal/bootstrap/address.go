package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/chainguard-dev/clog"
)

var ErrAddressAssociate = fmt.Errorf("failed to associate public address with this instance")

// stepAssociateAddress publishes this instance's network identity by binding
// the deployment's elastic IP to self. It runs last, strictly after the
// workload readiness gate: the service is already accepting connections when
// traffic cuts over, so no probes are dropped to an instance without a
// listener.
//
// AllowReassociation lets the bind steal the address from a predecessor that
// is still winding down; a residual association is retried away like any
// other transient conflict.
func (r *Runner) stepAssociateAddress(ctx context.Context) error {
	log := clog.FromContext(ctx)

	return retryOnConflict(ctx, r.backoff, func(ctx context.Context) error {
		result, err := r.ec2Client.AssociateAddress(ctx, &ec2.AssociateAddressInput{
			AllocationId:       aws.String(r.cfg.AllocationID),
			InstanceId:         aws.String(r.instanceID),
			AllowReassociation: aws.Bool(true),
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAddressAssociate, err)
		}
		log.Info("public identity is bound to this instance",
			"association_id", aws.ToString(result.AssociationId),
		)
		return nil
	})
}
