package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/chainguard-dev/clog"
)

var (
	ErrIdentify      = fmt.Errorf("failed to fetch instance identity from the metadata service")
	ErrIdentityEmpty = fmt.Errorf("metadata service returned an identity document with an empty instance ID")
)

// stepIdentify obtains this instance's own identifier from the local
// metadata endpoint. The client fetches a short-lived session token first
// (IMDSv2), never a long-lived credential; with the launch template
// requiring tokens, the identity read is protected against
// response-splitting and metadata-spoofing.
func (r *Runner) stepIdentify(ctx context.Context) error {
	log := clog.FromContext(ctx)

	result, err := r.identity.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIdentify, err)
	}
	if result.InstanceID == "" {
		return ErrIdentityEmpty
	}

	r.instanceID = result.InstanceID
	r.availabilityZone = result.AvailabilityZone
	log.Info("instance self-identification is successful",
		"instance_id", r.instanceID,
		"availability_zone", r.availabilityZone,
	)
	return nil
}
