package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oastkeeper/oastkeeper/internal/oast"
)

// The permission model. The running instance may do exactly four things:
// bind the deployment's public identity to itself, attach/detach the one
// data volume, force a volume release from a predecessor instance carrying
// the marker tag, and read volume/address state to wait for attachment
// settle. Nothing else: a compromised workload on the instance must not be
// able to touch any other resource in the account.

const (
	iamPolicyVersion = "2012-10-17"
	iamEffectAllow   = "Allow"
)

// reclaimPolicyDocument builds the least-privilege inline policy scoped to
// this deployment's elastic IP allocation and volume identifiers.
func reclaimPolicyDocument(region, accountID, allocationID, volumeID string) map[string]any {
	arnPrefix := fmt.Sprintf("arn:aws:ec2:%s:%s", region, accountID)
	return map[string]any{
		"Version": iamPolicyVersion,
		"Statement": []map[string]any{
			{
				"Sid":    "AssociatePublicIdentity",
				"Effect": iamEffectAllow,
				"Action": []string{
					"ec2:AssociateAddress",
					"ec2:DisassociateAddress",
				},
				// AssociateAddress authorizes against the address AND the
				// target instance/interface. The powerful object is the
				// allocation, scoped exactly; instances and interfaces are
				// only ever targets of this one address.
				"Resource": []string{
					arnPrefix + ":elastic-ip/" + allocationID,
					arnPrefix + ":instance/*",
					arnPrefix + ":network-interface/*",
				},
			},
			{
				"Sid":    "ReclaimVolume",
				"Effect": iamEffectAllow,
				"Action": []string{
					"ec2:AttachVolume",
					"ec2:DetachVolume",
				},
				"Resource": []string{
					arnPrefix + ":volume/" + volumeID,
				},
			},
			{
				"Sid":    "ReclaimVolumeFromMarkedInstance",
				"Effect": iamEffectAllow,
				"Action": []string{
					"ec2:AttachVolume",
					"ec2:DetachVolume",
				},
				// The marker tag condition is what lets a replacement force a
				// release from its dying predecessor without being granted
				// power over arbitrary instances.
				"Resource": []string{
					arnPrefix + ":instance/*",
				},
				"Condition": map[string]any{
					"StringEquals": map[string]any{
						"aws:ResourceTag/" + oast.MarkerTagKey: oast.MarkerTagValue,
					},
				},
			},
			{
				"Sid":    "DiscoverAttachmentState",
				"Effect": iamEffectAllow,
				"Action": []string{
					"ec2:DescribeVolumes",
					"ec2:DescribeAddresses",
				},
				// Describe calls have no side effects and do not support
				// resource-level scoping.
				"Resource": "*",
			},
		},
	}
}

var ErrPolicyMarshal = errors.New("failed to marshal policy document")

func marshalPolicy(doc map[string]any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPolicyMarshal, err)
	}
	return string(data), nil
}

var ErrMalformedARN = errors.New("malformed IAM role ARN")

// accountFromARN extracts the account ID from an IAM ARN
// (arn:aws:iam::123456789012:role/name). The scoped policy needs it to build
// resource ARNs, and the role is always created before the policy.
func accountFromARN(arn string) (string, error) {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 || parts[4] == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedARN, arn)
	}
	return parts[4], nil
}
