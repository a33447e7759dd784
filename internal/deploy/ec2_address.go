package deploy

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

var (
	ErrElasticIPCreate = fmt.Errorf("failed to create public IP address")
	ErrElasticIPIDNil  = fmt.Errorf("encountered no error in elastic IP " +
		"address creation, but the returned allocation ID was nil")
	ErrElasticIPNil = fmt.Errorf("encountered no error in elastic IP " +
		"address creation, but the returned public IP was nil")
)

// elasticIPCreate allocates the deployment's public identity: a static IPv4
// address that outlives every instance.
//
// The returned strings are the allocation ID and the public IP address. The
// allocation ID is the "handle" to the elastic IP for use in assignment of
// that IP address to a resource.
func elasticIPCreate(
	ctx context.Context,
	client ec2API,
	tags ...types.Tag,
) (string, string, error) {
	result, err := client.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		TagSpecifications: tagSpecificationWithDefaults(types.ResourceTypeElasticIp, tags...),
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrElasticIPCreate, err)
	}
	if result.AllocationId == nil {
		return "", "", ErrElasticIPIDNil
	}
	if result.PublicIp == nil {
		return "", "", ErrElasticIPNil
	}
	return *result.AllocationId, *result.PublicIp, nil
}

var ErrElasticIPDelete = fmt.Errorf("failed to release elastic IP address")

func elasticIPDelete(ctx context.Context, client ec2API, allocationID string) error {
	_, err := client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
		AllocationId: &allocationID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrElasticIPDelete, err)
	}
	return nil
}

var ErrElasticIPDescribe = fmt.Errorf("failed to describe elastic IP address")

// elasticIPFindByName locates the deployment's elastic IP by its Name tag.
// Returns the address entry, or nil when none exists.
func elasticIPFindByName(ctx context.Context, client ec2API, name string) (*types.Address, error) {
	result, err := client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{
		Filters: []types.Filter{
			{
				Name:   aws.String("tag:" + tagKeyName),
				Values: []string{name},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrElasticIPDescribe, err)
	}
	if len(result.Addresses) == 0 {
		return nil, nil
	}
	return &result.Addresses[0], nil
}
