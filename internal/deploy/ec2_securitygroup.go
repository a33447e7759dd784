package deploy

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/oastkeeper/oastkeeper/internal/oast"
)

var (
	ErrSecurityGroupCreate = fmt.Errorf("failed to create security group")
	ErrSecurityGroupIDNil  = fmt.Errorf("encountered no error in security " +
		"group creation, but the returned group ID was nil")
)

func securityGroupCreate(ctx context.Context, client ec2API, name, vpcID string, tags ...types.Tag) (string, error) {
	input := &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(name),
		Description:       aws.String("oastkeeper interaction server listeners"),
		TagSpecifications: tagSpecificationWithDefaults(types.ResourceTypeSecurityGroup, tags...),
	}
	// An empty VPC ID targets the account's default VPC.
	if vpcID != "" {
		input.VpcId = aws.String(vpcID)
	}
	result, err := client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSecurityGroupCreate, err)
	}
	if result.GroupId == nil {
		return "", ErrSecurityGroupIDNil
	}
	return *result.GroupId, nil
}

var ErrSecurityGroupDelete = fmt.Errorf("failed to delete security group")

func securityGroupDelete(ctx context.Context, client ec2API, sgID string) error {
	_, err := client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: &sgID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSecurityGroupDelete, err)
	}
	return nil
}

var ErrSecurityGroupInboundRuleCreate = fmt.Errorf("failed to add security group rule")

// sgListenerRulesCreate opens every listener port to the world, IPv4 and
// IPv6. A catch-all interaction server exists to receive unsolicited probes;
// there is no narrower source range to scope to.
func sgListenerRulesCreate(ctx context.Context, client ec2API, sgID string, ports []oast.Port) error {
	permissions := listenerIPPermissions(ports)
	_, err := client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:           &sgID,
		IpPermissions:     permissions,
		TagSpecifications: tagSpecificationWithDefaults(types.ResourceTypeSecurityGroupRule),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSecurityGroupInboundRuleCreate, err)
	}
	return nil
}

func listenerIPPermissions(ports []oast.Port) []types.IpPermission {
	permissions := make([]types.IpPermission, 0, len(ports))
	for _, port := range ports {
		permissions = append(permissions, types.IpPermission{
			IpProtocol: aws.String(port.Protocol),
			FromPort:   aws.Int32(port.Number),
			ToPort:     aws.Int32(port.Number),
			IpRanges: []types.IpRange{
				{
					CidrIp:      aws.String("0.0.0.0/0"),
					Description: aws.String(port.Service),
				},
			},
			Ipv6Ranges: []types.Ipv6Range{
				{
					CidrIpv6:    aws.String("::/0"),
					Description: aws.String(port.Service),
				},
			},
		})
	}
	return permissions
}

var ErrSecurityGroupDescribe = fmt.Errorf("failed to describe security groups")

// securityGroupFindByName locates the deployment's security group by name.
// Returns an empty string when none exists.
func securityGroupFindByName(ctx context.Context, client ec2API, name string) (string, error) {
	result, err := client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{
				Name:   aws.String("group-name"),
				Values: []string{name},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSecurityGroupDescribe, err)
	}
	if len(result.SecurityGroups) == 0 || result.SecurityGroups[0].GroupId == nil {
		return "", nil
	}
	return *result.SecurityGroups[0].GroupId, nil
}
