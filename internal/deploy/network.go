package deploy

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"

	"github.com/oastkeeper/oastkeeper/internal/oast"
)

// NetworkDeployment holds the security surface and the launch placement of
// the deployment.
type NetworkDeployment struct {
	SecurityGroupName string
	SecurityGroupID   string
	SubnetID          string
}

// deployNetwork creates the security group, opens the fixed listener port
// set to IPv4 and IPv6 sources, and resolves the subnet instances launch
// into. The subnet and the security group must live in the same VPC, so both
// are derived from the same configured VPC ID.
func (d *Deployer) deployNetwork(ctx context.Context) (NetworkDeployment, error) {
	log := clog.FromContext(ctx)

	net := NetworkDeployment{
		SecurityGroupName: d.sgName(),
	}

	var err error
	net.SecurityGroupID, err = securityGroupCreate(
		ctx,
		d.ec2Client,
		net.SecurityGroupName, d.Config.VPCID,
		tagName(net.SecurityGroupName),
	)
	if err != nil {
		return net, err
	}
	log.Info("security group creation is successful", "id", net.SecurityGroupID)
	d.stack.Push(func(ctx context.Context) error {
		log.Info("deleting security group", "id", net.SecurityGroupID)
		return securityGroupDelete(ctx, d.ec2Client, net.SecurityGroupID)
	})

	ports := oast.ListenerPorts()
	if err := sgListenerRulesCreate(ctx, d.ec2Client, net.SecurityGroupID, ports); err != nil {
		return net, err
	}
	log.Info("listener ingress rules are in place",
		"security_group_id", net.SecurityGroupID,
		"rule_count", len(ports)*2, // one v4 + one v6 range per port
	)

	net.SubnetID, err = subnetResolve(ctx, d.ec2Client, d.Config.SubnetID, d.Config.VPCID, d.Config.AvailabilityZone)
	if err != nil {
		return net, err
	}
	log.Info("launch subnet is resolved", "subnet_id", net.SubnetID)

	return net, nil
}

var (
	ErrSubnetDescribe  = fmt.Errorf("failed to describe subnets")
	ErrSubnetNotFound  = fmt.Errorf("no usable subnet found in the volume's availability zone")
	ErrSubnetWrongZone = fmt.Errorf("configured subnet is not in the volume's availability zone")
)

// subnetResolve returns the subnet the scaling group launches into. An
// explicitly configured subnet is verified to sit in the volume's
// availability zone; otherwise the zone's subnet is discovered, scoped to
// the configured VPC when one is set and to the zone default subnet when
// not.
func subnetResolve(ctx context.Context, client ec2API, subnetID, vpcID, az string) (string, error) {
	input := &ec2.DescribeSubnetsInput{}
	if subnetID != "" {
		input.SubnetIds = []string{subnetID}
	} else {
		input.Filters = []types.Filter{
			{Name: aws.String("availability-zone"), Values: []string{az}},
		}
		if vpcID != "" {
			input.Filters = append(input.Filters,
				types.Filter{Name: aws.String("vpc-id"), Values: []string{vpcID}})
		} else {
			input.Filters = append(input.Filters,
				types.Filter{Name: aws.String("default-for-az"), Values: []string{"true"}})
		}
	}

	result, err := client.DescribeSubnets(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubnetDescribe, err)
	}
	if len(result.Subnets) == 0 {
		return "", fmt.Errorf("%w: zone %s", ErrSubnetNotFound, az)
	}

	subnet := result.Subnets[0]
	if aws.ToString(subnet.AvailabilityZone) != az {
		return "", fmt.Errorf("%w: %s is in %s, the volume is in %s",
			ErrSubnetWrongZone,
			aws.ToString(subnet.SubnetId), aws.ToString(subnet.AvailabilityZone), az,
		)
	}
	return aws.ToString(subnet.SubnetId), nil
}
