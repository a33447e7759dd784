package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/chainguard-dev/clog"
)

const (
	// ssmCorePolicyArn is the AWS managed policy granting the session-based
	// remote management channel (SSM). Operational access to the instance is
	// out-of-band sessions, not network SSH.
	ssmCorePolicyArn = "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore"

	awsServiceEC2       = "ec2.amazonaws.com"
	stsActionAssumeRole = "sts:AssumeRole"

	iamRoleDescription = "IAM role letting the oastkeeper server instance reclaim its durable resources"
)

var (
	errIAMRoleCreate                = errors.New("failed to create IAM role")
	errIAMRoleARNNil                = errors.New("encountered no error in IAM role creation, but the returned ARN was nil")
	errIAMRolePutPolicy             = errors.New("failed to put inline policy on IAM role")
	errIAMRoleAttachPolicy          = errors.New("failed to attach policy to IAM role")
	errIAMInstanceProfileCreate     = errors.New("failed to create IAM instance profile")
	errIAMInstanceProfileAddRole    = errors.New("failed to add role to instance profile")
	errIAMRoleDeletePolicy          = errors.New("failed to delete inline policy from IAM role")
	errIAMRoleDetachPolicy          = errors.New("failed to detach policy from IAM role")
	errIAMInstanceProfileRemoveRole = errors.New("failed to remove role from instance profile")
	errIAMInstanceProfileDelete     = errors.New("failed to delete IAM instance profile")
	errIAMRoleDelete                = errors.New("failed to delete IAM role")
	errTrustPolicyMarshal           = errors.New("failed to marshal trust policy")
)

// iamRoleCreate creates an IAM role with EC2 service trust policy, returning
// the role ARN.
func iamRoleCreate(ctx context.Context, client iamAPI, roleName string, tags ...iamtypes.Tag) (string, error) {
	log := clog.FromContext(ctx)

	trustPolicy := map[string]any{
		"Version": iamPolicyVersion,
		"Statement": []map[string]any{
			{
				"Effect": iamEffectAllow,
				"Principal": map[string]any{
					"Service": awsServiceEC2,
				},
				"Action": stsActionAssumeRole,
			},
		},
	}

	trustPolicyJSON, err := json.Marshal(trustPolicy)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTrustPolicyMarshal, err)
	}

	log.Info("creating IAM role", "role_name", roleName)
	result, err := client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(roleName),
		AssumeRolePolicyDocument: aws.String(string(trustPolicyJSON)),
		Description:              aws.String(iamRoleDescription),
		Tags:                     tags,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errIAMRoleCreate, err)
	}
	if result.Role == nil || result.Role.Arn == nil {
		return "", errIAMRoleARNNil
	}

	log.Info("successfully created IAM role", "role_name", roleName, "role_arn", *result.Role.Arn)
	return *result.Role.Arn, nil
}

// iamRolePutPolicy attaches an inline policy document to an IAM role.
func iamRolePutPolicy(ctx context.Context, client iamAPI, roleName, policyName, policyJSON string) error {
	log := clog.FromContext(ctx)

	log.Info("putting inline policy on IAM role", "role_name", roleName, "policy_name", policyName)
	_, err := client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(roleName),
		PolicyName:     aws.String(policyName),
		PolicyDocument: aws.String(policyJSON),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRolePutPolicy, err)
	}
	return nil
}

// iamRoleAttachPolicy attaches an AWS managed policy to an IAM role.
func iamRoleAttachPolicy(ctx context.Context, client iamAPI, roleName, policyArn string) error {
	log := clog.FromContext(ctx)

	log.Info("attaching policy to IAM role", "role_name", roleName, "policy_arn", policyArn)
	_, err := client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(policyArn),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRoleAttachPolicy, err)
	}
	return nil
}

// iamInstanceProfileCreate creates an IAM instance profile.
func iamInstanceProfileCreate(ctx context.Context, client iamAPI, profileName string, tags ...iamtypes.Tag) (string, error) {
	log := clog.FromContext(ctx)

	log.Info("creating IAM instance profile", "profile_name", profileName)
	result, err := client.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
		Tags:                tags,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errIAMInstanceProfileCreate, err)
	}

	log.Info("successfully created IAM instance profile", "profile_name", profileName, "profile_arn", *result.InstanceProfile.Arn)
	return *result.InstanceProfile.Arn, nil
}

// iamInstanceProfileAddRole adds an IAM role to an instance profile.
func iamInstanceProfileAddRole(ctx context.Context, client iamAPI, profileName, roleName string) error {
	log := clog.FromContext(ctx)

	log.Info("adding role to instance profile", "profile_name", profileName, "role_name", roleName)
	_, err := client.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
		RoleName:            aws.String(roleName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMInstanceProfileAddRole, err)
	}
	return nil
}

// Cleanup functions.

func iamRoleDeletePolicy(ctx context.Context, client iamAPI, roleName, policyName string) error {
	clog.FromContext(ctx).Info("deleting inline policy from IAM role", "role_name", roleName, "policy_name", policyName)
	_, err := client.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
		RoleName:   aws.String(roleName),
		PolicyName: aws.String(policyName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRoleDeletePolicy, err)
	}
	return nil
}

func iamRoleDetachPolicy(ctx context.Context, client iamAPI, roleName, policyArn string) error {
	clog.FromContext(ctx).Info("detaching policy from IAM role", "role_name", roleName, "policy_arn", policyArn)
	_, err := client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(policyArn),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRoleDetachPolicy, err)
	}
	return nil
}

func iamInstanceProfileRemoveRole(ctx context.Context, client iamAPI, profileName, roleName string) error {
	clog.FromContext(ctx).Info("removing role from instance profile", "profile_name", profileName, "role_name", roleName)
	_, err := client.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
		RoleName:            aws.String(roleName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMInstanceProfileRemoveRole, err)
	}
	return nil
}

func iamInstanceProfileDelete(ctx context.Context, client iamAPI, profileName string) error {
	clog.FromContext(ctx).Info("deleting IAM instance profile", "profile_name", profileName)
	_, err := client.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMInstanceProfileDelete, err)
	}
	return nil
}

func iamRoleDelete(ctx context.Context, client iamAPI, roleName string) error {
	clog.FromContext(ctx).Info("deleting IAM role", "role_name", roleName)
	_, err := client.DeleteRole(ctx, &iam.DeleteRoleInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRoleDelete, err)
	}
	return nil
}
