package deploy

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/oastkeeper/oastkeeper/internal/oast"
)

const (
	// 'Name' is well-known within AWS itself, 'Project' identifies everything
	// this deployer creates for account-wide discovery and cleanup.
	tagKeyName    = "Name"
	tagKeyProject = "Project"

	tagDefaultProject = "oastkeeper"
)

// tagsDefault produces the standard key-value pairs associated with every
// created EC2 resource.
func tagsDefault() []types.Tag {
	return []types.Tag{
		{
			Key:   aws.String(tagKeyProject),
			Value: aws.String(tagDefaultProject),
		},
	}
}

// tagName produces a 'Name' tag.
func tagName(name string) types.Tag {
	return types.Tag{
		Key:   aws.String(tagKeyName),
		Value: aws.String(name),
	}
}

// tagMarker produces the marker tag. The marker is authorization scoping, not
// identity: the IAM reclaim policy only permits volume attach/detach against
// instances carrying it.
func tagMarker() types.Tag {
	return types.Tag{
		Key:   aws.String(oast.MarkerTagKey),
		Value: aws.String(oast.MarkerTagValue),
	}
}

// tagSpecificationWithDefaults produces a tag specification where the default
// tags are appended to the end of the 'withTags' variadic input values.
func tagSpecificationWithDefaults(rt types.ResourceType, withTags ...types.Tag) []types.TagSpecification {
	return []types.TagSpecification{
		{
			ResourceType: rt,
			Tags:         append(withTags, tagsDefault()...),
		},
	}
}

// iamTagsDefaultWithName creates IAM tags with default tags plus a Name tag.
func iamTagsDefaultWithName(name string) []iamtypes.Tag {
	return []iamtypes.Tag{
		{
			Key:   aws.String(tagKeyName),
			Value: aws.String(name),
		},
		{
			Key:   aws.String(tagKeyProject),
			Value: aws.String(tagDefaultProject),
		},
	}
}
