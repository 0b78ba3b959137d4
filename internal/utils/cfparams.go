package utils

import (
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// MergeParameters merges parameter maps, later maps taking precedence, into a
// CloudFormation parameter list sorted by key
func MergeParameters(pp ...map[string]string) []types.Parameter {
	m := map[string]string{}
	for _, p := range pp {
		maps.Copy(m, p)
	}

	var results []types.Parameter
	for _, k := range slices.Sorted(maps.Keys(m)) {
		results = append(results, types.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(m[k]),
		})
	}

	return results
}

// StackTags converts tags into CloudFormation stack tags sorted by key. Empty
// values are dropped since CloudFormation rejects them.
func StackTags(tags map[string]string) []types.Tag {
	var results []types.Tag
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		if tags[k] == "" {
			continue
		}
		results = append(results, types.Tag{
			Key:   aws.String(k),
			Value: aws.String(tags[k]),
		})
	}
	return results
}
