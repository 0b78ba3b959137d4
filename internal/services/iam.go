package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
)

type IAMService struct {
	client IAMAPI
}

func NewIAMService(client IAMAPI) *IAMService {
	return &IAMService{client: client}
}

// GetRolePolicyDocument returns the JSON document of an inline role policy.
// IAM returns documents URL-encoded; the result is decoded.
func (s *IAMService) GetRolePolicyDocument(ctx context.Context, roleName, policyName string) (string, error) {
	result, err := s.client.GetRolePolicy(ctx, &iam.GetRolePolicyInput{
		RoleName:   aws.String(roleName),
		PolicyName: aws.String(policyName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get policy %s on role %s: %w", policyName, roleName, err)
	}

	document, err := url.PathUnescape(aws.ToString(result.PolicyDocument))
	if err != nil {
		return "", fmt.Errorf("failed to decode policy document: %w", err)
	}

	return document, nil
}
