package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type IdentityService struct {
	client STSAPI
}

func NewIdentityService(client STSAPI) *IdentityService {
	return &IdentityService{client: client}
}

// GetAccountID retrieves the AWS account ID of the ambient credentials
func (s *IdentityService) GetAccountID(ctx context.Context) (string, error) {
	result, err := s.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}

	if result.Account == nil {
		return "", fmt.Errorf("account ID is nil")
	}

	return *result.Account, nil
}
