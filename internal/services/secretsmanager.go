package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type SecretsManagerService struct {
	client SecretsManagerAPI
}

func NewSecretsManagerService(client SecretsManagerAPI) *SecretsManagerService {
	return &SecretsManagerService{client: client}
}

// GetSecretARN resolves a secret name to its full ARN, including the random
// suffix ECS needs to inject it into a container.
func (s *SecretsManagerService) GetSecretARN(ctx context.Context, secretName string) (string, error) {
	result, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe secret %s: %w", secretName, err)
	}

	if result.ARN == nil {
		return "", fmt.Errorf("secret %s has no ARN", secretName)
	}

	return *result.ARN, nil
}
