package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	deployerrors "github.com/savaki/ecs-deployer/internal/errors"
	"github.com/savaki/gox/slicex"
)

type ECRService struct {
	client ECRAPI
}

func NewECRService(client ECRAPI) *ECRService {
	return &ECRService{client: client}
}

type RepositoryInfo struct {
	Name string
	ARN  string
	URI  string
}

// RegistryCredentials are the docker login credentials for an ECR registry.
type RegistryCredentials struct {
	Username  string
	Password  string
	Endpoint  string
	ExpiresAt time.Time
}

// DescribeRepository returns the repository or ErrRepositoryNotFound.
func (s *ECRService) DescribeRepository(ctx context.Context, repositoryName string) (*RepositoryInfo, error) {
	output, err := s.client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{repositoryName},
	})
	if err != nil {
		var notFound *types.RepositoryNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", deployerrors.ErrRepositoryNotFound, repositoryName)
		}
		return nil, fmt.Errorf("failed to describe repository %s: %w", repositoryName, err)
	}
	if len(output.Repositories) == 0 {
		return nil, fmt.Errorf("%w: %s", deployerrors.ErrRepositoryNotFound, repositoryName)
	}

	repo := output.Repositories[0]
	return &RepositoryInfo{
		Name: aws.ToString(repo.RepositoryName),
		ARN:  aws.ToString(repo.RepositoryArn),
		URI:  aws.ToString(repo.RepositoryUri),
	}, nil
}

// GetAuthorization exchanges the ambient AWS credentials for registry
// credentials, the API equivalent of `aws ecr get-login-password`.
func (s *ECRService) GetAuthorization(ctx context.Context) (*RegistryCredentials, error) {
	output, err := s.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(output.AuthorizationData) == 0 {
		return nil, deployerrors.ErrNoAuthorizationData
	}

	data := output.AuthorizationData[0]
	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ECR authorization token: %w", err)
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, fmt.Errorf("malformed ECR authorization token")
	}

	return &RegistryCredentials{
		Username:  username,
		Password:  password,
		Endpoint:  strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://"),
		ExpiresAt: aws.ToTime(data.ExpiresAt),
	}, nil
}

// ImageDigests returns the manifest digest each tag points at. Tags that do not
// exist are missing from the result.
func (s *ECRService) ImageDigests(ctx context.Context, repositoryName string, tags ...string) (map[string]string, error) {
	ids := slicex.Map(tags, func(tag string) types.ImageIdentifier {
		return types.ImageIdentifier{ImageTag: aws.String(tag)}
	})

	output, err := s.client.BatchGetImage(ctx, &ecr.BatchGetImageInput{
		RepositoryName: aws.String(repositoryName),
		ImageIds:       ids,
	})
	if err != nil {
		var notFound *types.RepositoryNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", deployerrors.ErrRepositoryNotFound, repositoryName)
		}
		return nil, fmt.Errorf("failed to get images from %s: %w", repositoryName, err)
	}

	digests := make(map[string]string, len(tags))
	for _, image := range output.Images {
		if image.ImageId == nil {
			continue
		}
		digests[aws.ToString(image.ImageId.ImageTag)] = aws.ToString(image.ImageId.ImageDigest)
	}

	return digests, nil
}
