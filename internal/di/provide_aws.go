package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/savaki/ecs-deployer/internal/services"
)

func ProvideAWSConfig(ctx context.Context, settings Settings) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if settings.Region != "" {
		opts = append(opts, config.WithRegion(settings.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

func ProvideCloudFormationClient(cfg aws.Config) *cloudformation.Client {
	return cloudformation.NewFromConfig(cfg)
}

func ProvideDynamoDB(cfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg)
}

func ProvideECRClient(cfg aws.Config) *ecr.Client {
	return ecr.NewFromConfig(cfg)
}

func ProvideECSClient(cfg aws.Config) *ecs.Client {
	return ecs.NewFromConfig(cfg)
}

func ProvideFirehoseClient(cfg aws.Config) *firehose.Client {
	return firehose.NewFromConfig(cfg)
}

func ProvideIAMClient(cfg aws.Config) *iam.Client {
	return iam.NewFromConfig(cfg)
}

func ProvideS3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

func ProvideSecretsManagerClient(cfg aws.Config) *secretsmanager.Client {
	return secretsmanager.NewFromConfig(cfg)
}

func ProvideSTSClient(cfg aws.Config) *sts.Client {
	return sts.NewFromConfig(cfg)
}

func ProvideECRService(client *ecr.Client) *services.ECRService {
	return services.NewECRService(client)
}

func ProvideFirehoseService(client *firehose.Client) *services.FirehoseService {
	return services.NewFirehoseService(client)
}

func ProvideIAMService(client *iam.Client) *services.IAMService {
	return services.NewIAMService(client)
}

func ProvideIdentityService(client *sts.Client) *services.IdentityService {
	return services.NewIdentityService(client)
}

func ProvideS3Service(client *s3.Client) *services.S3Service {
	return services.NewS3Service(client)
}

func ProvideSecretsManagerService(client *secretsmanager.Client) *services.SecretsManagerService {
	return services.NewSecretsManagerService(client)
}
