package stack

import (
	"encoding/json"
	"fmt"

	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/savaki/ecs-deployer/internal/models"
	"github.com/savaki/ecs-deployer/internal/services"
)

// Logical ids in the infrastructure template.
const (
	LogGroupID       = "LogGroup"
	LogStreamID      = "LogStream"
	ClusterID        = "EcsCluster"
	RepositoryID     = "EcrRepo"
	DeliveryRoleID   = "FirehoseProducerIamRole"
	DeliveryPolicyID = "FirehoseProducerIamPolicy"
	DeliveryStreamID = "FirehoseDeliveryStream"
)

const (
	firehosePrincipal       = "firehose.amazonaws.com"
	fargateCapacityProvider = "FARGATE"
	defaultLogStream        = "firehose"
	defaultRetentionDays    = 30
	defaultUntaggedExpiry   = 1
	defaultBufferSeconds    = 60
	defaultBufferMiB        = 5
	defaultCompression      = "UNCOMPRESSED"
)

// DeliveryActions are the S3 actions the delivery stream role needs on the
// data lake bucket.
var DeliveryActions = []string{
	"s3:AbortMultipartUpload",
	"s3:GetBucketLocation",
	"s3:GetObject",
	"s3:ListBucket",
	"s3:ListBucketMultipartUploads",
	"s3:PutObject",
}

// LogActions let a principal create and write log streams.
var LogActions = []string{"logs:CreateLogStream", "logs:PutLogEvents"}

type LogGroup struct {
	Name          string
	RetentionDays int
	StreamName    string
}

type Cluster struct {
	Name              string
	CapacityProviders []string
	ContainerInsights bool
}

type Repository struct {
	Name               string
	TagMutability      string
	EncryptionType     string
	UntaggedExpiryDays int
}

type DeliveryStream struct {
	Name          string
	Bucket        string
	Prefix        string
	BufferSeconds int
	BufferMiB     int
	Compression   string
}

// Infrastructure is everything the producer needs before it can run: logging,
// the cluster, the image repository, and the delivery stream into the lake.
type Infrastructure struct {
	StackName string
	Project   string
	Region    string
	AccountID string

	LogGroup       LogGroup
	Cluster        Cluster
	Repository     Repository
	DeliveryRole   Role
	DeliveryStream DeliveryStream
}

// NewInfrastructure resolves the infrastructure for a project in the account
// and region of release.
func NewInfrastructure(p *config.Project, release *models.Release) *Infrastructure {
	infra := &Infrastructure{
		StackName: p.StackName(),
		Project:   p.Project,
		Region:    release.Region,
		AccountID: release.AccountID,
		LogGroup: LogGroup{
			Name:          p.LogGroup,
			RetentionDays: defaultRetentionDays,
			StreamName:    defaultLogStream,
		},
		Cluster: Cluster{
			Name:              p.Cluster,
			CapacityProviders: []string{fargateCapacityProvider},
			ContainerInsights: true,
		},
		Repository: Repository{
			Name:               p.Repository,
			TagMutability:      "MUTABLE",
			EncryptionType:     "AES256",
			UntaggedExpiryDays: defaultUntaggedExpiry,
		},
		DeliveryStream: DeliveryStream{
			Name:          p.DeliveryStream,
			Bucket:        p.Bucket,
			Prefix:        DeliveryPrefix(p.Project),
			BufferSeconds: defaultBufferSeconds,
			BufferMiB:     defaultBufferMiB,
			Compression:   defaultCompression,
		},
	}

	infra.DeliveryRole = Role{
		Name:       p.RoleName(release.Region),
		PolicyName: p.PolicyName(),
		AssumedBy:  firehosePrincipal,
		Policy:     DeliveryPolicy(infra.LogGroupARN(), services.BucketARN(release.Region, p.Bucket)),
	}

	return infra
}

// DeliveryPrefix is where the delivery stream writes objects for project.
func DeliveryPrefix(project string) string {
	return fmt.Sprintf("bronze/%s/", project)
}

// DeliveryPolicy grants the delivery stream exactly what it needs: writing its
// own error logs and writing objects into the bucket.
func DeliveryPolicy(logGroupARN, bucketARN string) PolicyDocument {
	return PolicyDocument{
		Version: policyVersion,
		Statement: []Statement{
			allow("FirehoseCreateAndWriteLogStreams", LogActions, logGroupARN+":*"),
			allow("FirehoseS3Access", DeliveryActions, bucketARN, bucketARN+"/*"),
		},
	}
}

func (i *Infrastructure) LogGroupARN() string {
	return LogGroupARN(i.Region, i.AccountID, i.LogGroup.Name)
}

func (i *Infrastructure) RepositoryARN() string {
	return fmt.Sprintf("arn:%s:ecr:%s:%s:repository/%s", services.Partition(i.Region), i.Region, i.AccountID, i.Repository.Name)
}

func (i *Infrastructure) DeliveryStreamARN() string {
	return fmt.Sprintf("arn:%s:firehose:%s:%s:deliverystream/%s", services.Partition(i.Region), i.Region, i.AccountID, i.DeliveryStream.Name)
}

func LogGroupARN(region, accountID, name string) string {
	return fmt.Sprintf("arn:%s:logs:%s:%s:log-group:%s", services.Partition(region), region, accountID, name)
}

// LifecyclePolicyText is the ECR lifecycle policy expiring untagged images.
func (r Repository) LifecyclePolicyText() string {
	policy := map[string]any{
		"rules": []any{
			map[string]any{
				"rulePriority": 1,
				"description":  fmt.Sprintf("Expire untagged images after %d day(s)", r.UntaggedExpiryDays),
				"selection": map[string]any{
					"tagStatus":   "untagged",
					"countType":   "sinceImagePushed",
					"countUnit":   "days",
					"countNumber": r.UntaggedExpiryDays,
				},
				"action": map[string]any{"type": "expire"},
			},
		},
	}
	data, _ := json.Marshal(policy)
	return string(data)
}

// Template renders the infrastructure as a CloudFormation template.
func (i *Infrastructure) Template() *Template {
	t := newTemplate(fmt.Sprintf("ecs-deployer infrastructure for %s", i.StackName))

	t.Resources[LogGroupID] = Resource{
		Type:                "AWS::Logs::LogGroup",
		DeletionPolicy:      "Delete",
		UpdateReplacePolicy: "Delete",
		Properties: map[string]any{
			"LogGroupName":    i.LogGroup.Name,
			"RetentionInDays": i.LogGroup.RetentionDays,
		},
	}

	t.Resources[LogStreamID] = Resource{
		Type: "AWS::Logs::LogStream",
		Properties: map[string]any{
			"LogGroupName":  Ref(LogGroupID),
			"LogStreamName": i.LogGroup.StreamName,
		},
	}

	insights := "disabled"
	if i.Cluster.ContainerInsights {
		insights = "enabled"
	}
	var strategy []any
	for _, provider := range i.Cluster.CapacityProviders {
		strategy = append(strategy, map[string]any{"CapacityProvider": provider, "Weight": 1})
	}
	t.Resources[ClusterID] = Resource{
		Type:      "AWS::ECS::Cluster",
		DependsOn: []string{LogGroupID},
		Properties: map[string]any{
			"ClusterName":                     i.Cluster.Name,
			"CapacityProviders":               i.Cluster.CapacityProviders,
			"DefaultCapacityProviderStrategy": strategy,
			"ClusterSettings": []any{
				map[string]any{"Name": "containerInsights", "Value": insights},
			},
			"Configuration": map[string]any{
				"ExecuteCommandConfiguration": map[string]any{
					"Logging": "OVERRIDE",
					"LogConfiguration": map[string]any{
						"CloudWatchLogGroupName":      i.LogGroup.Name,
						"CloudWatchEncryptionEnabled": true,
					},
				},
			},
		},
	}

	t.Resources[RepositoryID] = Resource{
		Type: "AWS::ECR::Repository",
		Properties: map[string]any{
			"RepositoryName":     i.Repository.Name,
			"ImageTagMutability": i.Repository.TagMutability,
			"EncryptionConfiguration": map[string]any{
				"EncryptionType": i.Repository.EncryptionType,
			},
			"LifecyclePolicy": map[string]any{
				"LifecyclePolicyText": i.Repository.LifecyclePolicyText(),
			},
		},
	}

	for id, r := range i.DeliveryRole.resources(DeliveryRoleID, DeliveryPolicyID) {
		t.Resources[id] = r
	}

	t.Resources[DeliveryStreamID] = Resource{
		Type:      "AWS::KinesisFirehose::DeliveryStream",
		DependsOn: []string{DeliveryPolicyID, LogStreamID},
		Properties: map[string]any{
			"DeliveryStreamName": i.DeliveryStream.Name,
			"DeliveryStreamType": "DirectPut",
			"ExtendedS3DestinationConfiguration": map[string]any{
				"BucketARN":         services.BucketARN(i.Region, i.DeliveryStream.Bucket),
				"RoleARN":           GetAtt(DeliveryRoleID, "Arn"),
				"CompressionFormat": i.DeliveryStream.Compression,
				"Prefix":            i.DeliveryStream.Prefix,
				"BufferingHints": map[string]any{
					"IntervalInSeconds": i.DeliveryStream.BufferSeconds,
					"SizeInMBs":         i.DeliveryStream.BufferMiB,
				},
				"CloudWatchLoggingOptions": map[string]any{
					"Enabled":       true,
					"LogGroupName":  i.LogGroup.Name,
					"LogStreamName": i.LogGroup.StreamName,
				},
			},
		},
	}

	t.Outputs = map[string]Output{
		"ClusterName":       {Description: "ECS cluster", Value: Ref(ClusterID)},
		"RepositoryUri":     {Description: "ECR repository URI", Value: GetAtt(RepositoryID, "RepositoryUri")},
		"DeliveryStreamArn": {Description: "Firehose delivery stream", Value: GetAtt(DeliveryStreamID, "Arn")},
		"DeliveryRoleArn":   {Description: "Role assumed by the delivery stream", Value: GetAtt(DeliveryRoleID, "Arn")},
	}

	return t
}
