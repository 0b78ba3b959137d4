// Package terraform renders the infrastructure as Terraform configuration for
// teams that manage state with terraform instead of CloudFormation.
package terraform

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/savaki/ecs-deployer/internal/services"
	"github.com/savaki/ecs-deployer/internal/stack"
	"github.com/savaki/gox/slicex"
	"github.com/zclconf/go-cty/cty"
)

// ProviderVersion constrains the AWS provider.
const ProviderVersion = "~> 5.0"

// Backend is an S3 remote state location. A nil backend keeps local state.
type Backend struct {
	Bucket string
	Key    string
	Region string
}

// Render produces main.tf for infra.
func Render(infra *stack.Infrastructure, backend *Backend) ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	tf := root.AppendNewBlock("terraform", nil).Body()
	tf.AppendNewBlock("required_providers", nil).Body().
		SetAttributeValue("aws", cty.ObjectVal(map[string]cty.Value{
			"source":  cty.StringVal("hashicorp/aws"),
			"version": cty.StringVal(ProviderVersion),
		}))
	if backend != nil && backend.Bucket != "" {
		s3 := tf.AppendNewBlock("backend", []string{"s3"}).Body()
		s3.SetAttributeValue("bucket", cty.StringVal(backend.Bucket))
		s3.SetAttributeValue("key", cty.StringVal(backend.Key))
		s3.SetAttributeValue("region", cty.StringVal(backend.Region))
	}
	root.AppendNewline()

	provider := root.AppendNewBlock("provider", []string{"aws"}).Body()
	provider.SetAttributeValue("region", cty.StringVal(infra.Region))
	provider.SetAttributeValue("allowed_account_ids", cty.ListVal([]cty.Value{cty.StringVal(infra.AccountID)}))
	tags := provider.AppendNewBlock("default_tags", nil).Body()
	tags.SetAttributeValue("tags", cty.MapVal(map[string]cty.Value{
		"Stack":     cty.StringVal(infra.StackName),
		"ManagedBy": cty.StringVal("ecs-deployer"),
	}))

	renderLogs(root, infra)
	renderCluster(root, infra)
	renderRepository(root, infra)
	if err := renderDelivery(root, infra); err != nil {
		return nil, err
	}

	return hclwrite.Format(f.Bytes()), nil
}

func resource(body *hclwrite.Body, kind, name string) *hclwrite.Body {
	body.AppendNewline()
	return body.AppendNewBlock("resource", []string{kind, name}).Body()
}

// ref is a reference to an attribute of another resource.
func ref(kind, name, attr string) hcl.Traversal {
	return hcl.Traversal{
		hcl.TraverseRoot{Name: kind},
		hcl.TraverseAttr{Name: name},
		hcl.TraverseAttr{Name: attr},
	}
}

func dependsOn(body *hclwrite.Body, kind, name string) {
	body.SetAttributeRaw("depends_on", hclwrite.TokensForTuple([]hclwrite.Tokens{
		hclwrite.TokensForTraversal(hcl.Traversal{
			hcl.TraverseRoot{Name: kind},
			hcl.TraverseAttr{Name: name},
		}),
	}))
}

func renderLogs(root *hclwrite.Body, infra *stack.Infrastructure) {
	group := resource(root, "aws_cloudwatch_log_group", "this")
	group.SetAttributeValue("name", cty.StringVal(infra.LogGroup.Name))
	group.SetAttributeValue("retention_in_days", cty.NumberIntVal(int64(infra.LogGroup.RetentionDays)))

	stream := resource(root, "aws_cloudwatch_log_stream", "firehose")
	stream.SetAttributeValue("name", cty.StringVal(infra.LogGroup.StreamName))
	stream.SetAttributeTraversal("log_group_name", ref("aws_cloudwatch_log_group", "this", "name"))
}

func renderCluster(root *hclwrite.Body, infra *stack.Infrastructure) {
	cluster := resource(root, "aws_ecs_cluster", "this")
	cluster.SetAttributeValue("name", cty.StringVal(infra.Cluster.Name))

	insights := "disabled"
	if infra.Cluster.ContainerInsights {
		insights = "enabled"
	}
	setting := cluster.AppendNewBlock("setting", nil).Body()
	setting.SetAttributeValue("name", cty.StringVal("containerInsights"))
	setting.SetAttributeValue("value", cty.StringVal(insights))

	exec := cluster.AppendNewBlock("configuration", nil).Body().
		AppendNewBlock("execute_command_configuration", nil).Body()
	exec.SetAttributeValue("logging", cty.StringVal("OVERRIDE"))
	logConfig := exec.AppendNewBlock("log_configuration", nil).Body()
	logConfig.SetAttributeValue("cloud_watch_encryption_enabled", cty.True)
	logConfig.SetAttributeTraversal("cloud_watch_log_group_name", ref("aws_cloudwatch_log_group", "this", "name"))

	providers := resource(root, "aws_ecs_cluster_capacity_providers", "this")
	providers.SetAttributeTraversal("cluster_name", ref("aws_ecs_cluster", "this", "name"))
	names := slicex.Map(infra.Cluster.CapacityProviders, cty.StringVal)
	providers.SetAttributeValue("capacity_providers", cty.ListVal(names))
	for _, p := range infra.Cluster.CapacityProviders {
		strategy := providers.AppendNewBlock("default_capacity_provider_strategy", nil).Body()
		strategy.SetAttributeValue("capacity_provider", cty.StringVal(p))
		strategy.SetAttributeValue("weight", cty.NumberIntVal(1))
	}
}

func renderRepository(root *hclwrite.Body, infra *stack.Infrastructure) {
	repo := resource(root, "aws_ecr_repository", "this")
	repo.SetAttributeValue("name", cty.StringVal(infra.Repository.Name))
	repo.SetAttributeValue("image_tag_mutability", cty.StringVal(infra.Repository.TagMutability))
	encryption := repo.AppendNewBlock("encryption_configuration", nil).Body()
	encryption.SetAttributeValue("encryption_type", cty.StringVal(infra.Repository.EncryptionType))

	lifecycle := resource(root, "aws_ecr_lifecycle_policy", "this")
	lifecycle.SetAttributeTraversal("repository", ref("aws_ecr_repository", "this", "name"))
	lifecycle.SetAttributeValue("policy", cty.StringVal(infra.Repository.LifecyclePolicyText()))
}

func renderDelivery(root *hclwrite.Body, infra *stack.Infrastructure) error {
	assume, err := stack.AssumeRolePolicy(infra.DeliveryRole.AssumedBy).JSON()
	if err != nil {
		return err
	}
	policy, err := infra.DeliveryRole.Policy.JSON()
	if err != nil {
		return err
	}

	role := resource(root, "aws_iam_role", "firehose")
	role.SetAttributeValue("name", cty.StringVal(infra.DeliveryRole.Name))
	role.SetAttributeValue("assume_role_policy", cty.StringVal(assume))

	rolePolicy := resource(root, "aws_iam_role_policy", "firehose")
	rolePolicy.SetAttributeValue("name", cty.StringVal(infra.DeliveryRole.PolicyName))
	rolePolicy.SetAttributeTraversal("role", ref("aws_iam_role", "firehose", "id"))
	rolePolicy.SetAttributeValue("policy", cty.StringVal(policy))

	ds := infra.DeliveryStream
	stream := resource(root, "aws_kinesis_firehose_delivery_stream", "this")
	stream.SetAttributeValue("name", cty.StringVal(ds.Name))
	stream.SetAttributeValue("destination", cty.StringVal("extended_s3"))

	dest := stream.AppendNewBlock("extended_s3_configuration", nil).Body()
	dest.SetAttributeTraversal("role_arn", ref("aws_iam_role", "firehose", "arn"))
	dest.SetAttributeValue("bucket_arn", cty.StringVal(services.BucketARN(infra.Region, ds.Bucket)))
	dest.SetAttributeValue("prefix", cty.StringVal(ds.Prefix))
	dest.SetAttributeValue("buffering_interval", cty.NumberIntVal(int64(ds.BufferSeconds)))
	dest.SetAttributeValue("buffering_size", cty.NumberIntVal(int64(ds.BufferMiB)))
	dest.SetAttributeValue("compression_format", cty.StringVal(ds.Compression))

	logging := dest.AppendNewBlock("cloudwatch_logging_options", nil).Body()
	logging.SetAttributeValue("enabled", cty.True)
	logging.SetAttributeTraversal("log_group_name", ref("aws_cloudwatch_log_group", "this", "name"))
	logging.SetAttributeTraversal("log_stream_name", ref("aws_cloudwatch_log_stream", "firehose", "name"))

	dependsOn(stream, "aws_iam_role_policy", "firehose")

	return nil
}

// BackendFor builds the remote state backend, or nil when no state bucket is
// configured.
func BackendFor(bucket, key, region string) *Backend {
	if bucket == "" {
		return nil
	}
	if key == "" {
		key = "terraform.tfstate"
	}
	return &Backend{Bucket: bucket, Key: key, Region: region}
}

func (b *Backend) String() string {
	if b == nil {
		return "local"
	}
	return fmt.Sprintf("s3://%s/%s", b.Bucket, b.Key)
}
