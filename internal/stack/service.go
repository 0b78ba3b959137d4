package stack

import (
	"fmt"
	"strconv"

	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/savaki/ecs-deployer/internal/models"
)

// Logical ids in the service template.
const (
	SecurityGroupID        = "SecurityGroup"
	SecurityGroupIngressID = "SecurityGroupIngress"
	ExecutionRoleID        = "FargateExecutionIamRole"
	ExecutionPolicyID      = "FargateExecutionIamPolicy"
	TaskRoleID             = "FargateTaskIamRole"
	TaskPolicyID           = "FargateTaskIamPolicy"
	TaskDefinitionID       = "FargateTaskDefinition"
	ServiceID              = "FargateService"

	// ImageTagParameter selects the image the task definition runs.
	ImageTagParameter = "ImageTag"
)

const (
	ecsTasksPrincipal = "ecs-tasks.amazonaws.com"
	containerName     = "container-firehose-producer"
	logStreamPrefix   = "fargate"

	// SecretEnvVar is the variable the API token secret is injected as.
	SecretEnvVar = "TIINGO_API_TOKEN"
)

// Service is the Fargate service running the producer image.
type Service struct {
	StackName string
	Region    string

	Cluster        string
	Name           string
	TaskFamily     string
	ContainerName  string
	RepositoryURI  string
	ImageTag       string
	CPU            int
	MemoryMiB      int
	Architecture   string
	DesiredCount   int
	MinHealthyPct  int
	MaxHealthyPct  int
	LogGroup       string
	SecretARN      string
	SecretEnv      string
	VpcID          string
	SubnetIDs      []string
	ExecutionRole  Role
	TaskRole       Role
	DeliveryStream string
}

// NewService resolves the service stack. secretARN is the full ARN of the
// API token secret. Returns nil when the project has no network configured.
func NewService(p *config.Project, release *models.Release, infra *Infrastructure, secretARN string) *Service {
	if p.Network == nil {
		return nil
	}

	return &Service{
		StackName:      p.ServiceStackName(),
		Region:         release.Region,
		Cluster:        p.Cluster,
		Name:           p.Service,
		TaskFamily:     fmt.Sprintf("task-%s-%s-firehose-producer", p.Org, p.Project),
		ContainerName:  containerName,
		RepositoryURI:  release.RepositoryURI(),
		ImageTag:       models.LatestTag,
		CPU:            512,
		MemoryMiB:      1024,
		Architecture:   "ARM64",
		DesiredCount:   1,
		MinHealthyPct:  0,
		MaxHealthyPct:  100,
		LogGroup:       p.LogGroup,
		SecretARN:      secretARN,
		SecretEnv:      SecretEnvVar,
		VpcID:          p.Network.VpcID,
		SubnetIDs:      p.Network.SubnetIDs,
		DeliveryStream: infra.DeliveryStreamARN(),
		ExecutionRole: Role{
			Name:       fmt.Sprintf("iam-%s-%s-%s-fargate-execution", release.Region, p.Org, p.Project),
			PolicyName: fmt.Sprintf("policy-%s-%s-fargate-execution", p.Org, p.Project),
			AssumedBy:  ecsTasksPrincipal,
			Policy: PolicyDocument{
				Version: policyVersion,
				Statement: []Statement{
					allow("FargateCreateAndWriteLogStreams", LogActions, infra.LogGroupARN()+":*"),
					allow("FargatePullEcrImage", []string{
						"ecr:BatchCheckLayerAvailability",
						"ecr:GetDownloadUrlForLayer",
						"ecr:BatchGetImage",
					}, infra.RepositoryARN()),
					allow("FargateGetEcrAuthToken", []string{"ecr:GetAuthorizationToken"}, "*"),
				},
			},
		},
		TaskRole: Role{
			Name:       fmt.Sprintf("iam-%s-%s-%s-fargate-task", release.Region, p.Org, p.Project),
			PolicyName: fmt.Sprintf("policy-%s-%s-fargate-task", p.Org, p.Project),
			AssumedBy:  ecsTasksPrincipal,
			Policy: PolicyDocument{
				Version: policyVersion,
				Statement: []Statement{
					allow("FargateGetSecretsManagerSecret", []string{"secretsmanager:GetSecretValue"}, secretARN),
					allow("FargateWriteToFirehose", []string{"firehose:PutRecord"}, infra.DeliveryStreamARN()),
				},
			},
		},
	}
}

// Template renders the service as a CloudFormation template.
func (s *Service) Template() *Template {
	t := newTemplate(fmt.Sprintf("ecs-deployer service for %s", s.StackName))

	t.Parameters = map[string]Parameter{
		ImageTagParameter: {
			Type:        "String",
			Default:     s.ImageTag,
			Description: "Tag of the image in " + s.RepositoryURI,
		},
	}

	t.Resources[SecurityGroupID] = Resource{
		Type: "AWS::EC2::SecurityGroup",
		Properties: map[string]any{
			"GroupDescription": fmt.Sprintf("%s tasks", s.Name),
			"VpcId":            s.VpcID,
			"SecurityGroupEgress": []any{
				map[string]any{"IpProtocol": "-1", "CidrIp": "0.0.0.0/0"},
			},
		},
	}

	// tasks in the group may reach each other
	t.Resources[SecurityGroupIngressID] = Resource{
		Type: "AWS::EC2::SecurityGroupIngress",
		Properties: map[string]any{
			"GroupId":               GetAtt(SecurityGroupID, "GroupId"),
			"IpProtocol":            "-1",
			"SourceSecurityGroupId": GetAtt(SecurityGroupID, "GroupId"),
		},
	}

	for id, r := range s.ExecutionRole.resources(ExecutionRoleID, ExecutionPolicyID) {
		t.Resources[id] = r
	}
	for id, r := range s.TaskRole.resources(TaskRoleID, TaskPolicyID) {
		t.Resources[id] = r
	}

	t.Resources[TaskDefinitionID] = Resource{
		Type: "AWS::ECS::TaskDefinition",
		Properties: map[string]any{
			"Family":                  s.TaskFamily,
			"Cpu":                     strconv.Itoa(s.CPU),
			"Memory":                  strconv.Itoa(s.MemoryMiB),
			"NetworkMode":             "awsvpc",
			"RequiresCompatibilities": []string{"FARGATE"},
			"RuntimePlatform": map[string]any{
				"CpuArchitecture":       s.Architecture,
				"OperatingSystemFamily": "LINUX",
			},
			"ExecutionRoleArn": GetAtt(ExecutionRoleID, "Arn"),
			"TaskRoleArn":      GetAtt(TaskRoleID, "Arn"),
			"ContainerDefinitions": []any{
				map[string]any{
					"Name":      s.ContainerName,
					"Image":     Sub(s.RepositoryURI + ":${" + ImageTagParameter + "}"),
					"Essential": true,
					"Secrets": []any{
						map[string]any{"Name": s.SecretEnv, "ValueFrom": s.SecretARN},
					},
					"LogConfiguration": map[string]any{
						"LogDriver": "awslogs",
						"Options": map[string]string{
							"awslogs-group":         s.LogGroup,
							"awslogs-region":        s.Region,
							"awslogs-stream-prefix": logStreamPrefix,
						},
					},
				},
			},
		},
	}

	t.Resources[ServiceID] = Resource{
		Type:      "AWS::ECS::Service",
		DependsOn: []string{ExecutionPolicyID, TaskPolicyID},
		Properties: map[string]any{
			"ServiceName":    s.Name,
			"Cluster":        s.Cluster,
			"TaskDefinition": Ref(TaskDefinitionID),
			"LaunchType":     "FARGATE",
			"DesiredCount":   s.DesiredCount,
			"DeploymentConfiguration": map[string]any{
				"MinimumHealthyPercent": s.MinHealthyPct,
				"MaximumPercent":        s.MaxHealthyPct,
			},
			"NetworkConfiguration": map[string]any{
				"AwsvpcConfiguration": map[string]any{
					"AssignPublicIp": "ENABLED",
					"SecurityGroups": []any{GetAtt(SecurityGroupID, "GroupId")},
					"Subnets":        s.SubnetIDs,
				},
			},
		},
	}

	t.Outputs = map[string]Output{
		"ServiceName": {Description: "ECS service", Value: GetAtt(ServiceID, "Name")},
	}

	return t
}
