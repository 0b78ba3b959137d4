package policy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/savaki/ecs-deployer/internal/config"
	deployerrors "github.com/savaki/ecs-deployer/internal/errors"
	"github.com/savaki/ecs-deployer/internal/models"
	"github.com/savaki/ecs-deployer/internal/stack"
)

func TestValidator_ValidateTemplate(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	tests := []struct {
		name             string
		template         string
		project          string
		expectAllow      bool
		expectViolations []string
	}{
		{
			name: "Scoped delivery policy and correct prefix",
			template: `{
				"Resources": {
					"Policy": {
						"Type": "AWS::IAM::Policy",
						"Properties": {
							"PolicyDocument": {
								"Statement": [
									{"Effect": "Allow", "Action": ["s3:PutObject"], "Resource": ["arn:aws:s3:::lake/*"]}
								]
							}
						}
					},
					"Stream": {
						"Type": "AWS::KinesisFirehose::DeliveryStream",
						"Properties": {
							"ExtendedS3DestinationConfiguration": {"Prefix": "bronze/crypto/"}
						}
					}
				}
			}`,
			project:     "crypto",
			expectAllow: true,
		},
		{
			name: "Auth token may use a star resource",
			template: `{
				"Resources": {
					"Policy": {
						"Type": "AWS::IAM::Policy",
						"Properties": {
							"PolicyDocument": {
								"Statement": [
									{"Effect": "Allow", "Action": "ecr:GetAuthorizationToken", "Resource": "*"}
								]
							}
						}
					}
				}
			}`,
			project:     "crypto",
			expectAllow: true,
		},
		{
			name: "Star resource on s3 actions",
			template: `{
				"Resources": {
					"Policy": {
						"Type": "AWS::IAM::Policy",
						"Properties": {
							"PolicyDocument": {
								"Statement": [
									{"Effect": "Allow", "Action": ["s3:PutObject"], "Resource": "*"}
								]
							}
						}
					}
				}
			}`,
			project:          "crypto",
			expectAllow:      false,
			expectViolations: []string{"Policy 'Policy' grants 's3:PutObject' on resource '*'"},
		},
		{
			name: "Wildcard action",
			template: `{
				"Resources": {
					"Policy": {
						"Type": "AWS::IAM::Policy",
						"Properties": {
							"PolicyDocument": {
								"Statement": [
									{"Effect": "Allow", "Action": ["s3:*"], "Resource": ["arn:aws:s3:::lake"]}
								]
							}
						}
					}
				}
			}`,
			project:          "crypto",
			expectAllow:      false,
			expectViolations: []string{"Policy 'Policy' uses wildcard action 's3:*'"},
		},
		{
			name: "Repository without lifecycle",
			template: `{
				"Resources": {
					"EcrRepo": {
						"Type": "AWS::ECR::Repository",
						"Properties": {"RepositoryName": "repo"}
					}
				}
			}`,
			project:          "crypto",
			expectAllow:      false,
			expectViolations: []string{"ECR repository 'EcrRepo' must define a lifecycle policy"},
		},
		{
			name: "Prefix for another project",
			template: `{
				"Resources": {
					"Stream": {
						"Type": "AWS::KinesisFirehose::DeliveryStream",
						"Properties": {
							"ExtendedS3DestinationConfiguration": {"Prefix": "bronze/other/"}
						}
					}
				}
			}`,
			project:          "crypto",
			expectAllow:      false,
			expectViolations: []string{"Delivery stream 'Stream' must write to prefix 'bronze/crypto/', found 'bronze/other/'"},
		},
		{
			name: "Empty resource",
			template: `{
				"Resources": {
					"TaskPolicy": {
						"Type": "AWS::IAM::Policy",
						"Properties": {
							"PolicyDocument": {
								"Statement": [
									{"Effect": "Allow", "Action": ["secretsmanager:GetSecretValue"], "Resource": [""]}
								]
							}
						}
					}
				}
			}`,
			project:          "crypto",
			expectAllow:      false,
			expectViolations: []string{"Policy 'TaskPolicy' has an empty resource"},
		},
		{
			name: "Secret without source",
			template: `{
				"Resources": {
					"TaskDefinition": {
						"Type": "AWS::ECS::TaskDefinition",
						"Properties": {
							"ContainerDefinitions": [
								{"Name": "producer", "Secrets": [{"Name": "TIINGO_API_TOKEN", "ValueFrom": ""}]},
								{"Name": "sidecar"}
							]
						}
					}
				}
			}`,
			project:          "crypto",
			expectAllow:      false,
			expectViolations: []string{"Task definition 'TaskDefinition' injects secret 'TIINGO_API_TOKEN' without a source"},
		},
		{
			name: "Missing prefix",
			template: `{
				"Resources": {
					"Stream": {
						"Type": "AWS::KinesisFirehose::DeliveryStream",
						"Properties": {}
					}
				}
			}`,
			project:          "crypto",
			expectAllow:      false,
			expectViolations: []string{"Delivery stream 'Stream' must write to prefix 'bronze/crypto/', found ''"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var template map[string]any
			if err := json.Unmarshal([]byte(tt.template), &template); err != nil {
				t.Fatalf("Failed to parse template JSON: %v", err)
			}

			result, err := validator.ValidateTemplate(context.Background(), template, tt.project)
			if err != nil {
				t.Fatalf("Validation failed with error: %v", err)
			}

			if result.Allowed != tt.expectAllow {
				t.Errorf("Expected allowed=%v, got %v (violations: %v)", tt.expectAllow, result.Allowed, result.Violations)
			}

			if !tt.expectAllow {
				if len(result.Violations) != len(tt.expectViolations) {
					t.Fatalf("Expected %d violations, got %d: %v", len(tt.expectViolations), len(result.Violations), result.Violations)
				}
				for i, want := range tt.expectViolations {
					if result.Violations[i] != want {
						t.Errorf("Expected violation %q, got %q", want, result.Violations[i])
					}
				}
			}
		})
	}
}

func TestValidator_Check(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	f, err := config.Parse([]byte(`
Variables: {Org: acme, Project: crypto}
Resources: {S3Destination: acme-lake, SecretsManagerSecret: tiingo}
Network: {VpcId: vpc-1, SubnetIds: [subnet-a]}
`))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	project, err := f.Project()
	if err != nil {
		t.Fatalf("Failed to resolve project: %v", err)
	}

	release := &models.Release{
		AccountID:  "123456789012",
		Region:     "us-east-1",
		Registry:   models.RegistryURI("123456789012", "us-east-1"),
		Repository: project.Repository,
	}
	infra := stack.NewInfrastructure(project, release)
	service := stack.NewService(project, release, infra, "arn:aws:secretsmanager:us-east-1:123456789012:secret:tiingo-AbCdEf")

	if err := validator.Check(context.Background(), infra.Template(), project.Project); err != nil {
		t.Errorf("Infrastructure template should pass: %v", err)
	}
	if err := validator.Check(context.Background(), service.Template(), project.Project); err != nil {
		t.Errorf("Service template should pass: %v", err)
	}

	unresolved := stack.NewService(project, release, infra, "")
	err = validator.Check(context.Background(), unresolved.Template(), project.Project)
	if !errors.Is(err, deployerrors.ErrPolicyViolation) {
		t.Fatalf("Expected ErrPolicyViolation for a service without secret, got %v", err)
	}

	// the same template released under another project has the wrong prefix
	err = validator.Check(context.Background(), infra.Template(), "other")
	if !errors.Is(err, deployerrors.ErrPolicyViolation) {
		t.Fatalf("Expected ErrPolicyViolation, got %v", err)
	}
}
