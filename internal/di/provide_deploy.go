package di

import (
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/savaki/ecs-deployer/internal/dao/lockdao"
	"github.com/savaki/ecs-deployer/internal/deploy"
	"github.com/savaki/ecs-deployer/internal/identity"
	"github.com/savaki/ecs-deployer/internal/image"
	"github.com/savaki/ecs-deployer/internal/orchestrator"
	"github.com/savaki/ecs-deployer/internal/policy"
	"github.com/savaki/ecs-deployer/internal/rollout"
	"github.com/savaki/ecs-deployer/internal/runner"
	"github.com/savaki/ecs-deployer/internal/services"
	"github.com/savaki/ecs-deployer/internal/terraform"
	"github.com/savaki/ecs-deployer/internal/verify"
)

// ProvideRunner streams tool output to stderr, next to the log, unless the
// run is quiet.
func ProvideRunner(settings Settings) runner.Runner {
	return runner.Exec{
		Stream: !settings.Quiet,
		Output: os.Stderr,
	}
}

func ProvideResolver(r runner.Runner, ids *services.IdentityService, cfg aws.Config) *identity.Resolver {
	return identity.NewResolver(r, ids, cfg.Region)
}

func ProvideBuilder(r runner.Runner) *image.DockerBuilder {
	return image.NewDockerBuilder(r)
}

func ProvideValidator() (*policy.Validator, error) {
	return policy.NewValidator()
}

func ProvideCloudFormation(client *cloudformation.Client) *deploy.CloudFormation {
	return deploy.NewCloudFormation(client)
}

// ProvideApplier selects the engine that applies the infrastructure stack.
func ProvideApplier(settings Settings, cfn *deploy.CloudFormation, r runner.Runner, p *config.Project, cfg aws.Config) (deploy.Applier, error) {
	switch settings.Engine {
	case "", EngineCloudFormation:
		return cfn, nil
	case EngineTerraform:
		backend := terraform.BackendFor(p.Terraform.StateBucket, p.Terraform.StateKey, cfg.Region)
		return deploy.NewTerraform(r, p.Terraform.WorkDir, backend), nil
	default:
		return nil, fmt.Errorf("unknown engine %q, expected %s or %s", settings.Engine, EngineCloudFormation, EngineTerraform)
	}
}

func ProvideRedeployer(settings Settings, client *ecs.Client) *rollout.Redeployer {
	r := rollout.NewRedeployer(client)
	r.Wait = settings.Wait
	return r
}

func ProvideVerifier(ecrService *services.ECRService, iamService *services.IAMService, firehoseService *services.FirehoseService) *verify.Verifier {
	return verify.New(ecrService, iamService, firehoseService)
}

func ProvideOrchestrator(
	settings Settings,
	resolver *identity.Resolver,
	s3Service *services.S3Service,
	secretsService *services.SecretsManagerService,
	builder *image.DockerBuilder,
	ecrService *services.ECRService,
	validator *policy.Validator,
	applier deploy.Applier,
	cfn *deploy.CloudFormation,
	redeployer *rollout.Redeployer,
	lockDAO *lockdao.DAO,
	store services.ParameterStore,
) *orchestrator.Orchestrator {
	o := &orchestrator.Orchestrator{
		Resolver:       resolver,
		Buckets:        s3Service,
		Secrets:        secretsService,
		Builder:        builder,
		Registry:       ecrService,
		NewPusher:      orchestrator.NewPusher,
		Policy:         validator,
		Infrastructure: applier,
		Services:       cfn, // the service stack is CloudFormation with either engine
		Redeployer:     redeployer,
	}

	if lockDAO != nil {
		o.Locker = lockDAO
	}
	if settings.RecordRelease {
		o.Releases = store
	}

	return o
}
