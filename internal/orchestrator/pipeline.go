package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/savaki/ecs-deployer/internal/dao/lockdao"
	"github.com/savaki/ecs-deployer/internal/deploy"
	deployerrors "github.com/savaki/ecs-deployer/internal/errors"
	"github.com/savaki/ecs-deployer/internal/image"
	"github.com/savaki/ecs-deployer/internal/models"
	"github.com/savaki/ecs-deployer/internal/rollout"
	"github.com/savaki/ecs-deployer/internal/services"
	"github.com/savaki/ecs-deployer/internal/stack"
)

// Step names, in workflow order.
const (
	StepIdentify     = "identify"
	StepPreflight    = "preflight"
	StepSecret       = "secret"
	StepLock         = "lock"
	StepBuild        = "build"
	StepAuthenticate = "authenticate"
	StepPush         = "push"
	StepSynthesize   = "synthesize"
	StepStack        = "stack"
	StepRedeploy     = "redeploy"
	StepRecord       = "record"
)

type Resolver interface {
	Resolve(ctx context.Context, appDir, repository string) (*models.Release, error)
}

type BucketChecker interface {
	CheckBucket(ctx context.Context, bucket string) error
}

type SecretResolver interface {
	GetSecretARN(ctx context.Context, secretName string) (string, error)
}

type Builder interface {
	Build(ctx context.Context, opts image.BuildOptions) (*image.Artifact, error)
}

type Registry interface {
	DescribeRepository(ctx context.Context, repositoryName string) (*services.RepositoryInfo, error)
	GetAuthorization(ctx context.Context) (*services.RegistryCredentials, error)
}

type Pusher interface {
	Push(ctx context.Context, tarballPath, repositoryURI string, tags ...string) (string, error)
	RemoteDigest(ctx context.Context, repositoryURI, tag string) (v1.Hash, error)
}

type PolicyChecker interface {
	Check(ctx context.Context, tmpl *stack.Template, project string) error
}

type StackDeployer interface {
	Deploy(ctx context.Context, stackName string, tmpl *stack.Template, params ...map[string]string) (*deploy.Result, error)
}

type Redeployer interface {
	Redeploy(ctx context.Context, cluster, service string) (*rollout.Deployment, error)
}

type Locker interface {
	Acquire(ctx context.Context, input lockdao.AcquireInput) (*lockdao.Record, bool, error)
	Release(ctx context.Context, input lockdao.ReleaseInput) error
}

// Options tune a single run.
type Options struct {
	AppDir       string
	Dockerfile   string
	Platform     string
	OutputDir    string
	SkipRedeploy bool
	DryRun       bool   // synthesize and check only
	Holder       string // recorded on the lock
}

// Orchestrator holds the collaborators of the deployment workflow. Locker and
// Releases are optional.
type Orchestrator struct {
	Resolver       Resolver
	Buckets        BucketChecker
	Secrets        SecretResolver
	Builder        Builder
	Registry       Registry
	NewPusher      func(creds *services.RegistryCredentials) Pusher
	Policy         PolicyChecker
	Infrastructure deploy.Applier
	Services       StackDeployer
	Redeployer     Redeployer
	Locker         Locker
	Releases       services.ParameterStore

	now func() time.Time
}

// NewPusher authenticates a go-containerregistry pusher with creds.
func NewPusher(creds *services.RegistryCredentials) Pusher {
	return image.NewPusher(image.Authenticator(creds))
}

// Steps lists the workflow for opts: identify, build, authenticate, push,
// apply the stacks and redeploy the service, with preflight, lock and record
// steps around them.
func (o *Orchestrator) Steps(opts Options) []Step {
	if opts.DryRun {
		return []Step{
			o.IdentifyStep(opts),
			o.SecretStep(),
			o.SynthesizeStep(),
		}
	}

	steps := []Step{
		o.IdentifyStep(opts),
		o.PreflightStep(),
	}
	if o.Locker != nil {
		steps = append(steps, o.LockStep(opts))
	}
	steps = append(steps,
		o.BuildStep(opts),
		o.AuthenticateStep(),
		o.PushStep(),
		o.StackStep(),
	)
	if !opts.SkipRedeploy {
		steps = append(steps, o.RedeployStep())
	}
	if o.Releases != nil {
		steps = append(steps, o.RecordStep())
	}
	return steps
}

// Deploy runs the full workflow for project. A lock acquired during the run is
// released on return whether or not the run succeeded, and so is the saved
// image tarball.
func (o *Orchestrator) Deploy(ctx context.Context, p *config.Project, opts Options) (state *State, err error) {
	state = &State{Project: p}

	defer state.Cleanup(ctx)

	defer func() {
		if state.lock == nil {
			return
		}
		releaseErr := o.Locker.Release(context.WithoutCancel(ctx), lockdao.ReleaseInput{
			Key:   state.lock.PK,
			RunID: state.lock.RunID,
		})
		if releaseErr != nil {
			zerolog.Ctx(ctx).Warn().Err(releaseErr).Str("lock", state.lock.PK.String()).Msg("Failed to release deployment lock")
			if err == nil {
				err = fmt.Errorf("release lock: %w", releaseErr)
			}
		}
	}()

	err = Run(ctx, state, o.Steps(opts)...)
	return state, err
}

// IdentifyStep resolves the release: commit, account, region and registry.
func (o *Orchestrator) IdentifyStep(opts Options) Step {
	return Step{
		Name: StepIdentify,
		Run: func(ctx context.Context, state *State) error {
			release, err := o.Resolver.Resolve(ctx, opts.AppDir, state.Project.Repository)
			if err != nil {
				return err
			}
			state.Release = release
			state.Infrastructure = stack.NewInfrastructure(state.Project, release)
			return nil
		},
	}
}

// PreflightStep checks the resources the stacks reference but do not own.
func (o *Orchestrator) PreflightStep() Step {
	return Step{
		Name: StepPreflight,
		Run: func(ctx context.Context, state *State) error {
			logger := zerolog.Ctx(ctx)
			p := state.Project

			if err := o.Buckets.CheckBucket(ctx, p.Bucket); err != nil {
				return err
			}
			logger.Info().Str("bucket", p.Bucket).Msg("Data lake bucket found")

			return o.resolveSecret(ctx, state)
		},
	}
}

// SecretStep resolves the secret the service stack injects into the container.
func (o *Orchestrator) SecretStep() Step {
	return Step{
		Name: StepSecret,
		Run:  o.resolveSecret,
	}
}

func (o *Orchestrator) resolveSecret(ctx context.Context, state *State) error {
	p := state.Project
	if p.Network == nil {
		return nil
	}

	arn, err := o.Secrets.GetSecretARN(ctx, p.Secret)
	if err != nil {
		return err
	}
	state.SecretARN = arn
	zerolog.Ctx(ctx).Info().Str("secret", p.Secret).Msg("Secret resolved")
	return nil
}

// LockStep takes the per-project deployment lock, failing with ErrLocked when
// another run holds it.
func (o *Orchestrator) LockStep(opts Options) Step {
	return Step{
		Name: StepLock,
		Run: func(ctx context.Context, state *State) error {
			key := lockdao.PK(state.Project.LockKey())
			record, acquired, err := o.Locker.Acquire(ctx, lockdao.AcquireInput{
				Key:    key,
				RunID:  state.Release.RunID,
				Holder: opts.Holder,
				Commit: state.Release.CommitHash,
			})
			if err != nil {
				return err
			}
			if !acquired {
				return fmt.Errorf("%w: %s held by %s (run %s, since %s)",
					deployerrors.ErrLocked,
					key,
					record.Holder,
					record.RunID,
					time.Unix(record.AcquiredAt, 0).UTC().Format(time.RFC3339),
				)
			}

			state.lock = record
			zerolog.Ctx(ctx).Info().Str("lock", key.String()).Msg("Deployment lock acquired")
			return nil
		},
	}
}

// BuildStep builds the image for the target platform.
func (o *Orchestrator) BuildStep(opts Options) Step {
	return Step{
		Name: StepBuild,
		Run: func(ctx context.Context, state *State) error {
			artifact, err := o.Builder.Build(ctx, image.BuildOptions{
				AppDir:     opts.AppDir,
				Dockerfile: opts.Dockerfile,
				Platform:   opts.Platform,
				LocalTag:   state.Release.LocalTag(),
				OutputDir:  opts.OutputDir,
			})
			if err != nil {
				return err
			}
			state.Artifact = artifact
			return nil
		},
	}
}

// AuthenticateStep exchanges AWS credentials for registry credentials. The
// repository must already exist since the image is pushed before the stack
// that owns it is applied.
func (o *Orchestrator) AuthenticateStep() Step {
	return Step{
		Name: StepAuthenticate,
		Run: func(ctx context.Context, state *State) error {
			if _, err := o.Registry.DescribeRepository(ctx, state.Release.Repository); err != nil {
				if errors.Is(err, deployerrors.ErrRepositoryNotFound) {
					return fmt.Errorf("%w; run apply to create it", err)
				}
				return err
			}

			creds, err := o.Registry.GetAuthorization(ctx)
			if err != nil {
				return err
			}
			state.Credentials = creds
			zerolog.Ctx(ctx).Info().
				Str("registry", state.Release.Registry).
				Time("expires_at", creds.ExpiresAt).
				Msg("Registry credentials obtained")
			return nil
		},
	}
}

// PushStep pushes the built image under latest and the commit hash.
func (o *Orchestrator) PushStep() Step {
	return Step{
		Name: StepPush,
		Run: func(ctx context.Context, state *State) error {
			if state.Artifact == nil {
				return errors.New("no image has been built")
			}

			newPusher := o.NewPusher
			if newPusher == nil {
				newPusher = NewPusher
			}

			pusher := newPusher(state.Credentials)
			repositoryURI := state.Release.RepositoryURI()
			digest, err := pusher.Push(ctx,
				state.Artifact.TarballPath,
				repositoryURI,
				state.Release.Tags()...,
			)
			if err != nil {
				return err
			}

			for _, tag := range state.Release.Tags() {
				remote, err := pusher.RemoteDigest(ctx, repositoryURI, tag)
				if err != nil {
					return err
				}
				if remote.String() != digest {
					return fmt.Errorf("%w: %s=%s, pushed %s", deployerrors.ErrDigestMismatch, tag, remote, digest)
				}
			}

			state.Digest = digest
			return nil
		},
	}
}

// templates synthesizes every stack of the project and checks each against
// the deployment policy.
func (o *Orchestrator) templates(ctx context.Context, state *State) error {
	infra := state.Infrastructure
	if state.Project.Network != nil && state.SecretARN == "" {
		return fmt.Errorf("%w: secret %s not resolved for the service stack", deployerrors.ErrMissingConfig, state.Project.Secret)
	}
	state.Templates = map[string]*stack.Template{
		infra.StackName: infra.Template(),
	}
	if svc := stack.NewService(state.Project, state.Release, infra, state.SecretARN); svc != nil {
		state.Templates[svc.StackName] = svc.Template()
	}

	for name, tmpl := range state.Templates {
		if err := o.Policy.Check(ctx, tmpl, state.Project.Project); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// SynthesizeStep renders and checks the templates without applying them.
func (o *Orchestrator) SynthesizeStep() Step {
	return Step{
		Name: StepSynthesize,
		Run: func(ctx context.Context, state *State) error {
			if err := o.templates(ctx, state); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Int("stacks", len(state.Templates)).Msg("Templates pass policy")
			return nil
		},
	}
}

// StackStep applies the infrastructure stack, then the service stack when the
// project declares a network.
func (o *Orchestrator) StackStep() Step {
	return Step{
		Name: StepStack,
		Run: func(ctx context.Context, state *State) error {
			if err := o.templates(ctx, state); err != nil {
				return err
			}

			result, err := o.Infrastructure.ApplyInfrastructure(ctx, state.Infrastructure)
			if err != nil {
				return err
			}
			state.Results = append(state.Results, result)

			svc := stack.NewService(state.Project, state.Release, state.Infrastructure, state.SecretARN)
			if svc == nil {
				return nil
			}
			if o.Services == nil {
				return fmt.Errorf("%w: no deployer for service stack %s", deployerrors.ErrMissingConfig, svc.StackName)
			}

			result, err = o.Services.Deploy(ctx, svc.StackName, state.Templates[svc.StackName])
			if err != nil {
				return err
			}
			state.Results = append(state.Results, result)
			return nil
		},
	}
}

// RedeployStep forces the service to start tasks that pull the new image.
func (o *Orchestrator) RedeployStep() Step {
	return Step{
		Name: StepRedeploy,
		Run: func(ctx context.Context, state *State) error {
			deployment, err := o.Redeployer.Redeploy(ctx, state.Project.Cluster, state.Project.Service)
			if err != nil {
				return err
			}
			state.Deployment = deployment
			return nil
		},
	}
}

// RecordStep stores the release in the parameter store.
func (o *Orchestrator) RecordStep() Step {
	return Step{
		Name: StepRecord,
		Run: func(ctx context.Context, state *State) error {
			now := time.Now
			if o.now != nil {
				now = o.now
			}

			name := state.Project.ReleaseParameter()
			previous, err := o.Releases.GetRelease(ctx, name)
			if err != nil {
				return err
			}
			if previous != nil {
				zerolog.Ctx(ctx).Info().
					Str("run_id", previous.RunID).
					Str("commit", previous.CommitHash).
					Time("deployed_at", time.Unix(previous.DeployedAt, 0)).
					Msg("Replacing previous release")
			}

			record := models.ReleaseRecord{
				RunID:      state.Release.RunID,
				CommitHash: state.Release.CommitHash,
				ImageURI:   state.Release.ImageURI(state.Release.CommitHash),
				Digest:     state.Digest,
				StackName:  state.Project.StackName(),
				DeployedAt: now().Unix(),
			}
			return o.Releases.PutRelease(ctx, name, record)
		},
	}
}
