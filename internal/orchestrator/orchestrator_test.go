package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/savaki/ecs-deployer/internal/dao/lockdao"
	"github.com/savaki/ecs-deployer/internal/deploy"
	deployerrors "github.com/savaki/ecs-deployer/internal/errors"
	"github.com/savaki/ecs-deployer/internal/image"
	"github.com/savaki/ecs-deployer/internal/models"
	"github.com/savaki/ecs-deployer/internal/rollout"
	"github.com/savaki/ecs-deployer/internal/runner"
	"github.com/savaki/ecs-deployer/internal/services"
	"github.com/savaki/ecs-deployer/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "sha256:6c3c624b58dbbcd3c0dd82b4c53f04194d1247c6eebdaab7c610cf7d66709b3b"

// recorder collects the calls made by every fake in order.
type recorder struct {
	calls []string
	fail  map[string]error
}

func (r *recorder) call(name string) error {
	r.calls = append(r.calls, name)
	return r.fail[name]
}

type fakes struct {
	*recorder
	lock         *lockdao.Record
	remoteDigest string
}

func (f *fakes) Resolve(ctx context.Context, appDir, repository string) (*models.Release, error) {
	if err := f.call("resolve"); err != nil {
		return nil, err
	}
	return &models.Release{
		RunID:      "2ab3XYZ",
		CommitHash: "0123456789abcdef0123456789abcdef01234567",
		AccountID:  "123456789012",
		Region:     "us-east-1",
		Registry:   models.RegistryURI("123456789012", "us-east-1"),
		Repository: repository,
	}, nil
}

func (f *fakes) CheckBucket(ctx context.Context, bucket string) error {
	return f.call("check-bucket")
}

func (f *fakes) GetSecretARN(ctx context.Context, secretName string) (string, error) {
	if err := f.call("get-secret"); err != nil {
		return "", err
	}
	return "arn:aws:secretsmanager:us-east-1:123456789012:secret:" + secretName + "-AbCdEf", nil
}

func (f *fakes) Build(ctx context.Context, opts image.BuildOptions) (*image.Artifact, error) {
	if err := f.call("build"); err != nil {
		return nil, err
	}
	return &image.Artifact{LocalTag: opts.LocalTag, TarballPath: "/tmp/image.tar"}, nil
}

func (f *fakes) GetAuthorization(ctx context.Context) (*services.RegistryCredentials, error) {
	if err := f.call("authenticate"); err != nil {
		return nil, err
	}
	return &services.RegistryCredentials{Username: "AWS", Password: "secret", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakes) Push(ctx context.Context, tarballPath, repositoryURI string, tags ...string) (string, error) {
	if err := f.call("push"); err != nil {
		return "", err
	}
	return testDigest, nil
}

func (f *fakes) RemoteDigest(ctx context.Context, repositoryURI, tag string) (v1.Hash, error) {
	if f.remoteDigest != "" {
		return v1.NewHash(f.remoteDigest)
	}
	return v1.NewHash(testDigest)
}

func (f *fakes) DescribeRepository(ctx context.Context, repositoryName string) (*services.RepositoryInfo, error) {
	if err := f.call("describe-repository"); err != nil {
		return nil, err
	}
	return &services.RepositoryInfo{Name: repositoryName}, nil
}

func (f *fakes) Check(ctx context.Context, tmpl *stack.Template, project string) error {
	return f.call("policy")
}

func (f *fakes) ApplyInfrastructure(ctx context.Context, infra *stack.Infrastructure) (*deploy.Result, error) {
	if err := f.call("apply-infrastructure"); err != nil {
		return nil, err
	}
	return &deploy.Result{StackName: infra.StackName, Operation: deploy.OperationCreate}, nil
}

func (f *fakes) Deploy(ctx context.Context, stackName string, tmpl *stack.Template, params ...map[string]string) (*deploy.Result, error) {
	if err := f.call("deploy-service"); err != nil {
		return nil, err
	}
	return &deploy.Result{StackName: stackName, Operation: deploy.OperationUpdate}, nil
}

func (f *fakes) Redeploy(ctx context.Context, cluster, service string) (*rollout.Deployment, error) {
	if err := f.call("redeploy"); err != nil {
		return nil, err
	}
	return &rollout.Deployment{Cluster: cluster, Service: service, DeploymentID: "ecs-svc/1"}, nil
}

func (f *fakes) Acquire(ctx context.Context, input lockdao.AcquireInput) (*lockdao.Record, bool, error) {
	if err := f.call("lock"); err != nil {
		return nil, false, err
	}
	if f.lock != nil && f.lock.RunID != input.RunID {
		return f.lock, false, nil
	}
	f.lock = &lockdao.Record{PK: input.Key, SK: "LOCK", RunID: input.RunID, Holder: input.Holder}
	return f.lock, true, nil
}

func (f *fakes) Release(ctx context.Context, input lockdao.ReleaseInput) error {
	if err := f.call("unlock"); err != nil {
		return err
	}
	f.lock = nil
	return nil
}

type releases struct {
	*recorder
	name     string
	record   models.ReleaseRecord
	previous *models.ReleaseRecord
}

func (r *releases) GetRelease(ctx context.Context, name string) (*models.ReleaseRecord, error) {
	return r.previous, nil
}

func (r *releases) PutRelease(ctx context.Context, name string, record models.ReleaseRecord) error {
	r.name, r.record = name, record
	return r.call("record")
}

func newOrchestrator(f *fakes) *Orchestrator {
	return &Orchestrator{
		Resolver:       f,
		Buckets:        f,
		Secrets:        f,
		Builder:        f,
		Registry:       f,
		NewPusher:      func(*services.RegistryCredentials) Pusher { return f },
		Policy:         f,
		Infrastructure: f,
		Services:       f,
		Redeployer:     f,
	}
}

func testProject(t *testing.T, doc string) *config.Project {
	t.Helper()
	f, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	p, err := f.Project()
	require.NoError(t, err)
	return p
}

const (
	infraOnly   = "Variables: {Org: acme, Project: crypto}\nResources: {S3Destination: acme-lake}\n"
	withNetwork = "Variables: {Org: acme, Project: crypto}\n" +
		"Resources: {S3Destination: acme-lake, SecretsManagerSecret: tiingo}\n" +
		"Network: {VpcId: vpc-123, SubnetIds: [subnet-a, subnet-b]}\n"
)

func TestRun(t *testing.T) {
	var ran []string
	step := func(name string, err error) Step {
		return Step{Name: name, Run: func(ctx context.Context, state *State) error {
			ran = append(ran, name)
			return err
		}}
	}

	boom := errors.New("boom")
	err := Run(context.Background(), &State{},
		step("one", nil),
		step("two", boom),
		step("three", nil),
	)
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "two: boom")
	assert.Equal(t, []string{"one", "two"}, ran)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Run(ctx, &State{}, Step{Name: "one", Run: func(context.Context, *State) error {
		called = true
		return nil
	}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDeploy(t *testing.T) {
	f := &fakes{recorder: &recorder{}}
	o := newOrchestrator(f)

	state, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: "."})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"resolve",
		"check-bucket",
		"build",
		"describe-repository",
		"authenticate",
		"push",
		"policy",
		"apply-infrastructure",
		"redeploy",
	}, f.calls)
	assert.Equal(t, testDigest, state.Digest)
	assert.Len(t, state.Results, 1)
	assert.Equal(t, "ecs-acme-crypto-fargate", state.Deployment.Cluster)
	assert.Equal(t, "service-acme-crypto-firehose-producer", state.Deployment.Service)
}

func TestDeploy_ServiceStack(t *testing.T) {
	f := &fakes{recorder: &recorder{}}
	o := newOrchestrator(f)

	state, err := o.Deploy(context.Background(), testProject(t, withNetwork), Options{AppDir: ".", SkipRedeploy: true})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"resolve",
		"check-bucket",
		"get-secret",
		"build",
		"describe-repository",
		"authenticate",
		"push",
		"policy",
		"policy",
		"apply-infrastructure",
		"deploy-service",
	}, f.calls)
	assert.Len(t, state.Templates, 2)
	assert.Contains(t, state.Templates, "stack-acme-crypto-service")
	assert.Nil(t, state.Deployment)
}

func TestDeploy_FailedPushPreventsRedeploy(t *testing.T) {
	f := &fakes{recorder: &recorder{fail: map[string]error{"push": errors.New("denied")}}}
	o := newOrchestrator(f)

	_, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: "."})
	assert.EqualError(t, err, "push: denied")
	assert.NotContains(t, f.calls, "apply-infrastructure")
	assert.NotContains(t, f.calls, "redeploy")
}

func TestDeploy_Lock(t *testing.T) {
	t.Run("released after success", func(t *testing.T) {
		f := &fakes{recorder: &recorder{}}
		o := newOrchestrator(f)
		o.Locker = f

		_, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: ".", Holder: "dev@laptop"})
		require.NoError(t, err)
		assert.Equal(t, "lock", f.calls[2])
		assert.Equal(t, "unlock", f.calls[len(f.calls)-1])
		assert.Nil(t, f.lock)
	})

	t.Run("released after failure", func(t *testing.T) {
		f := &fakes{recorder: &recorder{fail: map[string]error{"build": errors.New("no Dockerfile")}}}
		o := newOrchestrator(f)
		o.Locker = f

		_, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: "."})
		assert.EqualError(t, err, "build: no Dockerfile")
		assert.Equal(t, []string{"resolve", "check-bucket", "lock", "build", "unlock"}, f.calls)
	})

	t.Run("held by another run", func(t *testing.T) {
		f := &fakes{recorder: &recorder{}}
		f.lock = &lockdao.Record{PK: "acme/crypto", RunID: "other", Holder: "ci@runner", AcquiredAt: 1_700_000_000}
		o := newOrchestrator(f)
		o.Locker = f

		_, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: "."})
		assert.ErrorIs(t, err, deployerrors.ErrLocked)
		assert.Contains(t, err.Error(), "ci@runner")
		assert.NotContains(t, f.calls, "build")
		assert.NotContains(t, f.calls, "unlock")
		assert.Equal(t, "other", f.lock.RunID)
	})
}

func TestDeploy_Record(t *testing.T) {
	f := &fakes{recorder: &recorder{}}
	r := &releases{recorder: f.recorder}
	o := newOrchestrator(f)
	o.Releases = r
	o.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	_, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: "."})
	require.NoError(t, err)

	assert.Equal(t, "record", f.calls[len(f.calls)-1])
	assert.Equal(t, "/acme/crypto/ecs-deployer/release", r.name)
	assert.Equal(t, testDigest, r.record.Digest)
	assert.Equal(t, "stack-acme-crypto", r.record.StackName)
	assert.Equal(t, int64(1_700_000_000), r.record.DeployedAt)
	assert.Equal(t,
		"123456789012.dkr.ecr.us-east-1.amazonaws.com/ecr-acme-crypto-firehose-producer:0123456789abcdef0123456789abcdef01234567",
		r.record.ImageURI,
	)
}

func TestDeploy_DryRun(t *testing.T) {
	f := &fakes{recorder: &recorder{}}
	o := newOrchestrator(f)
	o.Locker = f

	state, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"resolve", "policy"}, f.calls)
	assert.Len(t, state.Templates, 1)
}

func TestDeploy_DryRunResolvesSecret(t *testing.T) {
	f := &fakes{recorder: &recorder{}}
	o := newOrchestrator(f)

	state, err := o.Deploy(context.Background(), testProject(t, withNetwork), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"resolve", "get-secret", "policy", "policy"}, f.calls)
	assert.Contains(t, state.SecretARN, "arn:aws:secretsmanager:")
	assert.Len(t, state.Templates, 2)
}

func TestSynthesize_UnresolvedSecret(t *testing.T) {
	f := &fakes{recorder: &recorder{}}
	o := newOrchestrator(f)

	state := &State{Project: testProject(t, withNetwork)}
	err := Run(context.Background(), state, o.IdentifyStep(Options{}), o.SynthesizeStep())
	assert.ErrorIs(t, err, deployerrors.ErrMissingConfig)
	assert.NotContains(t, f.calls, "policy")
}

func TestDeploy_RemovesTarball(t *testing.T) {
	testCases := map[string]map[string]error{
		"success":     nil,
		"push failed": {"push": errors.New("unauthorized")},
	}

	for name, fail := range testCases {
		t.Run(name, func(t *testing.T) {
			f := &fakes{recorder: &recorder{fail: fail}}
			o := newOrchestrator(f)
			o.Builder = image.NewDockerBuilder(&runner.Fake{})

			state, _ := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: t.TempDir()})
			require.NotNil(t, state.Artifact)

			_, err := os.Stat(filepath.Dir(state.Artifact.TarballPath))
			assert.True(t, os.IsNotExist(err), "tarball dir should be removed, got %v", err)
		})
	}
}

func TestDeploy_KeepsTarballInOutputDir(t *testing.T) {
	f := &fakes{recorder: &recorder{}}
	o := newOrchestrator(f)
	o.Builder = image.NewDockerBuilder(&runner.Fake{})

	outDir := t.TempDir()
	state, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: t.TempDir(), OutputDir: outDir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "image.tar"), state.Artifact.TarballPath)
	assert.DirExists(t, outDir)
}

func TestDeploy_PolicyViolation(t *testing.T) {
	f := &fakes{recorder: &recorder{fail: map[string]error{"policy": deployerrors.ErrPolicyViolation}}}
	o := newOrchestrator(f)

	_, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: "."})
	assert.ErrorIs(t, err, deployerrors.ErrPolicyViolation)
	assert.NotContains(t, f.calls, "apply-infrastructure")
}

func TestSteps(t *testing.T) {
	names := func(steps []Step) []string {
		var out []string
		for _, s := range steps {
			out = append(out, s.Name)
		}
		return out
	}

	o := newOrchestrator(&fakes{recorder: &recorder{}})
	assert.Equal(t,
		[]string{StepIdentify, StepPreflight, StepBuild, StepAuthenticate, StepPush, StepStack, StepRedeploy},
		names(o.Steps(Options{})),
	)
	assert.Equal(t,
		[]string{StepIdentify, StepPreflight, StepBuild, StepAuthenticate, StepPush, StepStack},
		names(o.Steps(Options{SkipRedeploy: true})),
	)
	assert.Equal(t, []string{StepIdentify, StepSecret, StepSynthesize}, names(o.Steps(Options{DryRun: true})))
}

func TestDeploy_MissingRepository(t *testing.T) {
	notFound := fmt.Errorf("%w: ecr-acme-crypto-firehose-producer", deployerrors.ErrRepositoryNotFound)
	f := &fakes{recorder: &recorder{fail: map[string]error{"describe-repository": notFound}}}
	o := newOrchestrator(f)

	_, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: "."})
	assert.ErrorIs(t, err, deployerrors.ErrRepositoryNotFound)
	assert.ErrorContains(t, err, "run apply to create it")
	assert.NotContains(t, f.calls, "push")
}

func TestDeploy_DigestMismatch(t *testing.T) {
	f := &fakes{
		recorder:     &recorder{},
		remoteDigest: "sha256:0000000000000000000000000000000000000000000000000000000000000000",
	}
	o := newOrchestrator(f)

	_, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: "."})
	assert.ErrorIs(t, err, deployerrors.ErrDigestMismatch)
	assert.NotContains(t, f.calls, "apply-infrastructure")
	assert.NotContains(t, f.calls, "redeploy")
}

func TestDeploy_RecordReplacesPrevious(t *testing.T) {
	f := &fakes{recorder: &recorder{}}
	r := &releases{
		recorder: f.recorder,
		previous: &models.ReleaseRecord{RunID: "older", CommitHash: "fedcba", DeployedAt: 1_600_000_000},
	}
	o := newOrchestrator(f)
	o.Releases = r

	_, err := o.Deploy(context.Background(), testProject(t, infraOnly), Options{AppDir: "."})
	require.NoError(t, err)
	assert.Equal(t, "2ab3XYZ", r.record.RunID)
}
