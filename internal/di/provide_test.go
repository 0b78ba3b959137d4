package di

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/savaki/ecs-deployer/internal/dao/lockdao"
	"github.com/savaki/ecs-deployer/internal/deploy"
	"github.com/savaki/ecs-deployer/internal/runner"
	"github.com/savaki/ecs-deployer/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProject(t *testing.T) *config.Project {
	t.Helper()
	f, err := config.Parse([]byte("Variables: {Org: acme, Project: crypto}\nResources: {S3Destination: acme-lake}\nTerraform: {StateBucket: acme-tfstate}\n"))
	require.NoError(t, err)
	p, err := f.Project()
	require.NoError(t, err)
	return p
}

func TestProvideApplier(t *testing.T) {
	cfn := deploy.NewCloudFormation(nil)
	cfg := aws.Config{Region: "us-east-1"}
	p := testProject(t)

	t.Run("cloudformation by default", func(t *testing.T) {
		applier, err := ProvideApplier(Settings{}, cfn, &runner.Fake{}, p, cfg)
		require.NoError(t, err)
		assert.Same(t, cfn, applier)
	})

	t.Run("terraform", func(t *testing.T) {
		applier, err := ProvideApplier(Settings{Engine: EngineTerraform}, cfn, &runner.Fake{}, p, cfg)
		require.NoError(t, err)

		tf, ok := applier.(*deploy.Terraform)
		require.True(t, ok)
		assert.Equal(t, ".ecs-deployer/terraform", tf.WorkDir)
		assert.Equal(t, "s3://acme-tfstate/acme/crypto/terraform.tfstate", tf.Backend.String())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := ProvideApplier(Settings{Engine: "pulumi"}, cfn, &runner.Fake{}, p, cfg)
		assert.ErrorContains(t, err, `unknown engine "pulumi"`)
	})
}

func TestProvideRunner(t *testing.T) {
	assert.Equal(t, runner.Exec{Stream: true, Output: os.Stderr}, ProvideRunner(Settings{}))
	assert.Equal(t, runner.Exec{Stream: false, Output: os.Stderr}, ProvideRunner(Settings{Quiet: true}))
}

func TestProvideLockDAO(t *testing.T) {
	client := dynamodb.New(dynamodb.Options{Region: "us-east-1"})

	assert.Nil(t, ProvideLockDAO(Settings{}, client))
	assert.NotNil(t, ProvideLockDAO(Settings{LockTable: "deploy-locks"}, client))
}

func TestProvideParameterStore(t *testing.T) {
	logger := zerolog.Nop()
	ctx := logger.WithContext(context.Background())

	store := ProvideParameterStore(ctx, nil)
	assert.IsType(t, &services.LogParameterStore{}, store)
}

func TestProvideOrchestrator(t *testing.T) {
	cfn := deploy.NewCloudFormation(nil)
	store := services.NewLogParameterStore(zerolog.Nop())

	t.Run("optional collaborators unset", func(t *testing.T) {
		o := ProvideOrchestrator(Settings{}, nil, nil, nil, nil, nil, nil, cfn, cfn, nil, nil, store)
		assert.Nil(t, o.Locker)
		assert.Nil(t, o.Releases)
		assert.NotNil(t, o.Services)
	})

	t.Run("lock and release record", func(t *testing.T) {
		dao := lockdao.New(dynamodb.New(dynamodb.Options{Region: "us-east-1"}), "deploy-locks")
		o := ProvideOrchestrator(Settings{RecordRelease: true}, nil, nil, nil, nil, nil, nil, cfn, cfn, nil, dao, store)
		assert.NotNil(t, o.Locker)
		assert.Same(t, store, o.Releases)
	})
}
