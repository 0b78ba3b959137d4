// Package identity resolves the identifiers a release is built from: the
// commit being shipped, the AWS account and region it ships to, and the
// registry the image is pushed to.
package identity

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/gitinfo"
	"github.com/savaki/ecs-deployer/internal/models"
	"github.com/savaki/ecs-deployer/internal/runner"
	"github.com/segmentio/ksuid"
)

// AccountResolver returns the account id of the ambient credentials.
type AccountResolver interface {
	GetAccountID(ctx context.Context) (string, error)
}

// Resolver builds a models.Release for the current run.
type Resolver struct {
	runner  runner.Runner
	account AccountResolver
	region  string
	newID   func() string
}

// NewResolver returns a Resolver for region.
func NewResolver(r runner.Runner, account AccountResolver, region string) *Resolver {
	return &Resolver{
		runner:  r,
		account: account,
		region:  region,
		newID:   func() string { return ksuid.New().String() },
	}
}

// Resolve reads the commit of the repository containing appDir and the
// account id, and combines them with the repository name.
func (r *Resolver) Resolve(ctx context.Context, appDir, repository string) (*models.Release, error) {
	if r.region == "" {
		return nil, fmt.Errorf("no AWS region configured; set --region or AWS_REGION")
	}
	if repository == "" {
		return nil, fmt.Errorf("repository name is required")
	}

	commit, dirty, err := gitinfo.Head(ctx, r.runner, appDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve commit hash: %w", err)
	}

	accountID, err := r.account.GetAccountID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account id: %w", err)
	}

	release := &models.Release{
		RunID:      r.newID(),
		CommitHash: commit,
		Dirty:      dirty,
		AccountID:  accountID,
		Region:     r.region,
		Registry:   models.RegistryURI(accountID, r.region),
		Repository: repository,
	}

	logger := zerolog.Ctx(ctx)
	if dirty {
		logger.Warn().Str("dir", appDir).Msg("work tree has uncommitted changes; image tag will not match its contents")
	}
	logger.Info().
		Str("run_id", release.RunID).
		Str("commit", release.ShortCommit()).
		Str("account", release.AccountID).
		Str("region", release.Region).
		Str("repository", release.RepositoryURI()).
		Msg("resolved release")

	return release, nil
}
