// Package orchestrator runs the deployment workflow as an ordered list of
// named steps sharing one State.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/savaki/ecs-deployer/internal/dao/lockdao"
	"github.com/savaki/ecs-deployer/internal/deploy"
	"github.com/savaki/ecs-deployer/internal/image"
	"github.com/savaki/ecs-deployer/internal/models"
	"github.com/savaki/ecs-deployer/internal/rollout"
	"github.com/savaki/ecs-deployer/internal/services"
	"github.com/savaki/ecs-deployer/internal/stack"
)

// State is shared by the steps of one run. Each step reads what earlier steps
// produced and records its own output.
type State struct {
	Project     *config.Project
	Release     *models.Release
	SecretARN   string
	Artifact    *image.Artifact
	Credentials *services.RegistryCredentials
	Digest      string

	Infrastructure *stack.Infrastructure
	Templates      map[string]*stack.Template // by stack name
	Results        []*deploy.Result
	Deployment     *rollout.Deployment

	lock *lockdao.Record
}

// Cleanup removes the image tarball once the run no longer needs it.
func (s *State) Cleanup(ctx context.Context) {
	if err := s.Artifact.Cleanup(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to remove image tarball")
	}
}

// Step is one named unit of the workflow.
type Step struct {
	Name string
	Run  func(ctx context.Context, state *State) error
}

// Run executes steps in order. The first failure stops the run and is returned
// wrapped with the step name; later steps never start.
func Run(ctx context.Context, state *State, steps ...Step) error {
	logger := zerolog.Ctx(ctx)

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", step.Name, err)
		}

		stepLogger := logger.With().
			Str("step", step.Name).
			Int("index", i+1).
			Int("total", len(steps)).
			Logger()

		started := time.Now()
		stepLogger.Info().Msg("Step started")

		if err := step.Run(stepLogger.WithContext(ctx), state); err != nil {
			stepLogger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("Step failed")
			return fmt.Errorf("%s: %w", step.Name, err)
		}

		stepLogger.Info().Dur("elapsed", time.Since(started)).Msg("Step completed")
	}

	return nil
}
