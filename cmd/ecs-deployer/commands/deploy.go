package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/di"
	"github.com/savaki/ecs-deployer/internal/orchestrator"
	"github.com/urfave/cli/v2"
)

func DeployCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "Build, push and deploy the project",
		Description: `Runs the full workflow: identify, build, authenticate, push, apply the
stacks and force a new deployment of the service.

The first failing step stops the run. Re-running after a fix is safe: an
unchanged stack is reported as having no changes.`,
		Flags: append(buildFlags(),
			engineFlag(),
			&cli.BoolFlag{
				Name:  flagSkipRedeploy,
				Usage: "Skip forcing a new deployment of the service",
			},
			waitFlag(),
			lockTableFlag(false),
			&cli.BoolFlag{
				Name:    flagRecordRelease,
				Usage:   "Record the release in SSM Parameter Store after success",
				EnvVars: []string{"ECS_DEPLOYER_RECORD_RELEASE"},
			},
			&cli.BoolFlag{
				Name:  flagDryRun,
				Usage: "Synthesize and check the templates without building or deploying",
			},
		),
		Action: func(c *cli.Context) error {
			return deployAction(c, logger)
		},
	}
}

func deployAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	_, p, err := loadProject(c)
	if err != nil {
		return err
	}

	container, err := newContainer(c, p,
		di.WithEngine(c.String(flagEngine)),
		di.WithLockTable(c.String(flagLockTable)),
		di.WithRecordRelease(c.Bool(flagRecordRelease)),
		di.WithWait(c.Duration(flagWait)),
	)
	if err != nil {
		return err
	}

	o, err := di.Get[*orchestrator.Orchestrator](container)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	opts := buildOptions(c)
	opts.SkipRedeploy = c.Bool(flagSkipRedeploy)
	opts.DryRun = c.Bool(flagDryRun)
	opts.Holder = holder()

	logger.Info().
		Str("project", p.LockKey()).
		Str("engine", c.String(flagEngine)).
		Bool("dry_run", opts.DryRun).
		Msg("Deploying")

	state, err := o.Deploy(ctx, p, opts)
	if err != nil {
		return err
	}

	if opts.DryRun {
		for name := range state.Templates {
			logger.Info().Str("stack", name).Msg("DRY RUN: template passes policy")
		}
		return nil
	}

	// Summary
	logger.Info().Msg("")
	logger.Info().Msg("========================================")
	logger.Info().Msg("Deployment Complete!")
	logger.Info().Msg("========================================")
	logger.Info().Msgf("Run:      %s", state.Release.RunID)
	logger.Info().Msgf("Commit:   %s", state.Release.ShortCommit())
	logger.Info().Msgf("Image:    %s", state.Release.ImageURI(state.Release.CommitHash))
	logger.Info().Msgf("Digest:   %s", state.Digest)
	for _, result := range state.Results {
		logger.Info().Msgf("Stack:    %s (%s)", result.StackName, result.Operation)
	}
	if state.Deployment != nil {
		logger.Info().Msgf("Service:  %s/%s deployment %s (stable: %v)",
			state.Deployment.Cluster,
			state.Deployment.Service,
			state.Deployment.DeploymentID,
			state.Deployment.Stable,
		)
	}

	return nil
}
