package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/savaki/ecs-deployer/internal/di"
	"github.com/savaki/ecs-deployer/internal/orchestrator"
	"github.com/urfave/cli/v2"
)

// runSteps runs a subset of the workflow steps against the project.
func runSteps(c *cli.Context, p *config.Project, steps func(o *orchestrator.Orchestrator) []orchestrator.Step, opts ...di.Option) (*orchestrator.State, error) {
	container, err := newContainer(c, p, opts...)
	if err != nil {
		return nil, err
	}

	o, err := di.Get[*orchestrator.Orchestrator](container)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}

	state := &orchestrator.State{Project: p}
	if err := orchestrator.Run(c.Context, state, steps(o)...); err != nil {
		return state, err
	}
	return state, nil
}

func BuildCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Build the image and save it as a tarball",
		Flags: append(buildFlags(),
			&cli.StringFlag{
				Name:  "output-dir",
				Usage: "Directory receiving image.tar (a temporary directory when empty)",
			},
		),
		Action: func(c *cli.Context) error {
			_, p, err := loadProject(c)
			if err != nil {
				return err
			}

			opts := buildOptions(c)
			opts.OutputDir = c.String("output-dir")

			state, err := runSteps(c, p, func(o *orchestrator.Orchestrator) []orchestrator.Step {
				return []orchestrator.Step{
					o.IdentifyStep(opts),
					o.BuildStep(opts),
				}
			})
			if err != nil {
				return err
			}

			logger.Info().
				Str("tag", state.Artifact.LocalTag).
				Str("tarball", state.Artifact.TarballPath).
				Msg("Image built")
			return nil
		},
	}
}

func PushCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:        "push",
		Usage:       "Build the image and push it to ECR as latest and <commit>",
		Description: `The repository must already exist; run apply first on a new project.`,
		Flags:       buildFlags(),
		Action: func(c *cli.Context) error {
			_, p, err := loadProject(c)
			if err != nil {
				return err
			}

			opts := buildOptions(c)
			state, err := runSteps(c, p, func(o *orchestrator.Orchestrator) []orchestrator.Step {
				return []orchestrator.Step{
					o.IdentifyStep(opts),
					o.BuildStep(opts),
					o.AuthenticateStep(),
					o.PushStep(),
				}
			})
			if state != nil {
				defer state.Cleanup(c.Context)
			}
			if err != nil {
				return err
			}

			for _, tag := range state.Release.Tags() {
				logger.Info().Msgf("  ✓ %s", state.Release.ImageURI(tag))
			}
			logger.Info().Str("digest", state.Digest).Msg("Image pushed")
			return nil
		},
	}
}

func ApplyCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "Apply the infrastructure stack and, with a network configured, the service stack",
		Flags: []cli.Flag{
			appDirFlag(),
			engineFlag(),
		},
		Action: func(c *cli.Context) error {
			_, p, err := loadProject(c)
			if err != nil {
				return err
			}

			opts := orchestrator.Options{AppDir: c.String(flagAppDir)}
			state, err := runSteps(c, p, func(o *orchestrator.Orchestrator) []orchestrator.Step {
				return []orchestrator.Step{
					o.IdentifyStep(opts),
					o.PreflightStep(),
					o.StackStep(),
				}
			}, di.WithEngine(c.String(flagEngine)))
			if err != nil {
				return err
			}

			for _, result := range state.Results {
				event := logger.Info().Str("stack", result.StackName).Str("operation", result.Operation)
				for k, v := range result.Outputs {
					event = event.Str(k, v)
				}
				event.Msg("Stack applied")
			}
			return nil
		},
	}
}

func RedeployCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "redeploy",
		Usage: "Force a new deployment of the ECS service",
		Flags: []cli.Flag{
			waitFlag(),
		},
		Action: func(c *cli.Context) error {
			_, p, err := loadProject(c)
			if err != nil {
				return err
			}

			state, err := runSteps(c, p, func(o *orchestrator.Orchestrator) []orchestrator.Step {
				return []orchestrator.Step{o.RedeployStep()}
			}, di.WithWait(c.Duration(flagWait)))
			if err != nil {
				return err
			}

			logger.Info().
				Str("cluster", state.Deployment.Cluster).
				Str("service", state.Deployment.Service).
				Str("deployment", state.Deployment.DeploymentID).
				Bool("stable", state.Deployment.Stable).
				Msg("Service redeployed")
			return nil
		},
	}
}
