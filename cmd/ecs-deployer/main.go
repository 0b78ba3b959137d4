package main

import (
	"context"
	"os"

	"github.com/savaki/ecs-deployer/cmd/ecs-deployer/commands"
	"github.com/savaki/ecs-deployer/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "ecs-deployer",
		Usage: "Build, push and deploy a containerized data producer to ECS Fargate",
		Description: `Deploys one project described by a YAML config file.

The deploy command runs the whole workflow:
  1. Identify the commit, AWS account and region
  2. Build the image for linux/arm64
  3. Authenticate to ECR
  4. Push the image tagged latest and <commit>
  5. Apply the infrastructure stack (log group, cluster, repository,
     delivery role and delivery stream) and the optional service stack
  6. Force a new deployment of the ECS service

Each step can also be run on its own.`,
		Flags: commands.GlobalFlags(),
		Commands: []*cli.Command{
			commands.DeployCommand(&logger),
			commands.BuildCommand(&logger),
			commands.PushCommand(&logger),
			commands.SynthCommand(&logger),
			commands.ApplyCommand(&logger),
			commands.RedeployCommand(&logger),
			commands.VerifyCommand(&logger),
			commands.ConfigCommand(&logger),
			commands.DockerfileCommand(&logger),
			commands.UnlockCommand(&logger),
			commands.CreateLockTableCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
