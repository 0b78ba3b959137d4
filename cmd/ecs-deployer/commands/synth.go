package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/di"
	"github.com/savaki/ecs-deployer/internal/orchestrator"
	"github.com/savaki/ecs-deployer/internal/services"
	"github.com/savaki/ecs-deployer/internal/stack"
	"github.com/savaki/ecs-deployer/internal/terraform"
	"github.com/urfave/cli/v2"
)

const (
	formatJSON      = "json"
	formatYAML      = "yaml"
	formatTerraform = "terraform"
)

func SynthCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "synth",
		Usage: "Print the infrastructure or service template",
		Description: `Renders the stack the deploy command would apply, after checking it
against the deployment policy.

Formats:
  json, yaml  CloudFormation template
  terraform   main.tf for the infrastructure stack`,
		Flags: []cli.Flag{
			appDirFlag(),
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: json, yaml or terraform",
				Value:   formatJSON,
			},
			&cli.BoolFlag{
				Name:  "service",
				Usage: "Render the service stack instead of the infrastructure stack",
			},
		},
		Action: func(c *cli.Context) error {
			return synthAction(c, logger)
		},
	}
}

func synthAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context
	format := c.String("format")

	switch format {
	case formatJSON, formatYAML, formatTerraform:
	default:
		return fmt.Errorf("unknown format %q, expected json, yaml or terraform", format)
	}
	if format == formatTerraform && c.Bool("service") {
		return fmt.Errorf("the service stack is only rendered as CloudFormation")
	}

	_, p, err := loadProject(c)
	if err != nil {
		return err
	}

	container, err := newContainer(c, p)
	if err != nil {
		return err
	}
	o, err := di.Get[*orchestrator.Orchestrator](container)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	state := &orchestrator.State{Project: p}
	opts := orchestrator.Options{AppDir: c.String(flagAppDir)}
	if err := orchestrator.Run(ctx, state, o.IdentifyStep(opts)); err != nil {
		return err
	}

	var out []byte
	switch {
	case format == formatTerraform:
		backend := terraform.BackendFor(p.Terraform.StateBucket, p.Terraform.StateKey, state.Release.Region)
		out, err = terraform.Render(state.Infrastructure, backend)

	case c.Bool("service"):
		if p.Network == nil {
			return fmt.Errorf("no service stack: %s has no Network section", c.String(flagConfig))
		}
		secrets := di.MustGet[*services.SecretsManagerService](container)
		state.SecretARN, err = secrets.GetSecretARN(ctx, p.Secret)
		if err != nil {
			return err
		}
		svc := stack.NewService(p, state.Release, state.Infrastructure, state.SecretARN)
		out, err = render(ctx, o, svc.Template(), p.Project, format)

	default:
		out, err = render(ctx, o, state.Infrastructure.Template(), p.Project, format)
	}
	if err != nil {
		return err
	}

	logger.Debug().Str("format", format).Int("bytes", len(out)).Msg("Template synthesized")
	_, err = c.App.Writer.Write(out)
	return err
}
