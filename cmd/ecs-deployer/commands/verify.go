package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/di"
	"github.com/savaki/ecs-deployer/internal/orchestrator"
	"github.com/savaki/ecs-deployer/internal/verify"
	"github.com/urfave/cli/v2"
)

func VerifyCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check the deployed release against the declared infrastructure",
		Description: `Checks that:
  - latest and <commit> exist in the repository with the same digest
  - the delivery role grants exactly the declared actions on the declared ARNs
  - the delivery stream writes under bronze/<project>/

<commit> is the HEAD of the app dir.`,
		Flags: []cli.Flag{
			appDirFlag(),
		},
		Action: func(c *cli.Context) error {
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
			if err := orchestrator.Run(c.Context, state, o.IdentifyStep(opts)); err != nil {
				return err
			}

			verifier := di.MustGet[*verify.Verifier](container)
			checks, err := verifier.Run(c.Context, state.Infrastructure, state.Release)

			for _, check := range checks {
				mark := "✓"
				if !check.OK {
					mark = "✗"
				}
				fmt.Fprintf(c.App.Writer, "%s %-16s %s\n", mark, check.Name, check.Detail)
			}
			if err != nil {
				return err
			}

			logger.Info().Int("checks", len(checks)).Msg("Verification passed")
			return nil
		},
	}
}
