package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/urfave/cli/v2"
)

func ConfigCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Query the project config file",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the value at a dotted path, e.g. Resources.S3Destination",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one key, got %d", c.NArg())
					}

					path := c.String(flagConfig)
					f, err := config.Load(path)
					if err != nil {
						return err
					}

					key := c.Args().First()
					value, err := f.Format(key)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}

					logger.Debug().Str("config", path).Str("key", key).Msg("Config value read")
					_, err = fmt.Fprintln(c.App.Writer, value)
					return err
				},
			},
		},
	}
}
