package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/image"
	"github.com/urfave/cli/v2"
)

func DockerfileCommand(logger *zerolog.Logger) *cli.Command {
	defaults := image.DefaultDockerfileSpec()

	return &cli.Command{
		Name:  "dockerfile",
		Usage: "Render a minimal Dockerfile for the producer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "base-image",
				Usage: "Runtime base image",
				Value: defaults.BaseImage,
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Source directory copied into the image",
				Value: defaults.Source,
			},
			&cli.StringSliceFlag{
				Name:  "entrypoint",
				Usage: "Entrypoint arguments (repeat for each argument)",
				Value: cli.NewStringSlice(defaults.Entrypoint...),
			},
			&cli.StringFlag{
				Name:  "write",
				Usage: "Write the Dockerfile into this app dir instead of printing it",
			},
		},
		Action: func(c *cli.Context) error {
			spec := defaults
			spec.BaseImage = c.String("base-image")
			spec.Source = c.String("source")
			spec.Entrypoint = c.StringSlice("entrypoint")

			content, err := image.Dockerfile(spec)
			if err != nil {
				return err
			}

			dir := c.String("write")
			if dir == "" {
				_, err = fmt.Fprint(c.App.Writer, content)
				return err
			}

			path := filepath.Join(dir, "Dockerfile")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			logger.Info().Str("path", path).Msg("Dockerfile written")
			return nil
		},
	}
}
