package commands

import (
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/savaki/ecs-deployer/internal/config"
	"github.com/savaki/ecs-deployer/internal/di"
	"github.com/savaki/ecs-deployer/internal/image"
	"github.com/savaki/ecs-deployer/internal/orchestrator"
	"github.com/urfave/cli/v2"
)

const (
	flagConfig        = "config"
	flagRegion        = "region"
	flagAppDir        = "app-dir"
	flagDockerfile    = "dockerfile"
	flagPlatform      = "platform"
	flagEngine        = "engine"
	flagSkipRedeploy  = "skip-redeploy"
	flagWait          = "wait"
	flagLockTable     = "lock-table"
	flagRecordRelease = "record-release"
	flagDryRun        = "dry-run"
	flagQuiet         = "quiet"
)

// GlobalFlags apply to every command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "Project config file",
			Value:   "config.yml",
			EnvVars: []string{"ECS_DEPLOYER_CONFIG"},
		},
		&cli.StringFlag{
			Name:    flagRegion,
			Usage:   "AWS region (defaults to the ambient AWS configuration)",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.BoolFlag{
			Name:    flagQuiet,
			Aliases: []string{"q"},
			Usage:   "Hide docker, git and terraform output",
			EnvVars: []string{"ECS_DEPLOYER_QUIET"},
		},
	}
}

func appDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  flagAppDir,
		Usage: "Application directory; the docker build context and git work tree",
		Value: ".",
	}
}

func buildFlags() []cli.Flag {
	return []cli.Flag{
		appDirFlag(),
		&cli.StringFlag{
			Name:  flagDockerfile,
			Usage: "Dockerfile relative to the app dir",
		},
		&cli.StringFlag{
			Name:  flagPlatform,
			Usage: "Target platform of the image",
			Value: image.DefaultPlatform,
		},
	}
}

func engineFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagEngine,
		Usage:   "Engine applying the infrastructure stack: cloudformation or terraform",
		Value:   di.EngineCloudFormation,
		EnvVars: []string{"ECS_DEPLOYER_ENGINE"},
	}
}

func waitFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  flagWait,
		Usage: "Wait up to this long for the service to become stable (0 to return immediately)",
		Value: 10 * time.Minute,
	}
}

func lockTableFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     flagLockTable,
		Usage:    "DynamoDB table holding deployment locks",
		EnvVars:  []string{"ECS_DEPLOYER_LOCK_TABLE"},
		Required: required,
	}
}

// loadProject reads the config file named by --config.
func loadProject(c *cli.Context) (*config.File, *config.Project, error) {
	path := c.String(flagConfig)
	f, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	p, err := f.Project()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, p, nil
}

// newContainer wires the AWS clients and services for project p.
func newContainer(c *cli.Context, p *config.Project, opts ...di.Option) (di.Container, error) {
	opts = append([]di.Option{
		di.WithRegion(c.String(flagRegion)),
		di.WithQuiet(c.Bool(flagQuiet)),
		di.WithProviders(func() *config.Project { return p }),
	}, opts...)
	return di.New(c.Context, opts...)
}

// buildOptions collects the flags shared by build, push and deploy.
func buildOptions(c *cli.Context) orchestrator.Options {
	return orchestrator.Options{
		AppDir:     c.String(flagAppDir),
		Dockerfile: c.String(flagDockerfile),
		Platform:   c.String(flagPlatform),
	}
}

// holder identifies this process on a deployment lock.
func holder() string {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return name + "@" + host
}
