package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/dao/lockdao"
	"github.com/savaki/ecs-deployer/internal/di"
	"github.com/urfave/cli/v2"
)

func UnlockCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "unlock",
		Usage: "Force-release the deployment lock of the project",
		Description: `Removes the lock regardless of which run holds it. Use only when the
holding run is known to be gone; locks also expire on their own after an hour.`,
		Flags: []cli.Flag{
			lockTableFlag(true),
		},
		Action: func(c *cli.Context) error {
			_, p, err := loadProject(c)
			if err != nil {
				return err
			}

			dao, err := lockDAO(c)
			if err != nil {
				return err
			}

			key := lockdao.PK(p.LockKey())
			record, err := dao.Find(c.Context, key)
			if err != nil {
				return err
			}
			if record == nil {
				logger.Info().Str("lock", key.String()).Msg("No lock held")
				return nil
			}

			if err := dao.Delete(c.Context, key); err != nil {
				return err
			}

			logger.Info().
				Str("lock", key.String()).
				Str("holder", record.Holder).
				Str("run_id", record.RunID).
				Msg("Lock released")
			return nil
		},
	}
}

func CreateLockTableCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "create-lock-table",
		Usage: "Create the DynamoDB deployment lock table if it does not exist",
		Flags: []cli.Flag{
			lockTableFlag(true),
		},
		Action: func(c *cli.Context) error {
			dao, err := lockDAO(c)
			if err != nil {
				return err
			}
			if err := dao.CreateTable(c.Context); err != nil {
				return err
			}

			logger.Info().Str("table", c.String(flagLockTable)).Msg("Lock table ready")
			return nil
		},
	}
}

// lockDAO builds the DAO without loading the project, so the table can be
// created before any project is configured.
func lockDAO(c *cli.Context) (*lockdao.DAO, error) {
	container, err := di.New(c.Context,
		di.WithRegion(c.String(flagRegion)),
		di.WithLockTable(c.String(flagLockTable)),
	)
	if err != nil {
		return nil, err
	}

	dao, err := di.Get[*lockdao.DAO](container)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lock table %s: %w", c.String(flagLockTable), err)
	}
	return dao, nil
}
