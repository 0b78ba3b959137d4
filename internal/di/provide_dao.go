package di

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ecs-deployer/internal/dao/lockdao"
)

// ProvideLockDAO returns nil when no lock table is configured.
func ProvideLockDAO(settings Settings, client *dynamodb.Client) *lockdao.DAO {
	if settings.LockTable == "" {
		return nil
	}
	return lockdao.New(client, settings.LockTable)
}
