// Package rollout restarts the running service so it pulls the image just
// pushed under the latest tag.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/rs/zerolog"
)

// ErrServiceNotFound is returned when the cluster has no such service.
var ErrServiceNotFound = errors.New("ECS service not found")

// ECSAPI is the subset of the ECS client a redeploy needs.
type ECSAPI interface {
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
}

var _ ECSAPI = (*ecs.Client)(nil)

// Redeployer forces new deployments of ECS services.
type Redeployer struct {
	client ECSAPI

	// Wait bounds how long to wait for the service to become stable. Zero
	// returns as soon as the deployment is started.
	Wait      time.Duration
	PollDelay time.Duration
}

func NewRedeployer(client ECSAPI) *Redeployer {
	return &Redeployer{
		client:    client,
		PollDelay: 15 * time.Second,
	}
}

// Deployment is the deployment started by a redeploy.
type Deployment struct {
	Cluster      string
	Service      string
	DeploymentID string
	TaskDef      string
	Stable       bool
}

// Redeploy starts a new deployment of service in cluster with the same task
// definition, replacing running tasks with ones that pull the image again.
func (r *Redeployer) Redeploy(ctx context.Context, cluster, service string) (*Deployment, error) {
	logger := zerolog.Ctx(ctx)

	out, err := r.client.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(cluster),
		Service:            aws.String(service),
		ForceNewDeployment: true,
	})
	if err != nil {
		var notFound *types.ServiceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrServiceNotFound, cluster, service)
		}
		return nil, fmt.Errorf("failed to update service %s/%s: %w", cluster, service, err)
	}

	deployment := &Deployment{
		Cluster: cluster,
		Service: service,
	}
	if out.Service != nil {
		deployment.TaskDef = aws.ToString(out.Service.TaskDefinition)
		for _, d := range out.Service.Deployments {
			if aws.ToString(d.Status) == "PRIMARY" {
				deployment.DeploymentID = aws.ToString(d.Id)
			}
		}
	}

	logger.Info().
		Str("cluster", cluster).
		Str("service", service).
		Str("deployment", deployment.DeploymentID).
		Msg("forced new deployment")

	if r.Wait <= 0 {
		return deployment, nil
	}

	logger.Info().Dur("timeout", r.Wait).Msg("waiting for service to become stable")
	waiter := ecs.NewServicesStableWaiter(r.client, func(o *ecs.ServicesStableWaiterOptions) {
		o.MinDelay = r.PollDelay
	})
	err = waiter.Wait(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{service},
	}, r.Wait)
	if err != nil {
		return nil, fmt.Errorf("service %s/%s did not become stable: %w", cluster, service, err)
	}

	deployment.Stable = true
	logger.Info().Str("service", service).Msg("service is stable")

	return deployment, nil
}
