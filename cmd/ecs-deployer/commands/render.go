package commands

import (
	"context"

	"github.com/savaki/ecs-deployer/internal/orchestrator"
	"github.com/savaki/ecs-deployer/internal/stack"
)

// render checks tmpl against the policy and encodes it as json or yaml.
func render(ctx context.Context, o *orchestrator.Orchestrator, tmpl *stack.Template, project, format string) ([]byte, error) {
	if err := o.Policy.Check(ctx, tmpl, project); err != nil {
		return nil, err
	}

	if format == formatYAML {
		return tmpl.YAML()
	}

	data, err := tmpl.JSON()
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
