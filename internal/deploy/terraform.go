package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/savaki/ecs-deployer/internal/runner"
	"github.com/savaki/ecs-deployer/internal/stack"
	"github.com/savaki/ecs-deployer/internal/terraform"
)

// Applier applies the infrastructure stack.
type Applier interface {
	ApplyInfrastructure(ctx context.Context, infra *stack.Infrastructure) (*Result, error)
}

var (
	_ Applier = (*CloudFormation)(nil)
	_ Applier = (*Terraform)(nil)
)

var applySummary = regexp.MustCompile(`Resources: (\d+) added, (\d+) changed, (\d+) destroyed`)

// Terraform renders main.tf into WorkDir and applies it with the terraform
// CLI.
type Terraform struct {
	runner  runner.Runner
	WorkDir string
	Backend *terraform.Backend
}

func NewTerraform(r runner.Runner, workDir string, backend *terraform.Backend) *Terraform {
	return &Terraform{
		runner:  r,
		WorkDir: workDir,
		Backend: backend,
	}
}

func (t *Terraform) ApplyInfrastructure(ctx context.Context, infra *stack.Infrastructure) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	config, err := terraform.Render(infra, t.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to render terraform: %w", err)
	}

	if err := os.MkdirAll(t.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create terraform work dir: %w", err)
	}
	path := filepath.Join(t.WorkDir, "main.tf")
	if err := os.WriteFile(path, config, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	logger.Info().
		Str("dir", t.WorkDir).
		Str("state", t.Backend.String()).
		Msg("applying terraform")

	if _, err := t.runner.Run(ctx, t.WorkDir, "terraform", "init", "-input=false", "-no-color"); err != nil {
		return nil, fmt.Errorf("terraform init failed: %w", err)
	}

	out, err := t.runner.Run(ctx, t.WorkDir, "terraform", "apply", "-input=false", "-auto-approve", "-no-color")
	if err != nil {
		return nil, fmt.Errorf("terraform apply failed: %w", err)
	}

	result := &Result{
		StackName: infra.StackName,
		StackID:   path,
		Operation: applyOperation(string(out)),
	}
	logger.Info().Str("operation", result.Operation).Msg("terraform apply complete")

	return result, nil
}

// applyOperation reads the apply summary. Output without a summary is
// treated as a change.
func applyOperation(output string) string {
	m := applySummary.FindStringSubmatch(output)
	if m == nil {
		return OperationUpdate
	}

	added, _ := strconv.Atoi(m[1])
	changed, _ := strconv.Atoi(m[2])
	destroyed, _ := strconv.Atoi(m[3])
	switch {
	case added+changed+destroyed == 0:
		return OperationNone
	case changed == 0 && destroyed == 0:
		return OperationCreate
	default:
		return OperationUpdate
	}
}
