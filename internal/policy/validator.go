package policy

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	deployerrors "github.com/savaki/ecs-deployer/internal/errors"
	"github.com/savaki/ecs-deployer/internal/stack"
)

//go:embed release.rego
var policyContent string

// decisionQuery binds both the verdict and the violations in one evaluation.
const decisionQuery = "allow = data.release.allow; violations = data.release.violations"

type Validator struct {
	prepared rego.PreparedEvalQuery
}

type ValidationResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

// NewValidator compiles the embedded policy.
func NewValidator() (*Validator, error) {
	query, err := rego.New(
		rego.Query(decisionQuery),
		rego.Module("release.rego", policyContent),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	return &Validator{
		prepared: query,
	}, nil
}

// ValidateTemplate evaluates the policy against a template decoded into
// generic JSON values.
func (v *Validator) ValidateTemplate(ctx context.Context, template map[string]any, project string) (*ValidationResult, error) {
	input := map[string]any{
		"Resources": template["Resources"],
		"project":   project,
	}

	results, err := v.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("policy evaluation returned no result")
	}

	allowed, ok := results[0].Bindings["allow"].(bool)
	if !ok {
		return nil, fmt.Errorf("policy evaluation returned non-boolean result")
	}

	result := &ValidationResult{Allowed: allowed}
	if !allowed {
		result.Violations = violations(results[0].Bindings["violations"])
	}

	return result, nil
}

// Check validates a rendered template and returns ErrPolicyViolation listing
// every violation when it is not allowed.
func (v *Validator) Check(ctx context.Context, tmpl *stack.Template, project string) error {
	m, err := tmpl.Map()
	if err != nil {
		return err
	}

	result, err := v.ValidateTemplate(ctx, m, project)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", deployerrors.ErrPolicyViolation, strings.Join(result.Violations, "; "))
	}
	return nil
}

func violations(value any) []string {
	var out []string
	switch vs := value.(type) {
	case []any:
		for _, violation := range vs {
			if str, ok := violation.(string); ok {
				out = append(out, str)
			}
		}
	case map[string]any:
		for violation := range vs {
			out = append(out, violation)
		}
	}

	if len(out) == 0 {
		return []string{"policy validation failed but no specific violations found"}
	}

	sort.Strings(out)
	return out
}
