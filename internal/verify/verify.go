// Package verify checks a deployed release against what was declared: both
// image tags share one digest, the delivery role grants exactly the declared
// permissions, and the delivery stream writes under the project prefix.
package verify

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	deployerrors "github.com/savaki/ecs-deployer/internal/errors"
	"github.com/savaki/ecs-deployer/internal/models"
	"github.com/savaki/ecs-deployer/internal/services"
	"github.com/savaki/ecs-deployer/internal/stack"
	"github.com/tidwall/gjson"
)

type DigestReader interface {
	ImageDigests(ctx context.Context, repositoryName string, tags ...string) (map[string]string, error)
}

type PolicyReader interface {
	GetRolePolicyDocument(ctx context.Context, roleName, policyName string) (string, error)
}

type StreamReader interface {
	DescribeDeliveryStream(ctx context.Context, name string) (*services.DeliveryStreamInfo, error)
}

// Check is the outcome of one property check.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

type Verifier struct {
	digests DigestReader
	policy  PolicyReader
	streams StreamReader
}

func New(digests DigestReader, policy PolicyReader, streams StreamReader) *Verifier {
	return &Verifier{
		digests: digests,
		policy:  policy,
		streams: streams,
	}
}

// Run performs every check. All checks run even when one fails; the error is
// ErrVerificationFailed naming the failed checks.
func (v *Verifier) Run(ctx context.Context, infra *stack.Infrastructure, release *models.Release) ([]Check, error) {
	logger := zerolog.Ctx(ctx)

	checks := []Check{
		v.CheckDigests(ctx, release),
		v.CheckDeliveryPolicy(ctx, infra),
		v.CheckDeliveryPrefix(ctx, infra),
	}

	var failed []string
	for _, c := range checks {
		event := logger.Info()
		if !c.OK {
			event = logger.Error()
			failed = append(failed, c.Name)
		}
		event.Str("check", c.Name).Bool("ok", c.OK).Msg(c.Detail)
	}

	if len(failed) > 0 {
		return checks, fmt.Errorf("%w: %s", deployerrors.ErrVerificationFailed, strings.Join(failed, ", "))
	}
	return checks, nil
}

// CheckDigests confirms every release tag exists and all reference the same
// manifest.
func (v *Verifier) CheckDigests(ctx context.Context, release *models.Release) Check {
	c := Check{Name: "image-digests"}

	tags := release.Tags()
	digests, err := v.digests.ImageDigests(ctx, release.Repository, tags...)
	if err != nil {
		c.Detail = err.Error()
		return c
	}

	var want string
	for _, tag := range tags {
		digest, ok := digests[tag]
		if !ok {
			c.Detail = fmt.Sprintf("tag %s not found in %s", tag, release.Repository)
			return c
		}
		if want == "" {
			want = digest
		} else if digest != want {
			c.Detail = fmt.Sprintf("%v: %s=%s, %s=%s", deployerrors.ErrDigestMismatch, tags[0], want, tag, digest)
			return c
		}
	}

	c.OK = true
	c.Detail = fmt.Sprintf("%s reference %s", strings.Join(tags, ", "), want)
	return c
}

// CheckDeliveryPolicy compares the deployed inline policy with the declared
// one as sets of action/resource grants. Extra and missing grants both fail.
func (v *Verifier) CheckDeliveryPolicy(ctx context.Context, infra *stack.Infrastructure) Check {
	c := Check{Name: "delivery-policy"}

	role := infra.DeliveryRole
	document, err := v.policy.GetRolePolicyDocument(ctx, role.Name, role.PolicyName)
	if err != nil {
		c.Detail = err.Error()
		return c
	}

	declared, err := role.Policy.JSON()
	if err != nil {
		c.Detail = err.Error()
		return c
	}

	want := Grants(declared)
	got := Grants(document)

	var missing, extra []string
	for g := range want {
		if !got[g] {
			missing = append(missing, g)
		}
	}
	for g := range got {
		if !want[g] {
			extra = append(extra, g)
		}
	}
	slices.Sort(missing)
	slices.Sort(extra)

	switch {
	case len(missing) > 0 && len(extra) > 0:
		c.Detail = fmt.Sprintf("missing %s; unexpected %s", strings.Join(missing, ", "), strings.Join(extra, ", "))
	case len(missing) > 0:
		c.Detail = "missing " + strings.Join(missing, ", ")
	case len(extra) > 0:
		c.Detail = "unexpected " + strings.Join(extra, ", ")
	default:
		c.OK = true
		c.Detail = fmt.Sprintf("%s grants exactly %d declared permissions", role.PolicyName, len(want))
	}
	return c
}

// CheckDeliveryPrefix confirms the stream writes under the project prefix.
func (v *Verifier) CheckDeliveryPrefix(ctx context.Context, infra *stack.Infrastructure) Check {
	c := Check{Name: "delivery-prefix"}

	info, err := v.streams.DescribeDeliveryStream(ctx, infra.DeliveryStream.Name)
	if err != nil {
		c.Detail = err.Error()
		return c
	}

	want := stack.DeliveryPrefix(infra.Project)
	if info.Prefix != want {
		c.Detail = fmt.Sprintf("prefix is %q, want %q", info.Prefix, want)
		return c
	}

	c.OK = true
	c.Detail = fmt.Sprintf("%s writes to %s", info.Name, want)
	return c
}

// Grants flattens the Allow statements of an IAM policy document into
// "action resource" pairs. Action and Resource may each be a string or a list.
func Grants(document string) map[string]bool {
	grants := map[string]bool{}

	statements := gjson.Get(document, "Statement")
	if statements.IsObject() {
		statements = gjson.Parse("[" + statements.Raw + "]")
	}

	statements.ForEach(func(_, stmt gjson.Result) bool {
		if stmt.Get("Effect").String() != "Allow" {
			return true
		}
		for _, action := range values(stmt.Get("Action")) {
			for _, resource := range values(stmt.Get("Resource")) {
				grants[action+" "+resource] = true
			}
		}
		return true
	})

	return grants
}

func values(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	if !r.IsArray() {
		return []string{r.String()}
	}
	var ss []string
	for _, item := range r.Array() {
		ss = append(ss, item.String())
	}
	return ss
}
