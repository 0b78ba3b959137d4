package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/savaki/ecs-deployer/internal/config"
	deployerrors "github.com/savaki/ecs-deployer/internal/errors"
	"github.com/savaki/ecs-deployer/internal/models"
	"github.com/savaki/ecs-deployer/internal/services"
	"github.com/savaki/ecs-deployer/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDigests map[string]string

func (f fakeDigests) ImageDigests(ctx context.Context, repositoryName string, tags ...string) (map[string]string, error) {
	out := map[string]string{}
	for _, tag := range tags {
		if d, ok := f[tag]; ok {
			out[tag] = d
		}
	}
	return out, nil
}

type fakePolicy struct {
	document string
	err      error
}

func (f fakePolicy) GetRolePolicyDocument(ctx context.Context, roleName, policyName string) (string, error) {
	return f.document, f.err
}

type fakeStreams struct{ prefix string }

func (f fakeStreams) DescribeDeliveryStream(ctx context.Context, name string) (*services.DeliveryStreamInfo, error) {
	return &services.DeliveryStreamInfo{Name: name, Prefix: f.prefix}, nil
}

func fixtures(t *testing.T) (*stack.Infrastructure, *models.Release) {
	t.Helper()

	f, err := config.Parse([]byte("Variables: {Org: acme, Project: crypto}\nResources: {S3Destination: acme-lake}\n"))
	require.NoError(t, err)
	p, err := f.Project()
	require.NoError(t, err)

	release := &models.Release{
		CommitHash: "abc123",
		AccountID:  "123456789012",
		Region:     "us-east-1",
		Registry:   models.RegistryURI("123456789012", "us-east-1"),
		Repository: p.Repository,
	}
	return stack.NewInfrastructure(p, release), release
}

// deployedPolicy is the delivery policy as IAM returns it, with single values
// collapsed to strings and statements reordered.
const deployedPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Sid": "FirehoseS3Access",
      "Effect": "Allow",
      "Action": [
        "s3:PutObject",
        "s3:AbortMultipartUpload",
        "s3:GetBucketLocation",
        "s3:GetObject",
        "s3:ListBucket",
        "s3:ListBucketMultipartUploads"
      ],
      "Resource": ["arn:aws:s3:::acme-lake/*", "arn:aws:s3:::acme-lake"]
    },
    {
      "Sid": "FirehoseCreateAndWriteLogStreams",
      "Effect": "Allow",
      "Action": ["logs:CreateLogStream", "logs:PutLogEvents"],
      "Resource": "arn:aws:logs:us-east-1:123456789012:log-group:/aws/acme/crypto:*"
    }
  ]
}`

func TestVerifier_Run(t *testing.T) {
	infra, release := fixtures(t)
	v := New(
		fakeDigests{"latest": "sha256:aaa", "abc123": "sha256:aaa"},
		fakePolicy{document: deployedPolicy},
		fakeStreams{prefix: "bronze/crypto/"},
	)

	checks, err := v.Run(context.Background(), infra, release)
	require.NoError(t, err)
	require.Len(t, checks, 3)
	for _, c := range checks {
		assert.True(t, c.OK, "%s: %s", c.Name, c.Detail)
	}
}

func TestVerifier_RunReportsEveryFailure(t *testing.T) {
	infra, release := fixtures(t)
	v := New(
		fakeDigests{"latest": "sha256:aaa", "abc123": "sha256:bbb"},
		fakePolicy{err: errors.New("NoSuchEntity")},
		fakeStreams{prefix: "bronze/other/"},
	)

	checks, err := v.Run(context.Background(), infra, release)
	require.Error(t, err)
	assert.True(t, errors.Is(err, deployerrors.ErrVerificationFailed))
	assert.Contains(t, err.Error(), "image-digests, delivery-policy, delivery-prefix")
	for _, c := range checks {
		assert.False(t, c.OK, c.Name)
	}
}

func TestVerifier_CheckDigests(t *testing.T) {
	_, release := fixtures(t)

	testCases := map[string]struct {
		digests fakeDigests
		ok      bool
		detail  string
	}{
		"same digest": {
			digests: fakeDigests{"latest": "sha256:aaa", "abc123": "sha256:aaa"},
			ok:      true,
		},
		"mismatch": {
			digests: fakeDigests{"latest": "sha256:aaa", "abc123": "sha256:bbb"},
			detail:  "different digests",
		},
		"commit tag missing": {
			digests: fakeDigests{"latest": "sha256:aaa"},
			detail:  "tag abc123 not found",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			c := New(tc.digests, nil, nil).CheckDigests(context.Background(), release)
			assert.Equal(t, tc.ok, c.OK, c.Detail)
			assert.Contains(t, c.Detail, tc.detail)
		})
	}
}

func TestVerifier_CheckDeliveryPolicy(t *testing.T) {
	infra, _ := fixtures(t)

	extra := `{"Statement":[
		{"Effect":"Allow","Action":["logs:CreateLogStream","logs:PutLogEvents"],"Resource":"arn:aws:logs:us-east-1:123456789012:log-group:/aws/acme/crypto:*"},
		{"Effect":"Allow","Action":["s3:AbortMultipartUpload","s3:GetBucketLocation","s3:GetObject","s3:ListBucket","s3:ListBucketMultipartUploads","s3:PutObject","s3:DeleteObject"],"Resource":["arn:aws:s3:::acme-lake","arn:aws:s3:::acme-lake/*"]}
	]}`
	c := New(nil, fakePolicy{document: extra}, nil).CheckDeliveryPolicy(context.Background(), infra)
	assert.False(t, c.OK)
	assert.Contains(t, c.Detail, "unexpected s3:DeleteObject arn:aws:s3:::acme-lake")

	missing := `{"Statement":{"Effect":"Allow","Action":"s3:PutObject","Resource":"arn:aws:s3:::acme-lake/*"}}`
	c = New(nil, fakePolicy{document: missing}, nil).CheckDeliveryPolicy(context.Background(), infra)
	assert.False(t, c.OK)
	assert.Contains(t, c.Detail, "missing logs:CreateLogStream")
}

func TestGrants(t *testing.T) {
	grants := Grants(`{"Statement":[
		{"Effect":"Allow","Action":"s3:GetObject","Resource":["a","b"]},
		{"Effect":"Deny","Action":"s3:DeleteObject","Resource":"a"}
	]}`)
	assert.Equal(t, map[string]bool{
		"s3:GetObject a": true,
		"s3:GetObject b": true,
	}, grants)

	assert.Len(t, Grants(stackPolicyJSON(t)), 2*1+6*2)
}

func stackPolicyJSON(t *testing.T) string {
	t.Helper()

	doc, err := stack.DeliveryPolicy("arn:aws:logs:us-east-1:1:log-group:g", "arn:aws:s3:::b").JSON()
	require.NoError(t, err)
	return doc
}
