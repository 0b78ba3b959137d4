package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/savaki/ecs-deployer/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAccount struct {
	id  string
	err error
}

func (s staticAccount) GetAccountID(context.Context) (string, error) {
	return s.id, s.err
}

func TestResolver_Resolve(t *testing.T) {
	fake := &runner.Fake{
		Responses: map[string]runner.Response{
			"git rev-parse HEAD":     {Stdout: "0123456789abcdef0123456789abcdef01234567\n"},
			"git status --porcelain": {Stdout: ""},
		},
	}

	r := NewResolver(fake, staticAccount{id: "123456789012"}, "us-east-1")
	r.newID = func() string { return "run-1" }

	release, err := r.Resolve(context.Background(), "/src/app", "ecr-acme-crypto-firehose-producer")
	require.NoError(t, err)

	assert.Equal(t, "run-1", release.RunID)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", release.CommitHash)
	assert.False(t, release.Dirty)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com", release.Registry)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/ecr-acme-crypto-firehose-producer", release.RepositoryURI())
	assert.Equal(t, []string{"latest", "0123456789abcdef0123456789abcdef01234567"}, release.Tags())
	assert.Equal(t, "/src/app", fake.Calls[0].Dir)
}

func TestResolver_Errors(t *testing.T) {
	okGit := map[string]runner.Response{
		"git rev-parse HEAD": {Stdout: "abc\n"},
	}

	testCases := map[string]struct {
		git     map[string]runner.Response
		account staticAccount
		region  string
		want    string
	}{
		"no region": {
			git:     okGit,
			account: staticAccount{id: "1"},
			want:    "region",
		},
		"git fails": {
			git:     map[string]runner.Response{"git": {Err: errors.New("not a git repository")}},
			account: staticAccount{id: "1"},
			region:  "us-east-1",
			want:    "commit hash",
		},
		"sts fails": {
			git:     okGit,
			account: staticAccount{err: errors.New("ExpiredToken")},
			region:  "us-east-1",
			want:    "account id",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			r := NewResolver(&runner.Fake{Responses: tc.git}, tc.account, tc.region)
			_, err := r.Resolve(context.Background(), ".", "repo")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestResolver_NewIDIsUnique(t *testing.T) {
	r := NewResolver(nil, nil, "us-east-1")
	assert.NotEqual(t, r.newID(), r.newID())
}
