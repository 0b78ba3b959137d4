package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExec(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	ctx := context.Background()

	t.Run("stdout", func(t *testing.T) {
		out, err := Exec{}.Run(ctx, "", "sh", "-c", "echo hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(out))
	})

	t.Run("failure carries stderr", func(t *testing.T) {
		_, err := Exec{}.Run(ctx, "", "sh", "-c", "echo boom >&2; exit 3")
		require.Error(t, err)

		var runErr *Error
		require.True(t, errors.As(err, &runErr))
		assert.Equal(t, "boom", runErr.Stderr)
		assert.True(t, strings.HasPrefix(runErr.Command, "sh -c"))

		var exitErr *exec.ExitError
		require.True(t, errors.As(err, &exitErr))
		assert.Equal(t, 3, exitErr.ExitCode())
	})

	t.Run("stream", func(t *testing.T) {
		var console bytes.Buffer
		out, err := Exec{Stream: true, Output: &console}.Run(ctx, "", "sh", "-c", "echo step 1/2; echo warning >&2")
		require.NoError(t, err)
		assert.Equal(t, "step 1/2\n", string(out))
		assert.Contains(t, console.String(), "step 1/2")
		assert.Contains(t, console.String(), "warning")
	})

	t.Run("dir", func(t *testing.T) {
		dir := t.TempDir()
		out, err := Exec{}.Run(ctx, dir, "sh", "-c", "pwd")
		require.NoError(t, err)
		assert.Contains(t, strings.TrimSpace(string(out)), strings.TrimPrefix(dir, "/private"))
	})
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", tail("a\n", 5))
	assert.Equal(t, "", tail("", 5))
}

func TestFake(t *testing.T) {
	f := &Fake{
		Responses: map[string]Response{
			"git":                {Stdout: "generic"},
			"git rev-parse HEAD": {Stdout: "abc123\n"},
			"docker build":       {Err: errors.New("no daemon")},
		},
	}

	out, err := f.Run(context.Background(), "", "git", "rev-parse", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "abc123\n", string(out))

	out, err = f.Run(context.Background(), "", "git", "status")
	require.NoError(t, err)
	assert.Equal(t, "generic", string(out))

	_, err = f.Run(context.Background(), "", "docker", "build", ".")
	assert.EqualError(t, err, "no daemon")

	assert.Equal(t, []string{"git rev-parse HEAD", "git status", "docker build ."}, f.Commands())
}
