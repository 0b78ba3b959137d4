// Package runner invokes the external tools a release depends on (git, docker,
// terraform) and turns a non-zero exit into an error carrying the tool's stderr.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes a command in dir and returns its stdout.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// Exec runs commands on the host.
type Exec struct {
	// Stream copies the child's stdout and stderr to Output as it runs, for
	// long running tools such as docker build.
	Stream bool
	Output io.Writer
}

func (e Exec) Run(ctx context.Context, dir, name string, args ...string) (out []byte, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Debug().
			Err(err).
			Str("cmd", name).
			Strs("args", args).
			Str("dir", dir).
			Dur("duration", time.Since(begin)).
			Msg("command finished")
	}(time.Now())

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if e.Stream {
		w := e.Output
		if w == nil {
			w = os.Stderr
		}
		cmd.Stdout = io.MultiWriter(&stdout, w)
		cmd.Stderr = io.MultiWriter(&stderr, w)
	}

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &Error{
			Command: strings.TrimSpace(name + " " + strings.Join(args, " ")),
			Stderr:  tail(stderr.String(), 20),
			Err:     err,
		}
	}

	return stdout.Bytes(), nil
}

// Error reports a failed command.
type Error struct {
	Command string
	Stderr  string
	Err     error
}

func (e *Error) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// tail keeps the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
