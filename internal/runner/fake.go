package runner

import (
	"context"
	"strings"
	"sync"
)

// Call records one invocation made through a Fake.
type Call struct {
	Dir  string
	Name string
	Args []string
}

// String renders the call as a command line.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Fake is a Runner for tests. Responses are keyed by command line prefix; the
// longest matching prefix wins.
type Fake struct {
	mu        sync.Mutex
	Calls     []Call
	Responses map[string]Response
}

// Response is the canned result for a command.
type Response struct {
	Stdout string
	Err    error
}

func (f *Fake) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := Call{Dir: dir, Name: name, Args: args}
	f.Calls = append(f.Calls, call)

	line := call.String()
	var (
		best    Response
		bestLen = -1
	)
	for prefix, resp := range f.Responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > bestLen {
			best, bestLen = resp, len(prefix)
		}
	}

	return []byte(best.Stdout), best.Err
}

// Commands returns the recorded command lines.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ss []string
	for _, c := range f.Calls {
		ss = append(ss, c.String())
	}
	return ss
}
