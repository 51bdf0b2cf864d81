// Package processtest provides a process.Executor that never starts a
// process.
package processtest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Executor writes canned output files instead of running commands. When any
// argv element equals a key of Outputs, the files under that key are
// written into the working directory. A key of Fail makes matching
// commands exit with the mapped code instead.
type Executor struct {
	Outputs map[string]map[string]string
	Fail    map[string]int

	mu    sync.Mutex
	calls [][]string
	dirs  []string
}

func (e *Executor) Execute(_ context.Context, argv []string, dir string, _ []string, _ bool) ([]byte, int, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), argv...))
	e.dirs = append(e.dirs, dir)
	e.mu.Unlock()

	if strings.HasSuffix(strings.Join(argv, " "), "env list") {
		return []byte("# conda environments:\n#\nbase  *  /opt/conda\n"), 0, nil
	}
	for _, arg := range argv {
		if code, ok := e.Fail[arg]; ok {
			return []byte(arg + " failed\n"), code, nil
		}
	}
	for _, arg := range argv {
		files, ok := e.Outputs[arg]
		if !ok {
			continue
		}
		for name, body := range files {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
				return nil, 1, err
			}
		}
	}
	return nil, 0, nil
}

// Calls returns every argv executed so far.
func (e *Executor) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.calls...)
}

// Dirs returns the working directory of every call, in order.
func (e *Executor) Dirs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.dirs...)
}

// CallsMatching returns the calls with an argv element equal to arg.
func (e *Executor) CallsMatching(arg string) [][]string {
	var out [][]string
	for _, c := range e.Calls() {
		for _, a := range c {
			if a == arg {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
