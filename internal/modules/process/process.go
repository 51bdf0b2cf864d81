package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yungbote/modmon/internal/modules/command"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

// outputTail bounds how much output a ProcessError keeps when output is
// streamed rather than captured.
const outputTail = 64 << 10

// Spec describes one external invocation. Activation is a shell snippet
// run before Args in the same shell; Args are never interpreted by a shell.
type Spec struct {
	Activation    string
	Args          []string
	Dir           string
	RemoveBefore  string
	CaptureOutput bool
	Env           []string
}

// Argv is the vector actually executed for s.
func (s Spec) Argv(shell string) []string {
	if strings.TrimSpace(s.Activation) == "" {
		return append([]string(nil), s.Args...)
	}
	out := []string{shell, "-c", s.Activation + ` && exec "$@"`, "modmon"}
	return append(out, s.Args...)
}

type Result struct {
	Argv     []string
	Output   []byte
	Duration time.Duration
}

// ProcessError is a non-zero exit, or a failure to start the process.
type ProcessError struct {
	Command  string
	ExitCode int
	Output   []byte
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if e.Err != nil && e.ExitCode < 0 {
		msg = fmt.Sprintf("command %q failed to start: %v", e.Command, e.Err)
	}
	if tail := lastLines(e.Output, 5); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ProcessError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperr.ErrExternalProcess}
	}
	return []error{apperr.ErrExternalProcess, e.Err}
}

// Executor starts a process and waits for it. Output is returned when
// capture is set; otherwise it is streamed and only a tail is returned.
type Executor interface {
	Execute(ctx context.Context, argv []string, dir string, env []string, capture bool) (output []byte, exitCode int, err error)
}

type Runner struct {
	exec  Executor
	log   *logger.Logger
	shell string
}

type Option func(*Runner)

func WithExecutor(e Executor) Option { return func(r *Runner) { r.exec = e } }
func WithShell(shell string) Option  { return func(r *Runner) { r.shell = shell } }

func NewRunner(baseLog *logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		exec:  OSExecutor{Stdout: os.Stdout, Stderr: os.Stderr},
		log:   baseLog.With("component", "ProcessRunner"),
		shell: "bash",
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run removes spec.RemoveBefore, then executes spec synchronously in
// spec.Dir. There is no timeout; ctx only cancels.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Args) == 0 {
		return nil, fmt.Errorf("%w: empty argument vector", apperr.ErrInvalidArgument)
	}
	if spec.RemoveBefore != "" {
		if err := os.Remove(spec.RemoveBefore); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove prior output %s: %w", spec.RemoveBefore, err)
		}
	}
	return r.execute(ctx, spec.Argv(r.shell), command.Join(spec.Args), spec.Dir, spec.Env, spec.CaptureOutput)
}

// RunTemplate builds template with params into spec.Args and runs spec.
func (r *Runner) RunTemplate(ctx context.Context, template string, params command.Params, spec Spec) (*Result, error) {
	args, err := command.Build(template, params)
	if err != nil {
		return nil, err
	}
	spec.Args = args
	return r.Run(ctx, spec)
}

// RunShell runs a snippet generated by modmon itself through the shell.
// User-supplied templates never go through here.
func (r *Runner) RunShell(ctx context.Context, script, dir string, capture bool) (*Result, error) {
	return r.execute(ctx, []string{r.shell, "-c", script}, script, dir, nil, capture)
}

func (r *Runner) execute(ctx context.Context, argv []string, display, dir string, env []string, capture bool) (*Result, error) {
	r.log.Info("running command", "command", display, "dir", dir)
	started := time.Now()
	out, code, err := r.exec.Execute(ctx, argv, dir, env, capture)
	res := &Result{Argv: argv, Output: out, Duration: time.Since(started)}
	if err != nil || code != 0 {
		if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
			err = errors.Join(err, ctxErr)
		}
		perr := &ProcessError{Command: display, ExitCode: code, Output: out, Err: err}
		r.log.Error("command failed", "command", display, "exit_code", code, "error", err)
		return res, perr
	}
	r.log.Debug("command finished", "command", display, "duration", res.Duration)
	return res, nil
}

// OSExecutor runs processes with os/exec.
type OSExecutor struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (e OSExecutor) Execute(ctx context.Context, argv []string, dir string, env []string, capture bool) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var buf bytes.Buffer
	tail := &tailWriter{max: outputTail}
	if capture {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	} else {
		cmd.Stdout = io.MultiWriter(orDiscard(e.Stdout), tail)
		cmd.Stderr = io.MultiWriter(orDiscard(e.Stderr), tail)
	}
	err := cmd.Run()
	out := buf.Bytes()
	if !capture {
		out = tail.Bytes()
	}
	if err == nil {
		return out, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	return out, -1, err
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

type tailWriter struct {
	buf []byte
	max int
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailWriter) Bytes() []byte { return t.buf }

func lastLines(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
