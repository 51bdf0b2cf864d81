package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/yungbote/modmon/internal/modules/command"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

type fakeExecutor struct {
	calls  [][]string
	dirs   []string
	output []byte
	code   int
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, argv []string, dir string, _ []string, _ bool) ([]byte, int, error) {
	f.calls = append(f.calls, argv)
	f.dirs = append(f.dirs, dir)
	return f.output, f.code, f.err
}

func TestSpecArgv(t *testing.T) {
	plain := Spec{Args: []string{"python", "score.py", "a b"}}
	if got := plain.Argv("bash"); !reflect.DeepEqual(got, []string{"python", "score.py", "a b"}) {
		t.Fatalf("plain argv: %q", got)
	}
	activated := Spec{Activation: "conda activate env", Args: []string{"python", "score.py"}}
	want := []string{"bash", "-c", `conda activate env && exec "$@"`, "modmon", "python", "score.py"}
	if got := activated.Argv("bash"); !reflect.DeepEqual(got, want) {
		t.Fatalf("activated argv: %q", got)
	}
}

func TestRunRemovesPriorOutput(t *testing.T) {
	dir := t.TempDir()
	prior := filepath.Join(dir, "scores.csv")
	if err := os.WriteFile(prior, []byte("metric,value\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fe := &fakeExecutor{}
	r := NewRunner(logger.Nop(), WithExecutor(fe))

	if _, err := r.Run(context.Background(), Spec{Args: []string{"true"}, Dir: dir, RemoveBefore: prior}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(prior); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected prior output removed, stat err=%v", err)
	}
	if len(fe.calls) != 1 || fe.dirs[0] != dir {
		t.Fatalf("unexpected calls %v dirs %v", fe.calls, fe.dirs)
	}

	// Missing prior output is not an error.
	if _, err := r.Run(context.Background(), Spec{Args: []string{"true"}, Dir: dir, RemoveBefore: prior}); err != nil {
		t.Fatalf("Run with absent prior output: %v", err)
	}
}

func TestRunTemplate(t *testing.T) {
	fe := &fakeExecutor{}
	r := NewRunner(logger.Nop(), WithExecutor(fe))
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	db := "prod; rm -rf /"

	_, err := r.RunTemplate(context.Background(), "python score.py <start_date> <database>", command.Params{Start: &start, Database: &db}, Spec{Dir: "/tmp"})
	if err != nil {
		t.Fatalf("RunTemplate: %v", err)
	}
	want := []string{"python", "score.py", "2021-01-01", "prod; rm -rf /"}
	if !reflect.DeepEqual(fe.calls[0], want) {
		t.Fatalf("argv: %q", fe.calls[0])
	}

	_, err = r.RunTemplate(context.Background(), "python score.py <end_date>", command.Params{}, Spec{})
	if !errors.Is(err, command.ErrMissingParameter) {
		t.Fatalf("expected missing parameter, got %v", err)
	}
	if len(fe.calls) != 1 {
		t.Fatalf("template error must not execute anything")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	fe := &fakeExecutor{code: 3, output: []byte("line1\nboom\n")}
	r := NewRunner(logger.Nop(), WithExecutor(fe))

	_, err := r.Run(context.Background(), Spec{Args: []string{"python", "score.py"}})
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProcessError, got %v", err)
	}
	if perr.ExitCode != 3 || string(perr.Output) != "line1\nboom\n" {
		t.Fatalf("unexpected error contents %+v", perr)
	}
	if !errors.Is(err, apperr.ErrExternalProcess) {
		t.Fatalf("expected external process class")
	}
	if apperr.Classify(err) != apperr.KindExternalProcess {
		t.Fatalf("classify: %s", apperr.Classify(err))
	}
}

func TestOSExecutor(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	r := NewRunner(logger.Nop(), WithShell("/bin/sh"))
	res, err := r.Run(context.Background(), Spec{
		Activation:    "export GREETING=hello",
		Args:          []string{"/bin/sh", "-c", `echo "$GREETING $0"`, "world; echo injected"},
		CaptureOutput: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(res.Output); got != "hello world; echo injected\n" {
		t.Fatalf("unexpected output %q", got)
	}

	_, err = r.RunShell(context.Background(), "echo nope >&2; exit 4", "", true)
	var perr *ProcessError
	if !errors.As(err, &perr) || perr.ExitCode != 4 || string(perr.Output) != "nope\n" {
		t.Fatalf("expected exit 4 with captured stderr, got %v", err)
	}
}
