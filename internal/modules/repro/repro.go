package repro

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/modules/envs"
	"github.com/yungbote/modmon/internal/modules/ingest"
	"github.com/yungbote/modmon/internal/modules/process"
	"github.com/yungbote/modmon/internal/modules/registry"
	"github.com/yungbote/modmon/internal/modules/storage"
	"github.com/yungbote/modmon/internal/observability"
	"github.com/yungbote/modmon/internal/platform/logger"
)

// Report compares the analyst's scores file with one produced by rerunning
// the score command on a fresh copy.
type Report struct {
	Dir             string
	Command         string
	EnvName         string
	ReferenceDigest string
	FreshDigest     string
	Reproducible    bool
}

type Checker struct {
	envs       *envs.Provisioner
	runner     *process.Runner
	log        *logger.Logger
	scratchDir string
}

func New(provisioner *envs.Provisioner, runner *process.Runner, baseLog *logger.Logger, scratchDir string) *Checker {
	return &Checker{
		envs:       provisioner,
		runner:     runner,
		log:        baseLog.With("component", "ReproChecker"),
		scratchDir: scratchDir,
	}
}

// Check reruns the score command of the model directory dir in a disposable
// copy and compares the output byte for byte. Zero params are taken from
// the metadata window. dir itself is never modified.
func (c *Checker) Check(ctx context.Context, dir string, params command.Params) (report *Report, err error) {
	ctx, span := observability.StartSpan(ctx, "repro.check")
	defer func() { observability.EndSpan(span, err) }()

	md, err := registry.ReadMetadata(dir)
	if err != nil {
		return nil, err
	}
	if params == (command.Params{}) {
		if params, err = md.Params(); err != nil {
			return nil, err
		}
	}
	reference := filepath.Join(dir, ingest.ScoresFile)
	refDigest, err := storage.HashFile(reference)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ingest.MissingOutputError{Path: reference}
		}
		return nil, err
	}

	scratch, err := os.MkdirTemp(c.scratchDir, envs.TempPrefix)
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)
	work := filepath.Join(scratch, filepath.Base(filepath.Clean(dir)))
	if err := storage.CopyDir(dir, work); err != nil {
		return nil, fmt.Errorf("copy %s to scratch: %w", dir, err)
	}
	fresh := filepath.Join(work, ingest.ScoresFile)
	if err := os.Remove(fresh); err != nil {
		return nil, err
	}

	envName := envs.TempPrefix + uuid.NewString()
	defer c.dropEnv(work, envName)
	activation, err := c.envs.ProvisionNamed(ctx, work, envName, true)
	if err != nil {
		return nil, err
	}

	report = &Report{Dir: dir, Command: md.ScoreCommand, EnvName: envName, ReferenceDigest: refDigest}
	if _, err := c.runner.RunTemplate(ctx, md.ScoreCommand, params, process.Spec{Activation: activation, Dir: work}); err != nil {
		return nil, err
	}
	report.FreshDigest, err = storage.HashFile(fresh)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ingest.MissingOutputError{Path: fresh, Command: md.ScoreCommand}
		}
		return nil, err
	}
	report.Reproducible = report.FreshDigest == report.ReferenceDigest
	if report.Reproducible {
		c.log.Info("scores reproduced", "dir", dir, "digest", refDigest)
	} else {
		c.log.Warn("scores not reproduced", "dir", dir, "reference", refDigest, "fresh", report.FreshDigest)
	}
	return report, nil
}

// dropEnv removes the temporary conda environment, if one was built.
func (c *Checker) dropEnv(work, name string) {
	types, err := envs.DetectTypes(work)
	if err != nil || !types.Conda {
		return
	}
	if err := c.envs.RemoveEnv(context.Background(), name); err != nil {
		c.log.Warn("failed to remove temporary environment", "env", name, "error", err)
	}
}
