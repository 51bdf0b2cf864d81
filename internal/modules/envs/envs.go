package envs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/modmon/internal/domain/catalog"
	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/modules/process"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

const (
	CondaFile = "environment.yml"
	RenvFile  = "renv.lock"

	// RPrefix names the conda environments that pin an R version for renv
	// projects.
	RPrefix = "ModMon-R-"
	// TempPrefix names environments built for one-off checks.
	TempPrefix = "ModMon-tmp-"
)

var ErrBadEnvironmentFile = fmt.Errorf("%w: invalid environment declaration", apperr.ErrConfiguration)

type Config struct {
	// CondaExe is the conda executable. Empty falls back to $CONDA_EXE and
	// then to "conda" on PATH.
	CondaExe string
	// Offline passes --offline to every conda create.
	Offline bool
	// RenvCondaR builds a conda environment with the R version pinned in
	// renv.lock and restores renv inside it.
	RenvCondaR bool
	// CaptureOutput captures conda and R output instead of streaming it.
	CaptureOutput bool
}

// Types records which environment declarations a directory carries.
type Types struct {
	Conda bool
	Renv  bool
}

func (t Types) Any() bool { return t.Conda || t.Renv }

func DetectTypes(dir string) (Types, error) {
	var t Types
	var err error
	if t.Conda, err = exists(filepath.Join(dir, CondaFile)); err != nil {
		return t, err
	}
	if t.Renv, err = exists(filepath.Join(dir, RenvFile)); err != nil {
		return t, err
	}
	return t, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

type Provisioner struct {
	cfg Config
	run *process.Runner
	log *logger.Logger
}

func NewProvisioner(cfg Config, runner *process.Runner, baseLog *logger.Logger) *Provisioner {
	return &Provisioner{
		cfg: cfg,
		run: runner,
		log: baseLog.With("component", "EnvProvisioner"),
	}
}

// Provision builds the environment a model version declares and returns the
// shell snippet that activates it, or "" when the directory declares none.
func (p *Provisioner) Provision(ctx context.Context, dir string, modelID int64, version string, overwrite bool) (string, error) {
	return p.ProvisionNamed(ctx, dir, catalog.Identifier(modelID, version), overwrite)
}

// ProvisionNamed is Provision with an explicit conda environment name.
//
// With both declarations present the conda environment wins the activation
// even though the renv environment is still built.
func (p *Provisioner) ProvisionNamed(ctx context.Context, dir, envName string, overwrite bool) (string, error) {
	types, err := DetectTypes(dir)
	if err != nil {
		return "", err
	}
	if !types.Any() {
		p.log.Warn("no environment declared", "dir", dir)
		return "", nil
	}
	if types.Conda && types.Renv {
		p.log.Warn("both conda and renv environments declared, conda takes priority", "dir", dir)
	}

	var activation string
	if types.Renv {
		activation, err = p.provisionRenv(ctx, dir, overwrite)
		if err != nil {
			return "", err
		}
	}
	if types.Conda {
		if err := p.CreateCondaEnv(ctx, envName, filepath.Join(dir, CondaFile), overwrite); err != nil {
			return "", err
		}
		activation = p.ActivateCommand(envName)
	}
	return activation, nil
}

func (p *Provisioner) conda() string {
	if p.cfg.CondaExe != "" {
		return p.cfg.CondaExe
	}
	if exe := os.Getenv("CONDA_EXE"); exe != "" {
		return exe
	}
	return "conda"
}

// ActivateCommand sources conda's shell hook and activates name.
func (p *Provisioner) ActivateCommand(name string) string {
	exe := p.conda()
	hook := "conda.sh"
	if filepath.IsAbs(exe) {
		hook = filepath.Clean(filepath.Join(filepath.Dir(exe), "..", "etc", "profile.d", "conda.sh"))
	} else if dir, ok := condaBase(); ok {
		hook = filepath.Join(dir, "etc", "profile.d", "conda.sh")
	}
	return fmt.Sprintf("source %s && conda activate %s", command.Quote(hook), command.Quote(name))
}

func condaBase() (string, bool) {
	if exe := os.Getenv("CONDA_EXE"); exe != "" {
		return filepath.Clean(filepath.Join(filepath.Dir(exe), "..")), true
	}
	return "", false
}

// ListEnvs returns the names printed by "conda env list".
func (p *Provisioner) ListEnvs(ctx context.Context) ([]string, error) {
	res, err := p.run.Run(ctx, process.Spec{Args: []string{p.conda(), "env", "list"}, CaptureOutput: true})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(res.Output), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		out = append(out, fields[0])
	}
	return out, nil
}

func (p *Provisioner) EnvExists(ctx context.Context, name string) (bool, error) {
	names, err := p.ListEnvs(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provisioner) RemoveEnv(ctx context.Context, name string) error {
	_, err := p.run.Run(ctx, process.Spec{
		Args:          []string{p.conda(), "remove", "-y", "--name", name, "--all"},
		CaptureOutput: p.cfg.CaptureOutput,
	})
	return err
}

// prepare reports whether name still needs creating, removing it first when
// overwrite is set.
func (p *Provisioner) prepare(ctx context.Context, name string, overwrite bool) (bool, error) {
	found, err := p.EnvExists(ctx, name)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	if !overwrite {
		p.log.Debug("environment exists", "env", name)
		return false, nil
	}
	p.log.Info("removing environment before rebuild", "env", name)
	return true, p.RemoveEnv(ctx, name)
}

// CreateCondaEnv builds name from envFile unless it already exists.
func (p *Provisioner) CreateCondaEnv(ctx context.Context, name, envFile string, overwrite bool) error {
	if err := ValidateCondaFile(envFile); err != nil {
		return err
	}
	create, err := p.prepare(ctx, name, overwrite)
	if err != nil || !create {
		return err
	}
	args := []string{p.conda(), "env", "create", "-n", name, "-f", filepath.Base(envFile), "--force"}
	if p.cfg.Offline {
		args = append(args, "--offline")
	}
	p.log.Info("creating conda environment", "env", name)
	_, err = p.run.Run(ctx, process.Spec{Args: args, Dir: filepath.Dir(envFile), CaptureOutput: p.cfg.CaptureOutput})
	return err
}

// CreateCondaEnvFromPackages builds name with the given conda-forge packages.
func (p *Provisioner) CreateCondaEnvFromPackages(ctx context.Context, name string, packages []string, overwrite bool) error {
	if len(packages) == 0 {
		return fmt.Errorf("%w: no packages for environment %s", apperr.ErrInvalidArgument, name)
	}
	create, err := p.prepare(ctx, name, overwrite)
	if err != nil || !create {
		return err
	}
	args := append([]string{p.conda(), "create", "-n", name, "-c", "conda-forge", "-y"}, packages...)
	if p.cfg.Offline {
		args = append(args, "--offline")
	}
	p.log.Info("creating conda environment", "env", name, "packages", packages)
	_, err = p.run.Run(ctx, process.Spec{Args: args, CaptureOutput: p.cfg.CaptureOutput})
	return err
}

type condaFile struct {
	Name         string   `yaml:"name"`
	Channels     []string `yaml:"channels"`
	Dependencies []any    `yaml:"dependencies"`
}

// ValidateCondaFile checks that path is a conda environment spec with at
// least one dependency.
func ValidateCondaFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var spec condaFile
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadEnvironmentFile, path, err)
	}
	if len(spec.Dependencies) == 0 {
		return fmt.Errorf("%w: %s lists no dependencies", ErrBadEnvironmentFile, path)
	}
	return nil
}

type renvLock struct {
	R struct {
		Version string `json:"Version"`
	} `json:"R"`
}

// RVersion reads the R version pinned in dir/renv.lock.
func RVersion(dir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, RenvFile))
	if err != nil {
		return "", err
	}
	var lock renvLock
	if err := json.Unmarshal(raw, &lock); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBadEnvironmentFile, RenvFile, err)
	}
	if strings.TrimSpace(lock.R.Version) == "" {
		return "", fmt.Errorf("%w: %s has no R version", ErrBadEnvironmentFile, RenvFile)
	}
	return lock.R.Version, nil
}

const renvRestore = "Rscript -e 'renv::restore()' && Rscript -e 'renv::init()'"

// provisionRenv restores the renv library in dir. It returns the activation
// of the pinned R environment when one was built.
func (p *Provisioner) provisionRenv(ctx context.Context, dir string, overwrite bool) (string, error) {
	rVersion, err := RVersion(dir)
	if err != nil {
		return "", err
	}
	var activation string
	if p.cfg.RenvCondaR {
		name := RPrefix + rVersion
		if err := p.CreateCondaEnvFromPackages(ctx, name, []string{"r-base=" + rVersion, "r-renv"}, overwrite); err != nil {
			return "", err
		}
		activation = p.ActivateCommand(name)
	}
	script := renvRestore
	if activation != "" {
		script = activation + " && " + renvRestore
	}
	p.log.Info("restoring renv environment", "dir", dir, "r_version", rVersion)
	if _, err := p.run.RunShell(ctx, script, dir, p.cfg.CaptureOutput); err != nil {
		return "", err
	}
	return activation, nil
}

// Cleanup selects which modmon-managed environments RemoveManaged deletes.
type Cleanup struct {
	Models    bool
	R         bool
	Temporary bool
}

// RemoveManaged deletes the selected environments and returns their names.
func (p *Provisioner) RemoveManaged(ctx context.Context, sel Cleanup) ([]string, error) {
	names, err := p.ListEnvs(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, n := range names {
		n = filepath.Base(n)
		match := (sel.Models && strings.HasPrefix(n, catalog.IdentifierPrefix)) ||
			(sel.R && strings.HasPrefix(n, RPrefix)) ||
			(sel.Temporary && strings.HasPrefix(n, TempPrefix))
		if !match {
			continue
		}
		if err := p.RemoveEnv(ctx, n); err != nil {
			return removed, fmt.Errorf("remove %s: %w", n, err)
		}
		removed = append(removed, n)
	}
	return removed, nil
}
