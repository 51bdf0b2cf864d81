package envs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/modmon/internal/modules/process"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

// scriptedExecutor answers "conda env list" from envs and records every
// other call.
type scriptedExecutor struct {
	envs  []string
	calls []string
}

func (s *scriptedExecutor) Execute(_ context.Context, argv []string, _ string, _ []string, _ bool) ([]byte, int, error) {
	joined := strings.Join(argv, " ")
	if strings.HasSuffix(joined, "env list") {
		var b strings.Builder
		b.WriteString("# conda environments:\n#\n")
		b.WriteString("base  *  /opt/conda\n")
		for _, e := range s.envs {
			b.WriteString(e + "  /opt/conda/envs/" + e + "\n")
		}
		return []byte(b.String()), 0, nil
	}
	s.calls = append(s.calls, joined)
	return nil, 0, nil
}

func newProvisioner(cfg Config, ex process.Executor) *Provisioner {
	log := logger.Nop()
	return NewProvisioner(cfg, process.NewRunner(log, process.WithExecutor(ex)), log)
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

const envYAML = "name: model\nchannels: [conda-forge]\ndependencies:\n  - python=3.10\n  - pandas\n"

func TestProvisionNoDeclaration(t *testing.T) {
	ex := &scriptedExecutor{}
	p := newProvisioner(Config{CondaExe: "/opt/conda/bin/conda"}, ex)
	act, err := p.Provision(context.Background(), t.TempDir(), 1, "1.0", false)
	require.NoError(t, err)
	require.Empty(t, act)
	require.Empty(t, ex.calls)
}

func TestProvisionConda(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, CondaFile, envYAML)
	ex := &scriptedExecutor{}
	p := newProvisioner(Config{CondaExe: "/opt/conda/bin/conda", Offline: true}, ex)

	act, err := p.Provision(context.Background(), dir, 3, "1.2", false)
	require.NoError(t, err)
	require.Equal(t, "source /opt/conda/etc/profile.d/conda.sh && conda activate ModMon-model-3-version-1.2", act)
	require.Equal(t, []string{
		"/opt/conda/bin/conda env create -n ModMon-model-3-version-1.2 -f environment.yml --force --offline",
	}, ex.calls)

	// Existing environment is a no-op without overwrite.
	ex2 := &scriptedExecutor{envs: []string{"ModMon-model-3-version-1.2"}}
	p2 := newProvisioner(Config{CondaExe: "/opt/conda/bin/conda"}, ex2)
	_, err = p2.Provision(context.Background(), dir, 3, "1.2", false)
	require.NoError(t, err)
	require.Empty(t, ex2.calls)

	// Overwrite removes then recreates.
	_, err = p2.Provision(context.Background(), dir, 3, "1.2", true)
	require.NoError(t, err)
	require.Len(t, ex2.calls, 2)
	require.Contains(t, ex2.calls[0], "remove -y --name ModMon-model-3-version-1.2 --all")
	require.Contains(t, ex2.calls[1], "env create")
}

func TestProvisionRenvWithPinnedR(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, RenvFile, `{"R": {"Version": "4.1.2"}, "Packages": {}}`)
	ex := &scriptedExecutor{}
	p := newProvisioner(Config{CondaExe: "/opt/conda/bin/conda", RenvCondaR: true}, ex)

	act, err := p.Provision(context.Background(), dir, 1, "1", false)
	require.NoError(t, err)
	require.Equal(t, "source /opt/conda/etc/profile.d/conda.sh && conda activate ModMon-R-4.1.2", act)
	require.Len(t, ex.calls, 2)
	require.Equal(t, "/opt/conda/bin/conda create -n ModMon-R-4.1.2 -c conda-forge -y r-base=4.1.2 r-renv", ex.calls[0])
	require.True(t, strings.HasSuffix(ex.calls[1], act+" && "+renvRestore))
}

func TestProvisionBothPrefersConda(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, CondaFile, envYAML)
	writeFile(t, dir, RenvFile, `{"R": {"Version": "4.0.0"}}`)
	ex := &scriptedExecutor{}
	p := newProvisioner(Config{CondaExe: "/opt/conda/bin/conda", RenvCondaR: true}, ex)

	act, err := p.Provision(context.Background(), dir, 5, "2.0", false)
	require.NoError(t, err)
	require.Contains(t, act, "conda activate ModMon-model-5-version-2.0")
	// renv is still provisioned.
	require.Len(t, ex.calls, 3)
}

func TestValidateCondaFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, CondaFile, "name: [unclosed\n")
	err := ValidateCondaFile(filepath.Join(dir, CondaFile))
	require.True(t, errors.Is(err, ErrBadEnvironmentFile))
	require.Equal(t, apperr.KindConfiguration, apperr.Classify(err))

	writeFile(t, dir, CondaFile, "name: x\n")
	require.ErrorIs(t, ValidateCondaFile(filepath.Join(dir, CondaFile)), ErrBadEnvironmentFile)
}

func TestRemoveManaged(t *testing.T) {
	ex := &scriptedExecutor{envs: []string{"ModMon-model-1-version-1", "ModMon-R-4.1.2", "ModMon-tmp-abc", "mine"}}
	p := newProvisioner(Config{CondaExe: "conda"}, ex)

	removed, err := p.RemoveManaged(context.Background(), Cleanup{Models: true, Temporary: true})
	require.NoError(t, err)
	require.Equal(t, []string{"ModMon-model-1-version-1", "ModMon-tmp-abc"}, removed)
	require.Len(t, ex.calls, 2)
}
