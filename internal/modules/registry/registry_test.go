package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/repos"
	"github.com/yungbote/modmon/internal/data/repos/testutil"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/modules/envs"
	"github.com/yungbote/modmon/internal/modules/ingest"
	"github.com/yungbote/modmon/internal/modules/process"
	"github.com/yungbote/modmon/internal/modules/process/processtest"
	"github.com/yungbote/modmon/internal/modules/storage"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

type fixture struct {
	db    *gorm.DB
	repos *repos.Set
	reg   *Registry
	exec  *processtest.Executor
	root  string
	src   string
}

var fixedNow = time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	set := repos.NewSet(gdb, log)
	ex := &processtest.Executor{Outputs: map[string]map[string]string{
		testutil.ScoreScript: {ingest.ScoresFile: "metric,value\nauc,0.9\naccuracy,0.8\n"},
	}}
	runner := process.NewRunner(log, process.WithExecutor(ex))
	root := t.TempDir()
	store := storage.NewStore(storage.Config{Root: root}, nil, log)
	prov := envs.NewProvisioner(envs.Config{CondaExe: "conda"}, runner, log)
	ing := ingest.NewIngestor(set.Metric, set.Result, log)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithScratchDir(t.TempDir())}, opts...)
	return &fixture{
		db:    gdb,
		repos: set,
		reg:   New(gdb, log, set, store, prov, runner, ing, opts...),
		exec:  ex,
		root:  root,
		src:   t.TempDir(),
	}
}

func (f *fixture) dbc() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func TestSetupRegistersVersion(t *testing.T) {
	f := newFixture(t)
	dir := testutil.WriteModelDir(t, f.src, "lgbm", "1.0", nil)
	testutil.WriteFile(t, dir, ingest.TrainingScoresFile, "metric,value\ntrain_auc,0.95\n")

	res, err := f.reg.Setup(context.Background(), dir, SetupOptions{})
	require.NoError(t, err)
	require.True(t, res.TeamCreated)
	require.True(t, res.ModelCreated)

	mv := res.ModelVersion
	require.Equal(t, int64(1), mv.ModelID)
	require.True(t, mv.Active)
	require.Equal(t, filepath.Join(f.root, "ModMon-model-1-version-1.0"), mv.Location)
	require.Len(t, mv.ContentDigest, 64)
	require.NotNil(t, mv.ModelTrainTime)
	require.FileExists(t, filepath.Join(mv.Location, MetadataFile))

	// Both datasets describe the same window, so they resolve to one row.
	require.Equal(t, res.TrainingDatasetID, res.TestDatasetID)
	ds, err := f.repos.Dataset.GetByID(f.dbc(), res.TestDatasetID)
	require.NoError(t, err)
	require.Equal(t, "training window", ds.Description)

	rows, err := f.repos.Result.ListMetrics(f.dbc(), types.ResultScore, mv.ModelID, mv.Version)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		require.True(t, row.IsReference)
		require.Equal(t, res.ReferenceRunID, row.RunID)
		require.True(t, row.RunTime.Equal(time.Date(2021, 1, 6, 10, 0, 0, 0, time.UTC)))
	}

	stored, err := f.repos.ModelVersion.Get(f.dbc(), 1, "1.0")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "python score.py <start_date> <end_date> <database>", stored.ScoreCommand)
}

func TestSetupNewVersionDeactivatesOld(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Setup(context.Background(), testutil.WriteModelDir(t, f.src, "lgbm", "1.0", nil), SetupOptions{})
	require.NoError(t, err)
	res, err := f.reg.Setup(context.Background(), testutil.WriteModelDir(t, f.src, "lgbm", "1.1", nil), SetupOptions{})
	require.NoError(t, err)
	require.False(t, res.TeamCreated)
	require.False(t, res.ModelCreated)
	require.Equal(t, int64(1), res.Deactivated)

	active, err := f.repos.ModelVersion.List(f.dbc(), true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "1.1", active[0].Version)

	_, err = f.reg.Setup(context.Background(), testutil.WriteModelDir(t, f.src, "lgbm", "1.2", nil), SetupOptions{KeepOldActive: true})
	require.NoError(t, err)
	active, err = f.repos.ModelVersion.List(f.dbc(), true)
	require.NoError(t, err)
	require.Len(t, active, 2)
}

func TestSetupRejectsExistingVersion(t *testing.T) {
	f := newFixture(t)
	dir := testutil.WriteModelDir(t, f.src, "lgbm", "1.0", nil)
	first, err := f.reg.Setup(context.Background(), dir, SetupOptions{})
	require.NoError(t, err)

	_, err = f.reg.Setup(context.Background(), dir, SetupOptions{})
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
	require.DirExists(t, first.ModelVersion.Location)
}

func TestSetupValidation(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]any
		want      error
	}{
		{"missing key", map[string]any{"contact_email": nil}, ErrMetadata},
		{"no placeholders", map[string]any{"score_command": "python score.py"}, command.ErrNoPlaceholders},
		{"bad date", map[string]any{"data_window_start": "soon"}, ErrMetadata},
		{"no dataset fields", map[string]any{"db_name": "", "data_window_start": "", "data_window_end": ""}, repos.ErrNoIdentifyingFields},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			dir := testutil.WriteModelDir(t, f.src, "lgbm", "1.0", tc.overrides)
			_, err := f.reg.Setup(context.Background(), dir, SetupOptions{})
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, apperr.KindConfiguration, apperr.Classify(err))

			versions, err := f.repos.ModelVersion.List(f.dbc(), false)
			require.NoError(t, err)
			require.Empty(t, versions)
		})
	}
}

func TestSetupMissingScores(t *testing.T) {
	f := newFixture(t)
	dir := testutil.WriteModelDir(t, f.src, "lgbm", "1.0", nil)
	require.NoError(t, os.Remove(filepath.Join(dir, ingest.ScoresFile)))

	_, err := f.reg.Setup(context.Background(), dir, SetupOptions{})
	var missing *ingest.MissingOutputError
	require.ErrorAs(t, err, &missing)
}

func TestSetupRollsBackAfterStoring(t *testing.T) {
	f := newFixture(t)
	dir := testutil.WriteModelDir(t, f.src, "lgbm", "1.0", nil)
	testutil.WriteFile(t, dir, envs.CondaFile, "name: broken\n")

	_, err := f.reg.Setup(context.Background(), dir, SetupOptions{CreateEnvs: true})
	require.ErrorIs(t, err, envs.ErrBadEnvironmentFile)

	require.NoDirExists(t, filepath.Join(f.root, "ModMon-model-1-version-1.0"))
	versions, err := f.repos.ModelVersion.List(f.dbc(), false)
	require.NoError(t, err)
	require.Empty(t, versions)
	team, err := f.repos.Team.Get(f.dbc(), "Team lgbm")
	require.NoError(t, err)
	require.Nil(t, team)
}

type failingChecker struct{ calls int }

func (c *failingChecker) CheckSubmission(context.Context, string) error {
	c.calls++
	return errors.New("contact_email is not an email address")
}

func TestSetupRunsChecks(t *testing.T) {
	checker := &failingChecker{}
	f := newFixture(t, WithChecker(checker))
	dir := testutil.WriteModelDir(t, f.src, "lgbm", "1.0", nil)

	_, err := f.reg.Setup(context.Background(), dir, SetupOptions{})
	require.NoError(t, err)
	require.Zero(t, checker.calls)

	dir = testutil.WriteModelDir(t, f.src, "lgbm", "1.1", nil)
	_, err = f.reg.Setup(context.Background(), dir, SetupOptions{RunChecks: true})
	require.ErrorContains(t, err, "submission checks failed")
	require.Equal(t, 1, checker.calls)
	require.NoDirExists(t, filepath.Join(f.root, "ModMon-model-1-version-1.1"))
}
