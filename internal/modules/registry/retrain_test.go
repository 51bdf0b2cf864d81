package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/modmon/internal/data/repos/testutil"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/modules/command"
)

func retrainParams() command.Params {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC)
	db := "synpuf"
	return command.Params{Start: &start, End: &end, Database: &db}
}

func TestRetrainRegistersNewVersion(t *testing.T) {
	f := newFixture(t)
	setup, err := f.reg.Setup(context.Background(), testutil.WriteModelDir(t, f.src, "lgbm", "1.0", nil), SetupOptions{})
	require.NoError(t, err)
	src := setup.ModelVersion

	res, err := f.reg.Retrain(context.Background(), src, retrainParams(), false)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, 2, res.Metrics)
	require.NotEqual(t, setup.TestDatasetID, res.DatasetID)

	nv := res.NewVersion
	require.Equal(t, "1.1", nv.Version)
	require.True(t, nv.Active)
	require.Equal(t, res.DatasetID, nv.TrainingDatasetID)
	require.True(t, nv.ModelTrainTime.Equal(fixedNow))

	md, err := ReadMetadata(nv.Location)
	require.NoError(t, err)
	require.Equal(t, "1.1", md.ModelVersion)
	require.Equal(t, "2021-01-01", md.DataWindowStart)
	require.Equal(t, RetrainedDescription, md.TrainingDataDescription)

	old, err := f.repos.ModelVersion.Get(f.dbc(), src.ModelID, "1.0")
	require.NoError(t, err)
	require.False(t, old.Active)

	rows, err := f.repos.Result.ListMetrics(f.dbc(), types.ResultResult, src.ModelID, "1.0")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, res.DatasetID, row.DatasetID)
		require.False(t, row.IsReference)
	}

	// The source directory is never modified.
	_, err = os.Stat(filepath.Join(src.Location, "scores.csv"))
	require.NoError(t, err)
	require.Len(t, f.exec.CallsMatching(testutil.TrainScript), 1)
}

func TestRetrainIsGatedPerDataset(t *testing.T) {
	f := newFixture(t)
	setup, err := f.reg.Setup(context.Background(), testutil.WriteModelDir(t, f.src, "lgbm", "1.0", nil), SetupOptions{})
	require.NoError(t, err)
	src := setup.ModelVersion

	first, err := f.reg.Retrain(context.Background(), src, retrainParams(), false)
	require.NoError(t, err)

	again, err := f.reg.Retrain(context.Background(), src, retrainParams(), false)
	require.NoError(t, err)
	require.True(t, again.Skipped)
	require.Equal(t, first.DatasetID, again.DatasetID)
	require.Len(t, f.exec.CallsMatching(testutil.TrainScript), 1)

	forced, err := f.reg.Retrain(context.Background(), src, retrainParams(), true)
	require.NoError(t, err)
	require.Equal(t, "1.2", forced.NewVersion.Version)
	require.Greater(t, forced.RunID, first.RunID)
}

func TestRetrainFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	setup, err := f.reg.Setup(context.Background(), testutil.WriteModelDir(t, f.src, "lgbm", "1.0", nil), SetupOptions{})
	require.NoError(t, err)
	f.exec.Fail = map[string]int{testutil.TrainScript: 2}

	_, err = f.reg.Retrain(context.Background(), setup.ModelVersion, retrainParams(), false)
	require.Error(t, err)

	versions, err := f.repos.ModelVersion.List(f.dbc(), false)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.True(t, versions[0].Active)
	require.NoDirExists(t, filepath.Join(f.root, "ModMon-model-1-version-1.1"))
}
