package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/modmon/internal/data/repos"
	"github.com/yungbote/modmon/internal/data/repos/testutil"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

func TestValidateColumns(t *testing.T) {
	require.NoError(t, ValidateColumns([]string{"metric", "value"}))
	require.NoError(t, ValidateColumns([]string{" metric ", "value\t"}))
	require.ErrorIs(t, ValidateColumns([]string{"name", "score"}), ErrBadColumns)
	require.ErrorIs(t, ValidateColumns([]string{"metric", "value", "extra"}), ErrBadColumns)
	require.ErrorIs(t, ValidateColumns([]string{"value", "metric"}), ErrBadColumns)
}

func TestParseMetrics(t *testing.T) {
	values, err := ParseMetrics(strings.NewReader("\ufeffmetric, value\nauc,0.81\n brier , 0.12\n"))
	require.NoError(t, err)
	require.Equal(t, []repos.MetricValue{{Metric: "auc", Value: 0.81}, {Metric: "brier", Value: 0.12}}, values)

	_, err = ParseMetrics(strings.NewReader("metric,value\nauc,high\n"))
	require.ErrorIs(t, err, ErrBadValue)

	_, err = ParseMetrics(strings.NewReader("metric,value\nauc,1\nauc,2\n"))
	require.ErrorIs(t, err, ErrBadValue)

	_, err = ParseMetrics(strings.NewReader(""))
	require.ErrorIs(t, err, ErrBadColumns)
}

func TestReadPredictions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PredictionsFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"1": 0.2, "2": {"p": [0.1, 0.9]}}`), 0o644))
	recs, err := ReadPredictions(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.JSONEq(t, `{"p": [0.1, 0.9]}`, string(recs["2"]))

	require.NoError(t, os.WriteFile(path, []byte(`[1,2,3]`), 0o644))
	_, err = ReadPredictions(path)
	require.ErrorIs(t, err, ErrBadPredictions)
}

func TestIngestMissingOutput(t *testing.T) {
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	ing := NewIngestor(set.Metric, set.Result, testutil.Logger(t))

	path := filepath.Join(t.TempDir(), ScoresFile)
	_, err := ing.Ingest(dbctx.Context{Ctx: context.Background()}, types.ResultScore, repos.RunKey{}, path, "python score.py 2020-01-01")

	var missing *MissingOutputError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, path, missing.Path)
	require.Equal(t, "python score.py 2020-01-01", missing.Command)
	require.Equal(t, apperr.KindMissingArtifact, apperr.Classify(err))
	require.Contains(t, err.Error(), path)
}

func TestIngestScores(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	set := repos.NewSet(db, testutil.Logger(t))
	ing := NewIngestor(set.Metric, set.Result, testutil.Logger(t))

	path := filepath.Join(t.TempDir(), ScoresFile)
	require.NoError(t, os.WriteFile(path, []byte("metric,value\nauc,0.7\nf1,0.5\n"), 0o644))

	key := repos.RunKey{ModelID: 1, Version: "1", DatasetID: 2, RunID: 1, RunTime: time.Now().UTC()}
	n, err := ing.Ingest(dbc, types.ResultScore, key, path, "score")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	metrics, err := set.Metric.List(dbc)
	require.NoError(t, err)
	require.Len(t, metrics, 2)

	rows, err := set.Result.ListMetrics(dbc, types.ResultScore, 1, "1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.False(t, r.IsReference)
		require.Equal(t, int64(1), r.RunID)
	}
}
