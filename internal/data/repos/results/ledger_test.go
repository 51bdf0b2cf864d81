package results

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/modmon/internal/data/repos/testutil"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
)

func TestResultRepoLedger(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewResultRepo(db, testutil.Logger(t))

	exists, err := repo.Exists(dbc, types.ResultScore, 1, "1.0.0", 3)
	require.NoError(t, err)
	require.False(t, exists)

	runID, err := repo.NextRunID(dbc, types.ResultScore)
	require.NoError(t, err)
	require.Equal(t, int64(1), runID)

	now := time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)
	key := RunKey{ModelID: 1, Version: "1.0.0", DatasetID: 3, RunID: runID, RunTime: now, IsReference: true}
	require.NoError(t, repo.InsertMetrics(dbc, types.ResultScore, key, []MetricValue{
		{Metric: "auc", Value: 0.8},
		{Metric: "brier", Value: 0.1},
	}))

	exists, err = repo.Exists(dbc, types.ResultScore, 1, "1.0.0", 3)
	require.NoError(t, err)
	require.True(t, exists, "reference rows count towards the gate")

	// Other kinds and other datasets are independent.
	exists, err = repo.Exists(dbc, types.ResultResult, 1, "1.0.0", 3)
	require.NoError(t, err)
	require.False(t, exists)
	exists, err = repo.Exists(dbc, types.ResultScore, 1, "1.0.0", 4)
	require.NoError(t, err)
	require.False(t, exists)

	next, err := repo.NextRunID(dbc, types.ResultScore)
	require.NoError(t, err)
	require.Equal(t, int64(2), next)

	rows, err := repo.ListMetrics(dbc, types.ResultScore, 1, "1.0.0")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "auc", rows[0].Metric)
	require.True(t, rows[0].IsReference)

	// Run ids are independent per table.
	resultRun, err := repo.NextRunID(dbc, types.ResultResult)
	require.NoError(t, err)
	require.Equal(t, int64(1), resultRun)
}

func TestResultRepoPredictions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewResultRepo(db, testutil.Logger(t))

	key := RunKey{ModelID: 2, Version: "0.1", DatasetID: 1, RunID: 1, RunTime: time.Now().UTC()}
	require.NoError(t, repo.InsertPredictions(dbc, key, map[string]json.RawMessage{
		"17": json.RawMessage(`{"p":0.3}`),
		"18": json.RawMessage(`[1,2]`),
	}))

	n, err := repo.CountPredictions(dbc, 2, "0.1", 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	exists, err := repo.Exists(dbc, types.ResultPrediction, 2, "0.1", 1)
	require.NoError(t, err)
	require.True(t, exists)

	err = repo.InsertMetrics(dbc, types.ResultPrediction, key, []MetricValue{{Metric: "x", Value: 1}})
	require.Error(t, err)
}
