package results

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/db"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/domain/results"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

// RunKey is shared by every row written for one run.
type RunKey struct {
	ModelID     int64
	Version     string
	DatasetID   int64
	RunID       int64
	RunTime     time.Time
	IsReference bool
}

// MetricValue is one (metric, value) pair from a scores file.
type MetricValue struct {
	Metric string
	Value  float64
}

type ResultRepo interface {
	// Exists reports whether any row of kind is recorded for the triple,
	// regardless of run id or reference flag.
	Exists(dbc dbctx.Context, kind types.ResultKind, modelID int64, version string, datasetID int64) (bool, error)
	NextRunID(dbc dbctx.Context, kind types.ResultKind) (int64, error)
	// InsertMetrics writes Score or Result rows.
	InsertMetrics(dbc dbctx.Context, kind types.ResultKind, key RunKey, values []MetricValue) error
	InsertPredictions(dbc dbctx.Context, key RunKey, records map[string]json.RawMessage) error
	ListMetrics(dbc dbctx.Context, kind types.ResultKind, modelID int64, version string) ([]MetricRow, error)
	CountPredictions(dbc dbctx.Context, modelID int64, version string, datasetID int64) (int64, error)
}

// MetricRow is a read view shared by the Score and Result tables.
type MetricRow struct {
	ModelID      int64     `gorm:"column:model_id"`
	ModelVersion string    `gorm:"column:model_version"`
	DatasetID    int64     `gorm:"column:dataset_id"`
	RunID        int64     `gorm:"column:run_id"`
	Metric       string    `gorm:"column:metric"`
	IsReference  bool      `gorm:"column:is_reference"`
	RunTime      time.Time `gorm:"column:run_time"`
	Value        float64   `gorm:"column:value"`
}

type resultRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResultRepo(db *gorm.DB, baseLog *logger.Logger) ResultRepo {
	return &resultRepo{db: db, log: baseLog.With("repo", "ResultRepo")}
}

func model(kind types.ResultKind) (any, error) {
	switch kind {
	case results.KindScore:
		return &types.Score{}, nil
	case results.KindPrediction:
		return &types.Prediction{}, nil
	case results.KindResult:
		return &types.Result{}, nil
	default:
		return nil, fmt.Errorf("%w: result kind %q", apperr.ErrInvalidArgument, kind)
	}
}

func (r *resultRepo) Exists(dbc dbctx.Context, kind types.ResultKind, modelID int64, version string, datasetID int64) (bool, error) {
	m, err := model(kind)
	if err != nil {
		return false, err
	}
	var n int64
	err = dbc.DB(r.db).Model(m).
		Where("model_id = ? AND model_version = ? AND dataset_id = ?", modelID, version, datasetID).
		Limit(1).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *resultRepo) NextRunID(dbc dbctx.Context, kind types.ResultKind) (int64, error) {
	m, err := model(kind)
	if err != nil {
		return 0, err
	}
	return db.NextID(dbc.DB(r.db), m, "run_id")
}

func (r *resultRepo) InsertMetrics(dbc dbctx.Context, kind types.ResultKind, key RunKey, values []MetricValue) error {
	if len(values) == 0 {
		return nil
	}
	transaction := dbc.DB(r.db)
	switch kind {
	case results.KindScore:
		rows := make([]*types.Score, 0, len(values))
		for _, v := range values {
			rows = append(rows, &types.Score{
				ModelID:      key.ModelID,
				ModelVersion: key.Version,
				DatasetID:    key.DatasetID,
				RunID:        key.RunID,
				Metric:       v.Metric,
				IsReference:  key.IsReference,
				RunTime:      key.RunTime,
				Value:        v.Value,
			})
		}
		return transaction.Create(&rows).Error
	case results.KindResult:
		rows := make([]*types.Result, 0, len(values))
		for _, v := range values {
			rows = append(rows, &types.Result{
				ModelID:      key.ModelID,
				ModelVersion: key.Version,
				DatasetID:    key.DatasetID,
				RunID:        key.RunID,
				Metric:       v.Metric,
				IsReference:  key.IsReference,
				RunTime:      key.RunTime,
				Value:        v.Value,
			})
		}
		return transaction.Create(&rows).Error
	default:
		return fmt.Errorf("%w: %q does not hold metric values", apperr.ErrInvalidArgument, kind)
	}
}

func (r *resultRepo) InsertPredictions(dbc dbctx.Context, key RunKey, records map[string]json.RawMessage) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]*types.Prediction, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, &types.Prediction{
			ModelID:      key.ModelID,
			ModelVersion: key.Version,
			DatasetID:    key.DatasetID,
			RunID:        key.RunID,
			RecordID:     id,
			IsReference:  key.IsReference,
			RunTime:      key.RunTime,
			Values:       datatypes.JSON(records[id]),
		})
	}
	return dbc.DB(r.db).CreateInBatches(&rows, 500).Error
}

func (r *resultRepo) ListMetrics(dbc dbctx.Context, kind types.ResultKind, modelID int64, version string) ([]MetricRow, error) {
	if kind != results.KindScore && kind != results.KindResult {
		return nil, fmt.Errorf("%w: %q does not hold metric values", apperr.ErrInvalidArgument, kind)
	}
	var out []MetricRow
	err := dbc.DB(r.db).Table(kind.Table()).
		Where("model_id = ? AND model_version = ?", modelID, version).
		Order("run_id ASC").Order("metric ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resultRepo) CountPredictions(dbc dbctx.Context, modelID int64, version string, datasetID int64) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Prediction{}).
		Where("model_id = ? AND model_version = ? AND dataset_id = ?", modelID, version, datasetID).
		Count(&n).Error
	return n, err
}
