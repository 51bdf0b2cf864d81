package catalog

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	"github.com/yungbote/modmon/internal/platform/logger"
)

type MetricRepo interface {
	// Ensure inserts any of names not yet in the catalog and returns how
	// many were added.
	Ensure(dbc dbctx.Context, names []string) (int, error)
	List(dbc dbctx.Context) ([]*types.Metric, error)
}

type metricRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMetricRepo(db *gorm.DB, baseLog *logger.Logger) MetricRepo {
	return &metricRepo{db: db, log: baseLog.With("repo", "MetricRepo")}
}

func (r *metricRepo) Ensure(dbc dbctx.Context, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	transaction := dbc.DB(r.db)
	var known []string
	if err := transaction.Model(&types.Metric{}).Where("metric IN ?", names).Pluck("metric", &known).Error; err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(known))
	for _, k := range known {
		seen[k] = true
	}
	var missing []*types.Metric
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		missing = append(missing, &types.Metric{Name: n})
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&missing).Error; err != nil {
		return 0, err
	}
	r.log.Debug("metrics added", "count", len(missing))
	return len(missing), nil
}

func (r *metricRepo) List(dbc dbctx.Context) ([]*types.Metric, error) {
	var out []*types.Metric
	if err := dbc.DB(r.db).Order("metric ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
