package catalog

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/db"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

// ErrNoIdentifyingFields is returned when a dataset lookup has no source
// name, start date or end date to match on.
var ErrNoIdentifyingFields = fmt.Errorf("%w: dataset needs at least one of database, start date, end date", apperr.ErrInvalidArgument)

// DatasetKey identifies a dataset. Nil fields are not filtered on.
type DatasetKey struct {
	Database *string
	Start    *time.Time
	End      *time.Time
}

func (k DatasetKey) empty() bool {
	return k.Database == nil && k.Start == nil && k.End == nil
}

type DatasetRepo interface {
	GetByID(dbc dbctx.Context, id int64) (*types.Dataset, error)
	Find(dbc dbctx.Context, key DatasetKey) (*types.Dataset, error)
	// ResolveOrCreate returns the id of the lowest-id dataset matching key,
	// creating one with an automatic description when none does.
	ResolveOrCreate(dbc dbctx.Context, key DatasetKey) (int64, error)
	// ResolveOrCreateWithDescription is ResolveOrCreate with a caller
	// supplied description for the created row.
	ResolveOrCreateWithDescription(dbc dbctx.Context, key DatasetKey, description string) (int64, bool, error)
}

type datasetRepo struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewDatasetRepo(db *gorm.DB, baseLog *logger.Logger) DatasetRepo {
	return &datasetRepo{
		db:  db,
		log: baseLog.With("repo", "DatasetRepo"),
		now: time.Now,
	}
}

// Day returns midnight of t's calendar date in UTC. Dataset dates are
// stored and compared in this form, so one instant always maps to one day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r *datasetRepo) GetByID(dbc dbctx.Context, id int64) (*types.Dataset, error) {
	var ds types.Dataset
	err := dbc.DB(r.db).Where("dataset_id = ?", id).Take(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func (r *datasetRepo) Find(dbc dbctx.Context, key DatasetKey) (*types.Dataset, error) {
	if key.empty() {
		return nil, ErrNoIdentifyingFields
	}
	q := dbc.DB(r.db).Model(&types.Dataset{})
	if key.Database != nil {
		q = q.Where("database_name = ?", *key.Database)
	}
	if key.Start != nil {
		day := Day(*key.Start)
		q = q.Where("start_date >= ? AND start_date < ?", day, day.AddDate(0, 0, 1))
	}
	if key.End != nil {
		day := Day(*key.End)
		q = q.Where("end_date >= ? AND end_date < ?", day, day.AddDate(0, 0, 1))
	}
	var ds types.Dataset
	err := q.Order("dataset_id ASC").Take(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func (r *datasetRepo) ResolveOrCreate(dbc dbctx.Context, key DatasetKey) (int64, error) {
	id, _, err := r.ResolveOrCreateWithDescription(dbc, key, "")
	return id, err
}

func (r *datasetRepo) ResolveOrCreateWithDescription(dbc dbctx.Context, key DatasetKey, description string) (int64, bool, error) {
	existing, err := r.Find(dbc, key)
	if err != nil {
		return 0, false, err
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	transaction := dbc.DB(r.db)
	id, err := db.NextID(transaction, &types.Dataset{}, "dataset_id")
	if err != nil {
		return 0, false, err
	}
	if description == "" {
		description = "Automatically created by modmon " + r.now().UTC().Format(time.RFC3339)
	}
	ds := &types.Dataset{
		ID:           id,
		DatabaseName: key.Database,
		Description:  description,
	}
	if key.Start != nil {
		d := Day(*key.Start)
		ds.StartDate = &d
	}
	if key.End != nil {
		d := Day(*key.End)
		ds.EndDate = &d
	}
	if err := transaction.Create(ds).Error; err != nil {
		return 0, false, err
	}
	r.log.Info("dataset created", "dataset_id", id)
	return id, true, nil
}
