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

type ModelVersionRepo interface {
	Get(dbc dbctx.Context, modelID int64, version string) (*types.ModelVersion, error)
	// Create inserts mv and fails with apperr.ErrAlreadyExists if the
	// (model id, version) pair is taken.
	Create(dbc dbctx.Context, mv *types.ModelVersion) error
	// DeactivateOthers clears the active flag on every version of modelID
	// except keep. It returns the number of versions changed.
	DeactivateOthers(dbc dbctx.Context, modelID int64, keep string) (int64, error)
	// List returns versions ordered by model id then creation. With
	// activeOnly only active versions are returned.
	List(dbc dbctx.Context, activeOnly bool) ([]*types.ModelVersion, error)
	ListByModel(dbc dbctx.Context, modelID int64) ([]*types.ModelVersion, error)
	UpdateLocation(dbc dbctx.Context, modelID int64, version, location, digest string) error
}

type modelVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModelVersionRepo(db *gorm.DB, baseLog *logger.Logger) ModelVersionRepo {
	return &modelVersionRepo{db: db, log: baseLog.With("repo", "ModelVersionRepo")}
}

func (r *modelVersionRepo) Get(dbc dbctx.Context, modelID int64, version string) (*types.ModelVersion, error) {
	var mv types.ModelVersion
	err := dbc.DB(r.db).
		Where("model_id = ? AND model_version = ?", modelID, version).
		Take(&mv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

func (r *modelVersionRepo) Create(dbc dbctx.Context, mv *types.ModelVersion) error {
	if mv == nil {
		return fmt.Errorf("%w: nil model version", apperr.ErrInvalidArgument)
	}
	existing, err := r.Get(dbc, mv.ModelID, mv.Version)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("model %d version %s: %w", mv.ModelID, mv.Version, apperr.ErrAlreadyExists)
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	if err := dbc.DB(r.db).Create(mv).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return fmt.Errorf("model %d version %s: %w", mv.ModelID, mv.Version, apperr.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (r *modelVersionRepo) DeactivateOthers(dbc dbctx.Context, modelID int64, keep string) (int64, error) {
	res := dbc.DB(r.db).
		Model(&types.ModelVersion{}).
		Where("model_id = ? AND model_version <> ? AND active = ?", modelID, keep, true).
		Update("active", false)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("deactivated older versions", "model_id", modelID, "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func (r *modelVersionRepo) List(dbc dbctx.Context, activeOnly bool) ([]*types.ModelVersion, error) {
	q := dbc.DB(r.db).Order("model_id ASC").Order("created_at ASC").Order("model_version ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []*types.ModelVersion
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *modelVersionRepo) ListByModel(dbc dbctx.Context, modelID int64) ([]*types.ModelVersion, error) {
	var out []*types.ModelVersion
	err := dbc.DB(r.db).
		Where("model_id = ?", modelID).
		Order("created_at ASC").Order("model_version ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *modelVersionRepo) UpdateLocation(dbc dbctx.Context, modelID int64, version, location, digest string) error {
	return dbc.DB(r.db).
		Model(&types.ModelVersion{}).
		Where("model_id = ? AND model_version = ?", modelID, version).
		Updates(map[string]interface{}{"location": location, "content_digest": digest}).Error
}
