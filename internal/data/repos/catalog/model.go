package catalog

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/db"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

type ModelRepo interface {
	GetByID(dbc dbctx.Context, id int64) (*types.Model, error)
	GetByName(dbc dbctx.Context, name string) (*types.Model, error)
	// FindOrCreate matches on model name. A new model gets the next free id.
	FindOrCreate(dbc dbctx.Context, model *types.Model) (*types.Model, bool, error)
}

type modelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModelRepo(db *gorm.DB, baseLog *logger.Logger) ModelRepo {
	return &modelRepo{db: db, log: baseLog.With("repo", "ModelRepo")}
}

func (r *modelRepo) GetByID(dbc dbctx.Context, id int64) (*types.Model, error) {
	return r.take(dbc.DB(r.db).Where("model_id = ?", id))
}

func (r *modelRepo) GetByName(dbc dbctx.Context, name string) (*types.Model, error) {
	return r.take(dbc.DB(r.db).Where("name = ?", name).Order("model_id ASC"))
}

func (r *modelRepo) take(q *gorm.DB) (*types.Model, error) {
	var m types.Model
	err := q.Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *modelRepo) FindOrCreate(dbc dbctx.Context, model *types.Model) (*types.Model, bool, error) {
	if model == nil || strings.TrimSpace(model.Name) == "" {
		return nil, false, fmt.Errorf("%w: model name is required", apperr.ErrInvalidArgument)
	}
	existing, err := r.GetByName(dbc, model.Name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	transaction := dbc.DB(r.db)
	id, err := db.NextID(transaction, &types.Model{}, "model_id")
	if err != nil {
		return nil, false, err
	}
	model.ID = id
	if err := transaction.Create(model).Error; err != nil {
		return nil, false, err
	}
	r.log.Debug("model created", "model_id", model.ID, "name", model.Name)
	return model, true, nil
}
