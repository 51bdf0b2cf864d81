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

type ResearchQuestionRepo interface {
	// Find returns nil, nil when no question has this description.
	Find(dbc dbctx.Context, description string) (*types.ResearchQuestion, error)
	// FindOrCreate matches on the exact description text.
	FindOrCreate(dbc dbctx.Context, description string) (*types.ResearchQuestion, bool, error)
}

type researchQuestionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResearchQuestionRepo(db *gorm.DB, baseLog *logger.Logger) ResearchQuestionRepo {
	return &researchQuestionRepo{db: db, log: baseLog.With("repo", "ResearchQuestionRepo")}
}

func (r *researchQuestionRepo) Find(dbc dbctx.Context, description string) (*types.ResearchQuestion, error) {
	var q types.ResearchQuestion
	err := dbc.DB(r.db).Where("description = ?", description).Order("question_id ASC").Take(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *researchQuestionRepo) FindOrCreate(dbc dbctx.Context, description string) (*types.ResearchQuestion, bool, error) {
	if strings.TrimSpace(description) == "" {
		return nil, false, fmt.Errorf("%w: research question is required", apperr.ErrInvalidArgument)
	}
	existing, err := r.Find(dbc, description)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	transaction := dbc.DB(r.db)
	id, err := db.NextID(transaction, &types.ResearchQuestion{}, "question_id")
	if err != nil {
		return nil, false, err
	}
	q := types.ResearchQuestion{ID: id, Description: description}
	if err := transaction.Create(&q).Error; err != nil {
		return nil, false, err
	}
	return &q, true, nil
}
