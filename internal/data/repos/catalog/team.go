package catalog

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

type TeamRepo interface {
	Get(dbc dbctx.Context, name string) (*types.Team, error)
	// FindOrCreate returns the existing team of that name untouched, or
	// inserts team.
	FindOrCreate(dbc dbctx.Context, team *types.Team) (*types.Team, bool, error)
}

type teamRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTeamRepo(db *gorm.DB, baseLog *logger.Logger) TeamRepo {
	return &teamRepo{db: db, log: baseLog.With("repo", "TeamRepo")}
}

func (r *teamRepo) Get(dbc dbctx.Context, name string) (*types.Team, error) {
	var team types.Team
	err := dbc.DB(r.db).Where("team_name = ?", name).Take(&team).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &team, nil
}

func (r *teamRepo) FindOrCreate(dbc dbctx.Context, team *types.Team) (*types.Team, bool, error) {
	if team == nil || strings.TrimSpace(team.Name) == "" {
		return nil, false, fmt.Errorf("%w: team name is required", apperr.ErrInvalidArgument)
	}
	existing, err := r.Get(dbc, team.Name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	if err := dbc.DB(r.db).Create(team).Error; err != nil {
		return nil, false, err
	}
	r.log.Debug("team created", "team", team.Name)
	return team, true, nil
}
