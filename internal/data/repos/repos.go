package repos

import (
	"github.com/yungbote/modmon/internal/data/repos/catalog"
	"github.com/yungbote/modmon/internal/data/repos/results"
	"github.com/yungbote/modmon/internal/platform/logger"
	"gorm.io/gorm"
)

type TeamRepo = catalog.TeamRepo
type ResearchQuestionRepo = catalog.ResearchQuestionRepo
type ModelRepo = catalog.ModelRepo
type ModelVersionRepo = catalog.ModelVersionRepo
type DatasetRepo = catalog.DatasetRepo
type DatasetKey = catalog.DatasetKey
type MetricRepo = catalog.MetricRepo

type ResultRepo = results.ResultRepo
type RunKey = results.RunKey
type MetricValue = results.MetricValue
type MetricRow = results.MetricRow

var ErrNoIdentifyingFields = catalog.ErrNoIdentifyingFields

// Set bundles every repository over one database handle.
type Set struct {
	Team         TeamRepo
	Question     ResearchQuestionRepo
	Model        ModelRepo
	ModelVersion ModelVersionRepo
	Dataset      DatasetRepo
	Metric       MetricRepo
	Result       ResultRepo
}

func NewSet(db *gorm.DB, log *logger.Logger) *Set {
	return &Set{
		Team:         catalog.NewTeamRepo(db, log),
		Question:     catalog.NewResearchQuestionRepo(db, log),
		Model:        catalog.NewModelRepo(db, log),
		ModelVersion: catalog.NewModelVersionRepo(db, log),
		Dataset:      catalog.NewDatasetRepo(db, log),
		Metric:       catalog.NewMetricRepo(db, log),
		Result:       results.NewResultRepo(db, log),
	}
}
