package domain

import (
	"github.com/yungbote/modmon/internal/domain/catalog"
	"github.com/yungbote/modmon/internal/domain/results"
)

type (
	Team             = catalog.Team
	ResearchQuestion = catalog.ResearchQuestion
	Model            = catalog.Model
	ModelVersion     = catalog.ModelVersion
	Dataset          = catalog.Dataset
	Metric           = catalog.Metric
	CommandKind      = catalog.CommandKind

	Score      = results.Score
	Prediction = results.Prediction
	Result     = results.Result
	ResultKind = results.ResultKind
)

const (
	CommandScore   = catalog.CommandScore
	CommandPredict = catalog.CommandPredict
	CommandRetrain = catalog.CommandRetrain

	ResultScore      = results.KindScore
	ResultPrediction = results.KindPrediction
	ResultResult     = results.KindResult
)

// Entities lists every persisted type in dependency order.
func Entities() []any {
	return []any{
		&Team{},
		&ResearchQuestion{},
		&Model{},
		&Dataset{},
		&ModelVersion{},
		&Metric{},
		&Score{},
		&Prediction{},
		&Result{},
	}
}
