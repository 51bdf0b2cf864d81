package catalog

import (
	"fmt"
	"time"
)

// Model groups the versions a team has submitted for one research question.
type Model struct {
	ID          int64  `gorm:"column:model_id;primaryKey;autoIncrement:false" json:"model_id"`
	TeamName    string `gorm:"column:team_name;not null;index" json:"team_name"`
	QuestionID  int64  `gorm:"column:question_id;not null;index" json:"question_id"`
	Name        string `gorm:"column:name;not null;size:50;index" json:"name"`
	Description string `gorm:"column:description;size:500" json:"description,omitempty"`
}

func (Model) TableName() string { return "model" }

// ModelVersion is one registered, runnable revision of a model. Location is
// the content-addressed storage directory holding its files.
type ModelVersion struct {
	ModelID           int64      `gorm:"column:model_id;primaryKey;autoIncrement:false" json:"model_id"`
	Version           string     `gorm:"column:model_version;primaryKey;size:20" json:"model_version"`
	TrainingDatasetID int64      `gorm:"column:training_dataset_id;not null;index" json:"training_dataset_id"`
	TestDatasetID     int64      `gorm:"column:test_dataset_id;not null;index" json:"test_dataset_id"`
	Location          string     `gorm:"column:location;size:500" json:"location"`
	ScoreCommand      string     `gorm:"column:score_command;size:500" json:"score_command"`
	PredictCommand    string     `gorm:"column:predict_command;size:500" json:"predict_command"`
	RetrainCommand    string     `gorm:"column:retrain_command;size:500" json:"retrain_command"`
	ModelTrainTime    *time.Time `gorm:"column:model_train_time" json:"model_train_time,omitempty"`
	Active            bool       `gorm:"column:active;not null;index" json:"active"`
	ContentDigest     string     `gorm:"column:content_digest;size:64" json:"content_digest,omitempty"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null" json:"created_at"`
}

func (ModelVersion) TableName() string { return "model_version" }

// Command returns the stored template for kind.
func (mv *ModelVersion) Command(kind CommandKind) string {
	switch kind {
	case CommandScore:
		return mv.ScoreCommand
	case CommandPredict:
		return mv.PredictCommand
	case CommandRetrain:
		return mv.RetrainCommand
	default:
		return ""
	}
}

// IdentifierPrefix starts every name modmon derives from a model version.
const IdentifierPrefix = "ModMon-model-"

// Identifier names the storage directory and environment of a version.
func Identifier(modelID int64, version string) string {
	return fmt.Sprintf("%s%d-version-%s", IdentifierPrefix, modelID, version)
}

func (mv *ModelVersion) Identifier() string { return Identifier(mv.ModelID, mv.Version) }
