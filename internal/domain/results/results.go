package results

import (
	"fmt"
	"time"

	"github.com/yungbote/modmon/internal/domain/catalog"
	"gorm.io/datatypes"
)

// ResultKind selects the table a run's output is recorded in.
type ResultKind string

const (
	KindScore      ResultKind = "score"
	KindPrediction ResultKind = "prediction"
	KindResult     ResultKind = "result"
)

// ForCommand maps a command to the table its output lands in. Retrain
// output is the score of the retrained model, kept apart from ordinary
// scores so that it can gate repeated retraining.
func ForCommand(kind catalog.CommandKind) (ResultKind, error) {
	switch kind {
	case catalog.CommandScore:
		return KindScore, nil
	case catalog.CommandPredict:
		return KindPrediction, nil
	case catalog.CommandRetrain:
		return KindResult, nil
	default:
		return "", fmt.Errorf("no result kind for command %q", kind)
	}
}

func (k ResultKind) Table() string {
	switch k {
	case KindScore:
		return Score{}.TableName()
	case KindPrediction:
		return Prediction{}.TableName()
	case KindResult:
		return Result{}.TableName()
	default:
		return ""
	}
}

func (k ResultKind) String() string { return string(k) }

// Score is one metric value from one run of a version on a dataset.
type Score struct {
	ModelID      int64     `gorm:"column:model_id;primaryKey;autoIncrement:false" json:"model_id"`
	ModelVersion string    `gorm:"column:model_version;primaryKey;size:20" json:"model_version"`
	DatasetID    int64     `gorm:"column:dataset_id;primaryKey;autoIncrement:false" json:"dataset_id"`
	RunID        int64     `gorm:"column:run_id;primaryKey;autoIncrement:false" json:"run_id"`
	Metric       string    `gorm:"column:metric;primaryKey;size:50" json:"metric"`
	IsReference  bool      `gorm:"column:is_reference;not null" json:"is_reference"`
	RunTime      time.Time `gorm:"column:run_time;not null" json:"run_time"`
	Value        float64   `gorm:"column:value;not null" json:"value"`
}

func (Score) TableName() string { return "score" }

// Result is a metric value of a retrained model, recorded against the
// version it was retrained from and the dataset it was retrained on.
type Result struct {
	ModelID      int64     `gorm:"column:model_id;primaryKey;autoIncrement:false" json:"model_id"`
	ModelVersion string    `gorm:"column:model_version;primaryKey;size:20" json:"model_version"`
	DatasetID    int64     `gorm:"column:dataset_id;primaryKey;autoIncrement:false" json:"dataset_id"`
	RunID        int64     `gorm:"column:run_id;primaryKey;autoIncrement:false" json:"run_id"`
	Metric       string    `gorm:"column:metric;primaryKey;size:50" json:"metric"`
	IsReference  bool      `gorm:"column:is_reference;not null" json:"is_reference"`
	RunTime      time.Time `gorm:"column:run_time;not null" json:"run_time"`
	Value        float64   `gorm:"column:value;not null" json:"value"`
}

func (Result) TableName() string { return "result" }

// Prediction holds the output values for one record of one run.
type Prediction struct {
	ModelID      int64          `gorm:"column:model_id;primaryKey;autoIncrement:false" json:"model_id"`
	ModelVersion string         `gorm:"column:model_version;primaryKey;size:20" json:"model_version"`
	DatasetID    int64          `gorm:"column:dataset_id;primaryKey;autoIncrement:false" json:"dataset_id"`
	RunID        int64          `gorm:"column:run_id;primaryKey;autoIncrement:false" json:"run_id"`
	RecordID     string         `gorm:"column:record_id;primaryKey;size:100" json:"record_id"`
	IsReference  bool           `gorm:"column:is_reference;not null" json:"is_reference"`
	RunTime      time.Time      `gorm:"column:run_time;not null" json:"run_time"`
	Values       datatypes.JSON `gorm:"column:record_values;not null" json:"values"`
}

func (Prediction) TableName() string { return "prediction" }
