package catalog

import "time"

// Dataset is identified by (database name, start date, end date) at day
// granularity. Any of the three may be absent.
type Dataset struct {
	ID           int64      `gorm:"column:dataset_id;primaryKey;autoIncrement:false" json:"dataset_id"`
	DatabaseName *string    `gorm:"column:database_name;size:50;index" json:"database_name,omitempty"`
	Description  string     `gorm:"column:description;size:500" json:"description,omitempty"`
	StartDate    *time.Time `gorm:"column:start_date;index" json:"start_date,omitempty"`
	EndDate      *time.Time `gorm:"column:end_date;index" json:"end_date,omitempty"`
}

func (Dataset) TableName() string { return "dataset" }

// Metric is a catalog entry for a metric name seen in model output.
type Metric struct {
	Name        string `gorm:"column:metric;primaryKey;size:50" json:"metric"`
	Description string `gorm:"column:description;size:500" json:"description,omitempty"`
}

func (Metric) TableName() string { return "metric" }
