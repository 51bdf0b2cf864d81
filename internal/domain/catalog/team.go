package catalog

// Team owns one or more models. Contact details come from the submitted
// metadata descriptor.
type Team struct {
	Name         string `gorm:"column:team_name;primaryKey;size:50" json:"team_name"`
	ContactName  string `gorm:"column:contact_name;not null;size:100" json:"contact_name"`
	ContactEmail string `gorm:"column:contact_email;not null;size:100" json:"contact_email"`
	Description  string `gorm:"column:description;size:500" json:"description,omitempty"`
}

func (Team) TableName() string { return "team" }

type ResearchQuestion struct {
	ID          int64  `gorm:"column:question_id;primaryKey;autoIncrement:false" json:"question_id"`
	Description string `gorm:"column:description;not null;size:500;index" json:"description"`
}

func (ResearchQuestion) TableName() string { return "research_question" }
