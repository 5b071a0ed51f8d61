package models

// Journal groups articles by ISSN, or by name when the ISSN is unknown.
type Journal struct {
	ID uint `json:"id" gorm:"primaryKey"`

	// Grouping key: the ISSN if present, else the name
	Key  string  `json:"key" gorm:"column:journal_key;uniqueIndex;not null"`
	Name string  `json:"name" gorm:"index;not null"`
	ISSN *string `json:"issn,omitempty" gorm:"column:issn;index"`
}

func (Journal) TableName() string { return "journals" }
