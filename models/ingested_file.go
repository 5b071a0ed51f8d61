package models

import "time"

// IngestedFile records a record source that was fully committed by an incremental run.
type IngestedFile struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Name    string `json:"name" gorm:"uniqueIndex;not null"`
	Records int    `json:"records"`
}

func (IngestedFile) TableName() string { return "ingested_files" }

// All lists every model of the store schema. Dependents come after their dependencies.
func All() []any {
	return []any{&Journal{}, &Article{}, &Identifier{}, &Citation{}, &IngestedFile{}}
}
