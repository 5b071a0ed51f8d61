package models

// Identifier maps one namespaced identifier (e.g. pmid 12345) to the canonical
// identifier of the article carrying it. Used to resolve reference lists.
type Identifier struct {
	ID                uint   `json:"id" gorm:"primaryKey"`
	Namespace         string `json:"namespace" gorm:"index:ix_identifier_namespace_value;size:32;not null"`
	Value             string `json:"value" gorm:"index:ix_identifier_namespace_value;not null"`
	ArticleIdentifier string `json:"article_id" gorm:"column:article_identifier;not null"`
}

func (Identifier) TableName() string { return "identifiers" }
