package models

import (
	"gorm.io/datatypes"
)

// Article is one bibliographic record in the citation graph.
type Article struct {
	ID uint `json:"id" gorm:"primaryKey"`

	// Canonical identifier, unique across the whole store
	ArticleIdentifier string `json:"article_id" gorm:"column:article_identifier;uniqueIndex;not null"`

	// Optional namespaced identifiers as delivered
	PMCID *string `json:"pmcid,omitempty" gorm:"column:pmcid"`
	PMID  *string `json:"pmid,omitempty" gorm:"column:pmid"`
	DOI   *string `json:"doi,omitempty" gorm:"column:doi"`
	PII   *string `json:"pii,omitempty" gorm:"column:pii"`

	JournalID uint     `json:"journal_id" gorm:"index;not null"`
	Journal   *Journal `json:"journal,omitempty" gorm:"foreignKey:JournalID"`

	PubDate     *datatypes.Date `json:"pub_date,omitempty" gorm:"index"`
	PublisherID *string         `json:"publisher_id,omitempty"`
}

func (Article) TableName() string { return "articles" }
