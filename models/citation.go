package models

// Citation models a directed edge: the citing article cites the cited article (A cites B).
// The ordered pair is the primary key, so an edge exists at most once per store.
// No foreign keys: bulk loads may commit an edge before the batch holding its target.
type Citation struct {
	CitingArticleID uint `json:"citing_article_id" gorm:"primaryKey;autoIncrement:false"`
	CitedArticleID  uint `json:"cited_article_id" gorm:"primaryKey;autoIncrement:false;index"`
}

func (Citation) TableName() string { return "citations" }
