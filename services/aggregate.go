package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// CitationCount is the number of incoming citations of one article.
type CitationCount struct {
	ArticleIdentifier string `json:"article_id" gorm:"column:article_identifier"`
	Count             int64  `json:"count" gorm:"column:citation_count"`
}

// CitationCounts counts incoming citations per cited article, most cited first.
// Articles nobody cites are not listed. A non-empty ids restricts the result to
// those canonical identifiers; nil and empty ids both mean no filter, so an
// absent query parameter and an empty list behave alike. limit <= 0 means no limit.
func CitationCounts(ctx context.Context, db *gorm.DB, ids []string, limit int) ([]CitationCount, error) {
	q := db.WithContext(ctx).
		Table("citations").
		Select("articles.article_identifier AS article_identifier, COUNT(*) AS citation_count").
		Joins("JOIN articles ON articles.id = citations.cited_article_id")
	if len(ids) > 0 {
		q = q.Where("articles.article_identifier IN ?", ids)
	}
	q = q.Group("articles.article_identifier").
		Order("citation_count DESC").
		Order("articles.article_identifier")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []CitationCount
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("aggregate citation counts: %w", err)
	}
	return out, nil
}
