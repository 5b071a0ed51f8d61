package services

import (
	"context"
	"fmt"

	"citenet/models"

	"gorm.io/gorm"
)

// DefaultBatchSize is the number of records between two bulk commits.
const DefaultBatchSize = 500_000

// BatchPolicy decides when staged entities are flushed to the store.
type BatchPolicy struct {
	Size int
}

// ShouldFlush reports whether the record at 0-based position ix closes a batch.
func (p BatchPolicy) ShouldFlush(ix int) bool {
	return p.Size > 0 && (ix+1)%p.Size == 0
}

// batch buffers entities staged since the last flush. Pass 1 fills journals and
// identifiers, pass 2 articles and citations.
type batch struct {
	journals    []*models.Journal
	identifiers []models.Identifier
	articles    []models.Article
	citations   []models.Citation
}

func (b *batch) empty() bool {
	return len(b.journals) == 0 && len(b.identifiers) == 0 && len(b.articles) == 0 && len(b.citations) == 0
}

func (b *batch) reset() {
	b.journals = b.journals[:0]
	b.identifiers = b.identifiers[:0]
	b.articles = b.articles[:0]
	b.citations = b.citations[:0]
}

// flush writes the batch in one transaction and clears it. Journals are written
// before articles, articles before citations.
func (b *batch) flush(ctx context.Context, db *gorm.DB, chunk int) error {
	if b.empty() {
		return nil
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(b.journals) > 0 {
			if err := tx.CreateInBatches(b.journals, chunk).Error; err != nil {
				return fmt.Errorf("insert journals: %w", err)
			}
		}
		if len(b.identifiers) > 0 {
			if err := tx.CreateInBatches(b.identifiers, chunk).Error; err != nil {
				return fmt.Errorf("insert identifiers: %w", err)
			}
		}
		if len(b.articles) > 0 {
			if err := tx.Omit("Journal").CreateInBatches(b.articles, chunk).Error; err != nil {
				return fmt.Errorf("insert articles: %w", err)
			}
		}
		if len(b.citations) > 0 {
			if err := tx.CreateInBatches(b.citations, chunk).Error; err != nil {
				return fmt.Errorf("insert citations: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.reset()
	return nil
}
