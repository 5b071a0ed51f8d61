package services

import (
	"context"
	"errors"
	"fmt"

	"citenet/models"
	"citenet/records"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconciler appends a record source to an already populated store in a single pass.
// The whole source is committed as one transaction.
type Reconciler struct {
	DB              *gorm.DB
	Logger          *zap.Logger
	Metrics         *Metrics
	InsertChunkSize int
}

func NewReconciler(db *gorm.DB, logger *zap.Logger, metrics *Metrics, insertChunk int) *Reconciler {
	if insertChunk <= 0 {
		insertChunk = 500
	}
	return &Reconciler{DB: db, Logger: logger, Metrics: metrics, InsertChunkSize: insertChunk}
}

// stagedArticle is an article waiting for commit. It points at its journal
// handle rather than an id, since a journal staged in this transaction gets its
// id only when written.
type stagedArticle struct {
	article models.Article
	journal *models.Journal
	cites   []uint
}

// writeBuffer holds everything staged by one Add call. Reads consult it before
// the store; nothing in it reaches the store before the final commit.
type writeBuffer struct {
	journals    *JournalDeduplicator
	articles    []*stagedArticle
	identifiers []models.Identifier
}

// Add ingests src. References are resolved against identifiers already persisted
// in the store; targets that are not found are dropped. Any store error, including
// a duplicate canonical article identifier, rolls back the whole source.
func (r *Reconciler) Add(ctx context.Context, src records.Source) (*Stats, error) {
	log := r.Logger.With(zap.String("source", src.Name()), zap.String("mode", "incremental"))
	stats := &Stats{}

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		buf := &writeBuffer{journals: NewJournalDeduplicator(StoreJournalLookup(tx))}

		n, err := records.Scan(ctx, src, func(ix int, rec *records.Record) error {
			return r.stage(tx, buf, rec, stats, log)
		})
		if err != nil {
			return err
		}
		stats.Records = n

		if err := r.commit(tx, buf, stats); err != nil {
			return err
		}
		return tx.Create(&models.IngestedFile{Name: src.Name(), Records: n}).Error
	})
	if err != nil {
		log.Error("Incremental ingestion rolled back", zap.Error(err))
		return &Stats{Records: stats.Records, DanglingReferences: stats.DanglingReferences}, err
	}

	r.Metrics.observe("incremental", stats)
	log.Info("Incremental ingestion committed",
		zap.Int("records", stats.Records),
		zap.Int("journals", stats.Journals),
		zap.Int("articles", stats.Articles),
		zap.Int("citations", stats.Citations),
		zap.Int("dangling_references", stats.DanglingReferences))
	return stats, nil
}

func (r *Reconciler) stage(tx *gorm.DB, buf *writeBuffer, rec *records.Record, stats *Stats, log *zap.Logger) error {
	res := Resolve(rec)

	j, _, err := buf.journals.Register(res.JournalKey, res.JournalName, res.ISSN)
	if err != nil {
		return err
	}

	sa := &stagedArticle{article: newArticle(rec, res, 0), journal: j}
	for _, k := range res.keys() {
		buf.identifiers = append(buf.identifiers, newIdentifier(k, res.CanonicalID))
	}

	seen := make(map[uint]struct{})
	for _, ref := range rec.References {
		target, err := resolveReference(tx, ref)
		if err != nil {
			return err
		}
		if target == nil {
			stats.DanglingReferences++
			log.Debug("Dropping unresolved reference",
				zap.String("article", res.CanonicalID),
				zap.String("id_type", string(ref.Namespace)),
				zap.String("id", ref.ID))
			continue
		}
		if _, dup := seen[target.ID]; dup {
			stats.DuplicateCitations++
			continue
		}
		seen[target.ID] = struct{}{}
		sa.cites = append(sa.cites, target.ID)
	}

	buf.articles = append(buf.articles, sa)
	return nil
}

// resolveReference finds the article a reference points to through the persisted
// identifier table. It returns nil when the identifier or its article is unknown.
func resolveReference(tx *gorm.DB, ref records.Reference) (*models.Article, error) {
	k, ok := referenceKey(ref)
	if !ok {
		return nil, nil
	}

	var ident models.Identifier
	err := tx.Where("namespace = ? AND value = ?", string(k.ns), k.value).Order("id").First(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup identifier %s:%s: %w", k.ns, k.value, err)
	}

	var target models.Article
	err = tx.Where("article_identifier = ?", ident.ArticleIdentifier).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup article %s: %w", ident.ArticleIdentifier, err)
	}
	return &target, nil
}

// commit writes the buffer: journals first so their handles receive ids, then
// articles, identifiers and citations.
func (r *Reconciler) commit(tx *gorm.DB, buf *writeBuffer, stats *Stats) error {
	if staged := buf.journals.Staged(); len(staged) > 0 {
		if err := tx.CreateInBatches(staged, r.InsertChunkSize).Error; err != nil {
			return fmt.Errorf("insert journals: %w", err)
		}
		stats.Journals = len(staged)
	}

	if len(buf.articles) == 0 {
		return nil
	}
	articles := make([]models.Article, len(buf.articles))
	for i, sa := range buf.articles {
		sa.article.JournalID = sa.journal.ID
		articles[i] = sa.article
	}
	if err := tx.Omit("Journal").CreateInBatches(articles, r.InsertChunkSize).Error; err != nil {
		return fmt.Errorf("insert articles: %w", err)
	}
	stats.Articles = len(articles)

	if len(buf.identifiers) > 0 {
		if err := tx.CreateInBatches(buf.identifiers, r.InsertChunkSize).Error; err != nil {
			return fmt.Errorf("insert identifiers: %w", err)
		}
		stats.Identifiers = len(buf.identifiers)
	}

	var citations []models.Citation
	for i, sa := range buf.articles {
		for _, cited := range sa.cites {
			citations = append(citations, models.Citation{CitingArticleID: articles[i].ID, CitedArticleID: cited})
		}
	}
	if len(citations) > 0 {
		if err := tx.CreateInBatches(citations, r.InsertChunkSize).Error; err != nil {
			return fmt.Errorf("insert citations: %w", err)
		}
		stats.Citations = len(citations)
	}
	return nil
}
