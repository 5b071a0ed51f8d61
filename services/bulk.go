package services

import (
	"context"
	"errors"
	"fmt"

	"citenet/models"
	"citenet/records"
	"citenet/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrSourceChanged is returned when the second pass over a source does not see
// the records the first pass saw.
var ErrSourceChanged = errors.New("record source changed between passes")

// Stats summarizes one ingestion run. Entity counts only include rows committed to the store.
type Stats struct {
	Records            int `json:"records"`
	Journals           int `json:"journals"`
	Identifiers        int `json:"identifiers"`
	Articles           int `json:"articles"`
	Citations          int `json:"citations"`
	DuplicateCitations int `json:"duplicate_citations"`
	DanglingReferences int `json:"dangling_references"`
	Flushes            int `json:"flushes"`
}

// BulkAssembler rebuilds the whole citation graph from a record source in two passes.
// Pass 1 registers every journal and identifier, pass 2 writes articles and the
// citations between them, so references to records further down the stream resolve.
type BulkAssembler struct {
	DB              *gorm.DB
	Logger          *zap.Logger
	Metrics         *Metrics
	Policy          BatchPolicy
	InsertChunkSize int
}

// NewBulkAssembler creates a bulk assembler committing every batchSize records.
func NewBulkAssembler(db *gorm.DB, logger *zap.Logger, metrics *Metrics, batchSize, insertChunk int) *BulkAssembler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if insertChunk <= 0 {
		insertChunk = 500
	}
	return &BulkAssembler{
		DB:              db,
		Logger:          logger,
		Metrics:         metrics,
		Policy:          BatchPolicy{Size: batchSize},
		InsertChunkSize: insertChunk,
	}
}

// bulkRun is the state shared by both passes of one Populate call.
type bulkRun struct {
	journals *JournalDeduplicator
	// (namespace, value) -> article id, i.e. stream position + 1
	ids   map[idKey]uint
	stats *Stats
	log   *zap.Logger
}

// Populate loads src into an empty store. A store that already holds data is
// refused with storage.ErrDestinationNotEmpty unless overwrite is set. A record
// that fails to parse aborts the run; batches flushed before it stay committed.
func (b *BulkAssembler) Populate(ctx context.Context, src records.Source, overwrite bool) (_ *Stats, err error) {
	run := &bulkRun{
		journals: NewJournalDeduplicator(nil),
		ids:      make(map[idKey]uint),
		stats:    &Stats{},
		log:      b.Logger.With(zap.String("source", src.Name()), zap.String("mode", "bulk")),
	}
	defer b.Metrics.observe("bulk", run.stats)

	if err := storage.PrepareDestination(b.DB.WithContext(ctx), overwrite); err != nil {
		return run.stats, err
	}
	// batches committed before an abort still advance the explicit ids
	defer func() {
		if serr := storage.SyncSequences(b.DB.WithContext(ctx)); serr != nil && err == nil {
			err = serr
		}
	}()

	run.log.Info("Resolving journals and article identifiers", zap.Int("batch_size", b.Policy.Size))
	n, err := b.buildIDSpace(ctx, src, run)
	if err != nil {
		return run.stats, err
	}
	run.stats.Records = n
	run.log.Info("Identifier space complete",
		zap.Int("records", n),
		zap.Int("journals", run.stats.Journals),
		zap.Int("identifiers", run.stats.Identifiers))

	run.log.Info("Resolving articles and citations")
	n2, err := b.buildArticles(ctx, src, run)
	if err != nil {
		return run.stats, err
	}
	if n2 != n {
		return run.stats, fmt.Errorf("%w: pass 1 read %d records, pass 2 read %d", ErrSourceChanged, n, n2)
	}

	run.log.Info("Bulk load complete",
		zap.Int("articles", run.stats.Articles),
		zap.Int("citations", run.stats.Citations),
		zap.Int("dangling_references", run.stats.DanglingReferences))
	return run.stats, nil
}

// buildIDSpace is pass 1: journals and identifier mappings, no edges.
func (b *BulkAssembler) buildIDSpace(ctx context.Context, src records.Source, run *bulkRun) (int, error) {
	var bt batch
	n, err := records.Scan(ctx, src, func(ix int, rec *records.Record) error {
		res := Resolve(rec)
		articleID := uint(ix + 1)

		j, isNew, err := run.journals.Register(res.JournalKey, res.JournalName, res.ISSN)
		if err != nil {
			return err
		}
		if isNew {
			j.ID = articleID
			bt.journals = append(bt.journals, j)
		}

		for _, k := range res.keys() {
			bt.identifiers = append(bt.identifiers, newIdentifier(k, res.CanonicalID))
			if _, ok := run.ids[k]; !ok {
				run.ids[k] = articleID
			}
		}

		if b.Policy.ShouldFlush(ix) {
			return b.flush(ctx, &bt, run, ix+1)
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, b.flush(ctx, &bt, run, n)
}

// buildArticles is pass 2: articles and citations against the complete identifier space.
func (b *BulkAssembler) buildArticles(ctx context.Context, src records.Source, run *bulkRun) (int, error) {
	var bt batch
	seen := make(map[models.Citation]struct{})

	n, err := records.Scan(ctx, src, func(ix int, rec *records.Record) error {
		res := Resolve(rec)
		articleID := uint(ix + 1)

		j, ok := run.journals.Get(res.JournalKey)
		if !ok {
			return fmt.Errorf("%w: journal %q of article %s", ErrSourceChanged, res.JournalKey, res.CanonicalID)
		}
		a := newArticle(rec, res, j.ID)
		a.ID = articleID
		bt.articles = append(bt.articles, a)

		for _, ref := range rec.References {
			k, ok := referenceKey(ref)
			target, found := run.ids[k]
			if !ok || !found {
				run.stats.DanglingReferences++
				run.log.Debug("Dropping unresolved reference",
					zap.String("article", res.CanonicalID),
					zap.String("id_type", string(ref.Namespace)),
					zap.String("id", ref.ID))
				continue
			}
			edge := models.Citation{CitingArticleID: articleID, CitedArticleID: target}
			if _, dup := seen[edge]; dup {
				run.stats.DuplicateCitations++
				continue
			}
			seen[edge] = struct{}{}
			bt.citations = append(bt.citations, edge)
		}

		if b.Policy.ShouldFlush(ix) {
			return b.flush(ctx, &bt, run, ix+1)
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, b.flush(ctx, &bt, run, n)
}

func (b *BulkAssembler) flush(ctx context.Context, bt *batch, run *bulkRun, upTo int) error {
	if bt.empty() {
		return nil
	}
	j, i, a, c := len(bt.journals), len(bt.identifiers), len(bt.articles), len(bt.citations)
	if err := bt.flush(ctx, b.DB, b.InsertChunkSize); err != nil {
		return fmt.Errorf("commit batch ending at record %d: %w", upTo, err)
	}
	run.stats.Journals += j
	run.stats.Identifiers += i
	run.stats.Articles += a
	run.stats.Citations += c
	run.stats.Flushes++
	b.Metrics.flushed()
	run.log.Info("Batch committed",
		zap.Int("records", upTo),
		zap.Int("journals", j),
		zap.Int("identifiers", i),
		zap.Int("articles", a),
		zap.Int("citations", c))
	return nil
}
