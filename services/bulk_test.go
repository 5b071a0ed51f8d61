package services

import (
	"context"
	"testing"
	"time"

	"citenet/models"
	"citenet/records"
	"citenet/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestPopulateOneArticlePerRecordOneJournalPerKey(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "Nature", "0028-0836", nil),
		article("B", "Nature (London)", " 0028-0836 ", nil),
		article("C", "Local Journal", "", nil),
		article("D", "Local Journal", "   ", nil),
	)

	stats, err := newBulk(db, 100).Populate(context.Background(), src, false)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Records)
	assert.Equal(t, 4, stats.Articles)
	assert.Equal(t, 2, stats.Journals)
	assert.EqualValues(t, 4, count(t, db, &models.Article{}))
	assert.EqualValues(t, 2, count(t, db, &models.Journal{}))

	var journals []models.Journal
	require.NoError(t, db.Order("id").Find(&journals).Error)
	require.Len(t, journals, 2)
	assert.Equal(t, "0028-0836", journals[0].Key)
	assert.Equal(t, "Nature", journals[0].Name, "first registration wins")
	require.NotNil(t, journals[0].ISSN)
	assert.Equal(t, "Local Journal", journals[1].Key)
	assert.Nil(t, journals[1].ISSN)

	assert.Equal(t, findArticle(t, db, "A").JournalID, findArticle(t, db, "B").JournalID)
	assert.Equal(t, findArticle(t, db, "C").JournalID, findArticle(t, db, "D").JournalID)
	assert.NotEqual(t, findArticle(t, db, "A").JournalID, findArticle(t, db, "C").JournalID)
}

func TestPopulateResolvesForwardReferences(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "J", "", rec{"references": []any{ref("pmid", "222")}}),
		article("B", "J", "", rec{"article_pmid": "222"}),
	)

	_, err := newBulk(db, 100).Populate(context.Background(), src, false)
	require.NoError(t, err)
	assert.Equal(t, []edge{{Citing: "A", Cited: "B"}}, loadEdges(t, db))
}

func TestPopulateDropsDanglingReferences(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "J", "", rec{"article_pmid": "1", "references": []any{ref("pmid", "999"), ref("doi", "10.1/none"), ref("arxiv", "x")}}),
	)

	stats, err := newBulk(db, 100).Populate(context.Background(), src, false)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DanglingReferences)
	assert.Empty(t, loadEdges(t, db))
	assert.EqualValues(t, 1, count(t, db, &models.Article{}))
}

func TestPopulateMatchesPMIDsExactly(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "J", "", rec{"references": []any{ref("pmid", "PMC3"), ref("pmid", "1-2")}}),
		article("B", "J", "", rec{"article_pmid": "3"}),
		article("C", "J", "", rec{"article_pmid": "12"}),
	)

	stats, err := newBulk(db, 100).Populate(context.Background(), src, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DanglingReferences)
	assert.Zero(t, stats.Citations)
	assert.Empty(t, loadEdges(t, db))
}

func TestPopulateRejectsDuplicateArticleIDs(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "J", "", rec{"article_pmid": "1"}),
		article("A", "J", "", rec{"article_pmid": "2"}),
	)

	_, err := newBulk(db, 100).Populate(context.Background(), src, false)
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.EqualValues(t, 0, count(t, db, &models.Article{}))
}

func TestPopulateSuppressesDuplicateEdges(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "J", "", rec{"references": []any{
			ref("pmid", "22"),
			ref("doi", "https://doi.org/10.1/B"),
			ref("PMID", " 22 "),
		}}),
		article("B", "J", "", rec{"article_pmid": "22", "article_doi": "10.1/b"}),
	)

	stats, err := newBulk(db, 100).Populate(context.Background(), src, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Citations)
	assert.Equal(t, 2, stats.DuplicateCitations)
	assert.Equal(t, []edge{{Citing: "A", Cited: "B"}}, loadEdges(t, db))
}

func TestPopulateAcrossBatchBoundaries(t *testing.T) {
	items := []any{
		article("A", "J1", "", rec{"article_pmid": "1", "references": []any{ref("pmid", "5"), ref("pmid", "2")}}),
		article("B", "J2", "", rec{"article_pmid": "2", "references": []any{ref("pmid", "1")}}),
		article("C", "J1", "", rec{"article_pmid": "3", "references": []any{ref("pmid", "5")}}),
		article("D", "J3", "", rec{"article_pmid": "4"}),
		article("E", "J2", "", rec{"article_pmid": "5", "references": []any{ref("pmid", "4"), ref("pmid", "4")}}),
	}
	want := []edge{
		{Citing: "A", Cited: "B"},
		{Citing: "A", Cited: "E"},
		{Citing: "B", Cited: "A"},
		{Citing: "C", Cited: "E"},
		{Citing: "E", Cited: "D"},
	}

	for _, tc := range []struct {
		batchSize int
		flushes   int
	}{
		{batchSize: 1, flushes: 10},
		{batchSize: 2, flushes: 6},
		{batchSize: 5, flushes: 2},
		{batchSize: 100, flushes: 2},
	} {
		db := openDB(t)
		src := writeSource(t, t.TempDir(), "corpus.jsonl", items...)

		stats, err := newBulk(db, tc.batchSize).Populate(context.Background(), src, false)
		require.NoError(t, err, "batch size %d", tc.batchSize)
		assert.Equal(t, want, loadEdges(t, db), "batch size %d", tc.batchSize)
		assert.Equal(t, tc.flushes, stats.Flushes, "batch size %d", tc.batchSize)
		assert.Equal(t, 3, stats.Journals)
		assert.Equal(t, 5, stats.Identifiers)
		assert.Equal(t, 1, stats.DuplicateCitations)
	}
}

func TestPopulatePublicationDates(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "J", "", rec{"pub_date": "01/15/2019"}),
		article("B", "J", "", rec{"pub_date": "not-a-date"}),
		article("C", "J", "", nil),
	)

	_, err := newBulk(db, 100).Populate(context.Background(), src, false)
	require.NoError(t, err)

	a := findArticle(t, db, "A")
	require.NotNil(t, a.PubDate)
	assert.Equal(t, "2019-01-15", time.Time(*a.PubDate).Format("2006-01-02"))
	assert.Nil(t, findArticle(t, db, "B").PubDate)
	assert.Nil(t, findArticle(t, db, "C").PubDate)
}

func TestPopulateStoresNamespaceColumns(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("PMC7", "J", "", rec{"article_pmc": "PMC7", "article_doi": "10.1/ABC", "article_publisher-id": "p-7"}),
	)

	_, err := newBulk(db, 100).Populate(context.Background(), src, false)
	require.NoError(t, err)

	a := findArticle(t, db, "PMC7")
	require.NotNil(t, a.PMCID)
	assert.Equal(t, "PMC7", *a.PMCID)
	require.NotNil(t, a.DOI)
	assert.Equal(t, "10.1/ABC", *a.DOI)
	assert.Nil(t, a.PMID)
	require.NotNil(t, a.PublisherID)
	assert.Equal(t, "p-7", *a.PublisherID)

	var idents []models.Identifier
	require.NoError(t, db.Order("id").Find(&idents).Error)
	require.Len(t, idents, 2)
	assert.Equal(t, models.Identifier{ID: idents[0].ID, Namespace: "pmc", Value: "PMC7", ArticleIdentifier: "PMC7"}, idents[0])
	assert.Equal(t, models.Identifier{ID: idents[1].ID, Namespace: "doi", Value: "10.1/abc", ArticleIdentifier: "PMC7"}, idents[1])
}

func TestPopulateRefusesNonEmptyDestination(t *testing.T) {
	db := openDB(t)
	dir := t.TempDir()
	first := writeSource(t, dir, "first.jsonl", article("A", "J", "", nil))
	second := writeSource(t, dir, "second.jsonl", article("B", "J", "", nil), article("C", "J", "", nil))

	_, err := newBulk(db, 100).Populate(context.Background(), first, false)
	require.NoError(t, err)

	_, err = newBulk(db, 100).Populate(context.Background(), second, false)
	require.ErrorIs(t, err, storage.ErrDestinationNotEmpty)
	assert.EqualValues(t, 1, count(t, db, &models.Article{}))

	_, err = newBulk(db, 100).Populate(context.Background(), second, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count(t, db, &models.Article{}))
	var ids []string
	require.NoError(t, db.Model(&models.Article{}).Order("id").Pluck("article_identifier", &ids).Error)
	assert.Equal(t, []string{"B", "C"}, ids)
}

func TestPopulateAbortsOnMalformedRecord(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "J", "", rec{"article_pmid": "1"}),
		article("B", "J", "", rec{"article_pmid": "2"}),
		`{"journal_name": "J", "article_id": `,
		article("D", "J", "", rec{"article_pmid": "4"}),
	)

	stats, err := newBulk(db, 1).Populate(context.Background(), src, false)
	require.ErrorIs(t, err, records.ErrMalformedRecord)

	// pass 1 batches flushed before the bad line stay committed
	assert.Equal(t, 2, stats.Flushes)
	assert.EqualValues(t, 1, count(t, db, &models.Journal{}))
	assert.EqualValues(t, 2, count(t, db, &models.Identifier{}))
	assert.EqualValues(t, 0, count(t, db, &models.Article{}))

	// the store stays usable for incremental loads after the abort
	add := writeSource(t, t.TempDir(), "update.jsonl",
		article("E", "K", "1234-5678", nil),
	)
	addStats, err := newReconciler(db).Add(context.Background(), add)
	require.NoError(t, err)
	assert.Equal(t, 1, addStats.Journals)
	assert.EqualValues(t, 2, count(t, db, &models.Journal{}))
	assert.NotEqual(t, uint(1), findArticle(t, db, "E").JournalID)
}

func TestPopulateRecordsMetrics(t *testing.T) {
	db := openDB(t)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "J", "", rec{"references": []any{ref("pmid", "2"), ref("pmid", "404")}}),
		article("B", "J", "", rec{"article_pmid": "2"}),
	)

	_, err := NewBulkAssembler(db, zap.NewNop(), m, 1, 10).Populate(context.Background(), src, false)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Articles.WithLabelValues("bulk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Citations.WithLabelValues("bulk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DanglingReferences.WithLabelValues("bulk")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Flushes))
}
