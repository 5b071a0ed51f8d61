package services

import (
	"context"
	"testing"

	"citenet/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCitationCounts(t *testing.T) {
	db := openDB(t)
	src := writeSource(t, t.TempDir(), "corpus.jsonl",
		article("A", "J", "", rec{"references": []any{ref("pmid", "2"), ref("pmid", "4")}}),
		article("B", "J", "", rec{"article_pmid": "2"}),
		article("C", "J", "", rec{"references": []any{ref("pmid", "2")}}),
		article("D", "J", "", rec{"article_pmid": "4"}),
	)
	_, err := newBulk(db, 100).Populate(context.Background(), src, false)
	require.NoError(t, err)

	got, err := CitationCounts(context.Background(), db, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []CitationCount{
		{ArticleIdentifier: "B", Count: 2},
		{ArticleIdentifier: "D", Count: 1},
	}, got)

	got, err = CitationCounts(context.Background(), db, []string{"A", "D"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []CitationCount{{ArticleIdentifier: "D", Count: 1}}, got)

	got, err = CitationCounts(context.Background(), db, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []CitationCount{{ArticleIdentifier: "B", Count: 2}}, got)

	// an empty filter is no filter
	got, err = CitationCounts(context.Background(), db, []string{}, 0)
	require.NoError(t, err)
	assert.Equal(t, []CitationCount{
		{ArticleIdentifier: "B", Count: 2},
		{ArticleIdentifier: "D", Count: 1},
	}, got)
}

func TestCitationCountsEmptyGraph(t *testing.T) {
	db := openDB(t)
	require.NoError(t, storage.CreateSchema(db))

	got, err := CitationCounts(context.Background(), db, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
