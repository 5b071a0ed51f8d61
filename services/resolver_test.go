package services

import (
	"errors"
	"testing"
	"time"

	"citenet/models"
	"citenet/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestJournalKey(t *testing.T) {
	assert.Equal(t, "1234-5678", JournalKey("Some Journal", strPtr(" 1234-5678 ")))
	assert.Equal(t, "Some Journal", JournalKey("Some Journal", strPtr("   ")))
	assert.Equal(t, "Some Journal", JournalKey("Some Journal", nil))
}

func TestParsePubDate(t *testing.T) {
	got := ParsePubDate(strPtr("01/15/2019"))
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2019, time.January, 15, 0, 0, 0, 0, time.UTC), *got)

	got = ParsePubDate(strPtr("3/4/2021"))
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2021, time.March, 4, 0, 0, 0, 0, time.UTC), *got)

	for _, s := range []string{"not-a-date", "2019", "5/2019", "13/01/2019", ""} {
		assert.Nil(t, ParsePubDate(strPtr(s)), s)
	}
	assert.Nil(t, ParsePubDate(nil))
}

func TestResolve(t *testing.T) {
	rec := &records.Record{
		JournalName: "Cell",
		JournalISSN: strPtr(" 0092-8674"),
		ArticleID:   "PMC1",
		IDs: map[records.Namespace]string{
			records.NamespacePMC:  "PMC1",
			records.NamespaceDOI:  "https://doi.org/10.1016/J.CELL",
			records.NamespacePMID: "   ",
		},
		PubDate: strPtr("12/31/2020"),
	}

	res := Resolve(rec)
	assert.Equal(t, "0092-8674", res.JournalKey)
	assert.Equal(t, "0092-8674", *res.ISSN)
	assert.Equal(t, "PMC1", res.CanonicalID)
	assert.Equal(t, map[records.Namespace]string{
		records.NamespacePMC: "PMC1",
		records.NamespaceDOI: "10.1016/j.cell",
	}, res.IDs, "values normalizing to nothing are dropped")
	assert.Equal(t, []idKey{
		{ns: records.NamespacePMC, value: "PMC1"},
		{ns: records.NamespaceDOI, value: "10.1016/j.cell"},
	}, res.keys())
	require.NotNil(t, res.PubDate)
}

func TestReferenceKey(t *testing.T) {
	k, ok := referenceKey(records.Reference{Namespace: " PMID ", ID: "123"})
	require.True(t, ok)
	assert.Equal(t, idKey{ns: records.NamespacePMID, value: "123"}, k)

	_, ok = referenceKey(records.Reference{Namespace: records.NamespaceDOI, ID: "  "})
	assert.False(t, ok)
}

func TestJournalDeduplicatorFirstWriterWins(t *testing.T) {
	d := NewJournalDeduplicator(nil)

	j1, isNew, err := d.Register("1234", "First Name", strPtr("1234"))
	require.NoError(t, err)
	assert.True(t, isNew)

	j2, isNew, err := d.Register("1234", "Second Name", nil)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Same(t, j1, j2)
	assert.Equal(t, "First Name", j2.Name)
	assert.Equal(t, 1, d.Len())

	got, ok := d.Get("1234")
	assert.True(t, ok)
	assert.Same(t, j1, got)
	_, ok = d.Get("other")
	assert.False(t, ok)
}

func TestJournalDeduplicatorConsultsLookupAfterCache(t *testing.T) {
	stored := &models.Journal{ID: 7, Key: "stored", Name: "Stored"}
	calls := 0
	d := NewJournalDeduplicator(func(key string) (*models.Journal, error) {
		calls++
		if key == "stored" {
			return stored, nil
		}
		return nil, nil
	})

	j, isNew, err := d.Register("stored", "Ignored", nil)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Same(t, stored, j)

	_, _, err = d.Register("stored", "Ignored", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second registration is served from the cache")

	j, isNew, err = d.Register("fresh", "Fresh", nil)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, []*models.Journal{j}, d.Staged())
}

func TestJournalDeduplicatorPropagatesLookupErrors(t *testing.T) {
	boom := errors.New("boom")
	d := NewJournalDeduplicator(func(string) (*models.Journal, error) { return nil, boom })
	_, _, err := d.Register("k", "n", nil)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, d.Len())
}

func TestBatchPolicy(t *testing.T) {
	p := BatchPolicy{Size: 3}
	var flushed []int
	for ix := 0; ix < 7; ix++ {
		if p.ShouldFlush(ix) {
			flushed = append(flushed, ix)
		}
	}
	assert.Equal(t, []int{2, 5}, flushed)
	assert.False(t, BatchPolicy{}.ShouldFlush(0))
}
