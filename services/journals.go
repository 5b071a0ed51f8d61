package services

import (
	"errors"
	"fmt"

	"citenet/models"

	"gorm.io/gorm"
)

// JournalLookup finds an already persisted journal by key. It returns (nil, nil)
// when the key is unknown.
type JournalLookup func(key string) (*models.Journal, error)

// StoreJournalLookup looks journals up through db, which may be an open transaction.
func StoreJournalLookup(db *gorm.DB) JournalLookup {
	return func(key string) (*models.Journal, error) {
		var j models.Journal
		err := db.Where("journal_key = ?", key).First(&j).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("lookup journal %q: %w", key, err)
		}
		return &j, nil
	}
}

// JournalDeduplicator hands out exactly one journal per key for the lifetime of a run.
// Journals created by the run are kept as shared handles, so every article of the
// same key points at the same entity until it is written.
type JournalDeduplicator struct {
	known  map[string]*models.Journal
	staged []*models.Journal
	lookup JournalLookup
}

// NewJournalDeduplicator creates a deduplicator. lookup may be nil when the run
// starts from an empty store.
func NewJournalDeduplicator(lookup JournalLookup) *JournalDeduplicator {
	return &JournalDeduplicator{
		known:  make(map[string]*models.Journal),
		lookup: lookup,
	}
}

// Register returns the journal for key, creating it from name and issn if neither
// this run nor the store knows it. For a known key the given name and issn are ignored.
func (d *JournalDeduplicator) Register(key, name string, issn *string) (*models.Journal, bool, error) {
	if j, ok := d.known[key]; ok {
		return j, false, nil
	}
	if d.lookup != nil {
		j, err := d.lookup(key)
		if err != nil {
			return nil, false, err
		}
		if j != nil {
			d.known[key] = j
			return j, false, nil
		}
	}

	j := &models.Journal{Key: key, Name: name, ISSN: issn}
	d.known[key] = j
	d.staged = append(d.staged, j)
	return j, true, nil
}

// Get returns a journal registered earlier in this run.
func (d *JournalDeduplicator) Get(key string) (*models.Journal, bool) {
	j, ok := d.known[key]
	return j, ok
}

// Staged returns the journals created by this run, in creation order.
func (d *JournalDeduplicator) Staged() []*models.Journal {
	return d.staged
}

// Len is the number of journals created by this run.
func (d *JournalDeduplicator) Len() int { return len(d.staged) }
