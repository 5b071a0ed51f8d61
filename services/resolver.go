package services

import (
	"strings"
	"time"

	"citenet/models"
	"citenet/records"

	"gorm.io/datatypes"
)

// pubDateLayout is month/day/year; leading zeros are optional.
const pubDateLayout = "1/2/2006"

// Resolved is a record reduced to what the graph writers need.
type Resolved struct {
	JournalKey  string
	JournalName string
	ISSN        *string
	CanonicalID string
	// Normalized namespace values, ready for the identifier table
	IDs     map[records.Namespace]string
	PubDate *time.Time
}

// JournalKey is the one place a journal grouping key is derived:
// the trimmed ISSN when present, otherwise the journal name.
func JournalKey(name string, issn *string) string {
	if i := trimmedISSN(issn); i != nil {
		return *i
	}
	return name
}

func trimmedISSN(issn *string) *string {
	if issn == nil {
		return nil
	}
	s := strings.TrimSpace(*issn)
	if s == "" {
		return nil
	}
	return &s
}

// ParsePubDate parses a month/day/year date. Anything unparsable yields nil.
func ParsePubDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(pubDateLayout, strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &t
}

// Resolve derives the journal key and the namespace values of rec.
func Resolve(rec *records.Record) Resolved {
	ids := make(map[records.Namespace]string, len(rec.IDs))
	for ns, v := range rec.IDs {
		if n := ns.Normalize(v); n != "" {
			ids[ns] = n
		}
	}
	return Resolved{
		JournalKey:  JournalKey(rec.JournalName, rec.JournalISSN),
		JournalName: rec.JournalName,
		ISSN:        trimmedISSN(rec.JournalISSN),
		CanonicalID: rec.ArticleID,
		IDs:         ids,
		PubDate:     ParsePubDate(rec.PubDate),
	}
}

// idKey addresses one entry of the identifier table.
type idKey struct {
	ns    records.Namespace
	value string
}

// keys returns the record's identifier keys in namespace registration order.
func (r Resolved) keys() []idKey {
	out := make([]idKey, 0, len(r.IDs))
	for _, ns := range records.Namespaces() {
		if v, ok := r.IDs[ns]; ok {
			out = append(out, idKey{ns: ns, value: v})
		}
	}
	return out
}

// referenceKey normalizes a reference the same way identifiers are registered.
func referenceKey(ref records.Reference) (idKey, bool) {
	ns := records.Namespace(strings.ToLower(strings.TrimSpace(string(ref.Namespace))))
	v := ns.Normalize(ref.ID)
	if v == "" {
		return idKey{}, false
	}
	return idKey{ns: ns, value: v}, true
}

// newArticle builds the article row of a record. Namespace columns keep the
// values as delivered; matching always goes through the identifier table.
func newArticle(rec *records.Record, res Resolved, journalID uint) models.Article {
	raw := func(ns records.Namespace) *string {
		if v, ok := rec.IDs[ns]; ok {
			return &v
		}
		return nil
	}
	a := models.Article{
		ArticleIdentifier: res.CanonicalID,
		PMCID:             raw(records.NamespacePMC),
		PMID:              raw(records.NamespacePMID),
		DOI:               raw(records.NamespaceDOI),
		PII:               raw(records.NamespacePII),
		JournalID:         journalID,
		PublisherID:       rec.PublisherID,
	}
	if res.PubDate != nil {
		d := datatypes.Date(*res.PubDate)
		a.PubDate = &d
	}
	return a
}

func newIdentifier(k idKey, canonicalID string) models.Identifier {
	return models.Identifier{Namespace: string(k.ns), Value: k.value, ArticleIdentifier: canonicalID}
}
