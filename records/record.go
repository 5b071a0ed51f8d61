// Package records decodes the bibliographic record stream the citation graph is built from.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRecord marks an input unit that cannot be turned into a Record.
var ErrMalformedRecord = errors.New("malformed record")

// Reference is one citation target named by namespace and identifier.
type Reference struct {
	Namespace Namespace `json:"id_type"`
	ID        string    `json:"id"`
}

// Record is one normalized bibliographic record.
type Record struct {
	JournalName string
	JournalISSN *string
	ArticleID   string
	// Raw namespaced identifiers, keyed by namespace. Blank values are absent.
	IDs         map[Namespace]string
	PublisherID *string
	PubDate     *string
	References  []Reference
}

type recordJSON struct {
	JournalName string      `json:"journal_name"`
	JournalISSN *string     `json:"journal_issn"`
	ArticleID   string      `json:"article_id"`
	PublisherID *string     `json:"article_publisher-id"`
	PubDate     *string     `json:"pub_date"`
	References  []Reference `json:"references"`
}

// UnmarshalJSON decodes a record and collects "article_<ns>" fields for
// every registered namespace.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	ids := make(map[Namespace]string)
	for _, ns := range Namespaces() {
		msg, ok := fields["article_"+string(ns)]
		if !ok {
			continue
		}
		var v *string
		if err := json.Unmarshal(msg, &v); err != nil {
			return fmt.Errorf("article_%s: %w", ns, err)
		}
		if v != nil && strings.TrimSpace(*v) != "" {
			ids[ns] = *v
		}
	}

	*r = Record{
		JournalName: raw.JournalName,
		JournalISSN: raw.JournalISSN,
		ArticleID:   raw.ArticleID,
		IDs:         ids,
		PublisherID: raw.PublisherID,
		PubDate:     raw.PubDate,
		References:  raw.References,
	}
	return nil
}

// Validate reports whether the record carries the minimum needed to place it in the graph.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ArticleID) == "" {
		return fmt.Errorf("%w: missing article_id", ErrMalformedRecord)
	}
	if strings.TrimSpace(r.JournalName) == "" && (r.JournalISSN == nil || strings.TrimSpace(*r.JournalISSN) == "") {
		return fmt.Errorf("%w: article %s has neither journal name nor issn", ErrMalformedRecord, r.ArticleID)
	}
	return nil
}

// Parse decodes and validates a single JSON record.
func Parse(line []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
