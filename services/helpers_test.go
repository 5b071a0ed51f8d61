package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"citenet/config"
	"citenet/models"
	"citenet/records"
	"citenet/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type rec map[string]any

func ref(ns, id string) map[string]string {
	return map[string]string{"id_type": ns, "id": id}
}

func article(id, journal, issn string, extra rec) rec {
	r := rec{"journal_name": journal, "article_id": id}
	if issn != "" {
		r["journal_issn"] = issn
	} else {
		r["journal_issn"] = nil
	}
	for k, v := range extra {
		r[k] = v
	}
	return r
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := storage.OpenDB(&config.Config{
		DBDriver:   config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "citations.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// writeSource writes one JSON line per item; strings are written verbatim.
func writeSource(t *testing.T, dir, name string, items ...any) records.Source {
	t.Helper()
	var sb strings.Builder
	for _, it := range items {
		if s, ok := it.(string); ok {
			sb.WriteString(s)
		} else {
			b, err := json.Marshal(it)
			require.NoError(t, err)
			sb.Write(b)
		}
		sb.WriteByte('\n')
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return records.FileSource{Path: path}
}

func newBulk(db *gorm.DB, batchSize int) *BulkAssembler {
	return NewBulkAssembler(db, zap.NewNop(), nil, batchSize, 2)
}

func newReconciler(db *gorm.DB) *Reconciler {
	return NewReconciler(db, zap.NewNop(), nil, 2)
}

type edge struct {
	Citing string
	Cited  string
}

func loadEdges(t *testing.T, db *gorm.DB) []edge {
	t.Helper()
	var out []edge
	err := db.Table("citations").
		Select("a.article_identifier AS citing, b.article_identifier AS cited").
		Joins("JOIN articles a ON a.id = citations.citing_article_id").
		Joins("JOIN articles b ON b.id = citations.cited_article_id").
		Order("citing, cited").
		Scan(&out).Error
	require.NoError(t, err)
	return out
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func findArticle(t *testing.T, db *gorm.DB, id string) models.Article {
	t.Helper()
	var a models.Article
	require.NoError(t, db.Where("article_identifier = ?", id).First(&a).Error)
	return a
}
