package services

import (
	"context"
	"fmt"
	"sync"

	"citenet/models"
	"citenet/records"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Inbox lists record sources waiting to be ingested.
type Inbox interface {
	List(ctx context.Context) ([]records.Source, error)
}

// Watcher feeds new inbox sources to the reconciler. A source counts as done once
// its name is in the ingested_files ledger, which the reconciler writes in the same
// transaction as the source's data.
type Watcher struct {
	DB         *gorm.DB
	Inbox      Inbox
	Reconciler *Reconciler
	Logger     *zap.Logger

	// keeps cron ticks and manual triggers from overlapping
	mu sync.Mutex
}

func NewWatcher(db *gorm.DB, inbox Inbox, reconciler *Reconciler, logger *zap.Logger) *Watcher {
	return &Watcher{DB: db, Inbox: inbox, Reconciler: reconciler, Logger: logger}
}

// Pending returns the inbox sources not yet in the ledger, in inbox order.
func (w *Watcher) Pending(ctx context.Context) ([]records.Source, error) {
	srcs, err := w.Inbox.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(srcs) == 0 {
		return nil, nil
	}

	names := make([]string, len(srcs))
	for i, s := range srcs {
		names[i] = s.Name()
	}
	var done []string
	if err := w.DB.WithContext(ctx).Model(&models.IngestedFile{}).Where("name IN ?", names).Pluck("name", &done).Error; err != nil {
		return nil, fmt.Errorf("read ingestion ledger: %w", err)
	}
	skip := make(map[string]bool, len(done))
	for _, n := range done {
		skip[n] = true
	}

	var out []records.Source
	for _, s := range srcs {
		if !skip[s.Name()] {
			out = append(out, s)
		}
	}
	return out, nil
}

// RunOnce ingests every pending source and returns how many were committed.
// A failing source is logged and skipped; its transaction leaves nothing behind.
func (w *Watcher) RunOnce(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending, err := w.Pending(ctx)
	if err != nil {
		return 0, err
	}
	w.Logger.Info("Inbox scanned", zap.Int("pending", len(pending)))

	ingested := 0
	for _, src := range pending {
		if _, err := w.Reconciler.Add(ctx, src); err != nil {
			w.Logger.Error("Failed to ingest source", zap.String("source", src.Name()), zap.Error(err))
			w.Reconciler.Metrics.sourceFailed()
			continue
		}
		ingested++
	}
	return ingested, nil
}
