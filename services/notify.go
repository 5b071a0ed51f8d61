package services

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"citenet/records"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettle is how long an inbox directory must stay quiet before a scan.
const DefaultSettle = 2 * time.Second

// WatchDir scans the inbox each time record files in dir were created or written
// and then left alone for settle. It blocks until ctx is done. Producers should
// move finished files into dir rather than write them in place.
func (w *Watcher) WatchDir(ctx context.Context, dir string, settle time.Duration) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.Logger.Info("Watching inbox directory", zap.String("dir", dir), zap.Duration("settle", settle))

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !records.IsRecordFile(filepath.Base(ev.Name)) {
				continue
			}
			timer.Reset(settle)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("Inbox watcher error", zap.Error(err))
		case <-timer.C:
			n, err := w.RunOnce(ctx)
			if err != nil {
				w.Logger.Error("Inbox scan failed", zap.Error(err))
				continue
			}
			w.Logger.Info("Inbox scan completed", zap.Int("ingested", n))
		}
	}
}
