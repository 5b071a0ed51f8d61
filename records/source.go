package records

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source is a re-readable record stream. Every pass over the records opens it again.
type Source interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads a JSON-lines file from the local file system.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return filepath.Base(s.Path) }

func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	return MaybeGunzip(s.Path, f)
}

// MaybeGunzip wraps rc in a gzip reader when name ends in ".gz".
// Closing the result closes rc.
func MaybeGunzip(name string, rc io.ReadCloser) (io.ReadCloser, error) {
	if !strings.HasSuffix(name, ".gz") {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("gunzip %s: %w", name, err)
	}
	return &gzipReadCloser{Reader: zr, under: rc}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	under io.Closer
}

func (g *gzipReadCloser) Close() error {
	return errors.Join(g.Reader.Close(), g.under.Close())
}

// Scan runs one full pass over src, calling fn with the 0-based position of each record.
// The first decode error or error returned by fn stops the pass.
func Scan(ctx context.Context, src Source, fn func(ix int, rec *Record) error) (int, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src.Name(), err)
	}
	defer rc.Close()

	r := NewReader(rc)
	ix := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return ix, nil
		}
		if err != nil {
			return ix, fmt.Errorf("%s: %w", src.Name(), err)
		}
		if err := fn(ix, rec); err != nil {
			return ix, err
		}
		ix++
	}
}

// DirInbox lists record files dropped into a directory.
type DirInbox struct {
	Dir string
}

// IsRecordFile reports whether name looks like a JSON-lines record file.
func IsRecordFile(name string) bool {
	return strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".jsonl.gz")
}

// List returns a FileSource per record file, sorted by name.
func (d DirInbox) List(ctx context.Context) ([]Source, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox %s: %w", d.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsRecordFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]Source, 0, len(names))
	for _, n := range names {
		out = append(out, FileSource{Path: filepath.Join(d.Dir, n)})
	}
	return out, nil
}
