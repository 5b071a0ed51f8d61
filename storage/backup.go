package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"citenet/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gorm.io/gorm"
)

// BackupAPI is the part of the S3 client the backup job needs.
type BackupAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Dumper writes a restorable copy of the store.
type Dumper interface {
	Extension() string
	Dump(ctx context.Context, w io.Writer) error
}

// PGDump runs pg_dump against the configured PostgreSQL database.
type PGDump struct {
	Cfg *config.Config
}

func (PGDump) Extension() string { return ".sql" }

func (d PGDump) Dump(ctx context.Context, w io.Writer) error {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", d.Cfg.DBHost,
		"-p", fmt.Sprint(d.Cfg.DBPort),
		"-U", d.Cfg.DBUser,
		"-d", d.Cfg.DBName,
		"-w",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+d.Cfg.DBPassword)
	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pg_dump: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// SQLiteSnapshot copies a consistent SQLite database file via VACUUM INTO.
type SQLiteSnapshot struct {
	DB *gorm.DB
}

func (SQLiteSnapshot) Extension() string { return ".db" }

func (s SQLiteSnapshot) Dump(ctx context.Context, w io.Writer) error {
	dir, err := os.MkdirTemp("", "citenet-snapshot-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if err := s.DB.WithContext(ctx).Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("snapshot sqlite: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// DumperFor picks the dump strategy of the configured driver.
func DumperFor(cfg *config.Config, db *gorm.DB) Dumper {
	if cfg.DBDriver == config.DriverPostgres {
		return PGDump{Cfg: cfg}
	}
	return SQLiteSnapshot{DB: db}
}

// Backup uploads gzip-compressed dumps below Prefix and keeps the newest Keep of them.
type Backup struct {
	Client BackupAPI
	Bucket string
	Prefix string
	Keep   int
}

// Run dumps the store, uploads it and rotates old backups. It returns the new object key
// and the keys removed by the rotation.
func (b Backup) Run(ctx context.Context, d Dumper, now time.Time) (string, []string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := d.Dump(ctx, zw); err != nil {
		return "", nil, err
	}
	if err := zw.Close(); err != nil {
		return "", nil, err
	}

	key := fmt.Sprintf("%sbackup-%s%s.gz", b.Prefix, now.UTC().Format("2006-01-02T15-04-05Z"), d.Extension())
	_, err := b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return "", nil, fmt.Errorf("upload s3://%s/%s: %w", b.Bucket, key, err)
	}

	deleted, err := b.Rotate(ctx)
	return key, deleted, err
}

type backupObject struct {
	key      string
	modified time.Time
}

// Rotate deletes all but the newest Keep backups. Keep <= 0 disables rotation.
func (b Backup) Rotate(ctx context.Context) ([]string, error) {
	if b.Keep <= 0 {
		return nil, nil
	}

	var objs []backupObject
	p := s3.NewListObjectsV2Paginator(b.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Bucket),
		Prefix: aws.String(b.Prefix + "backup-"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, o := range page.Contents {
			objs = append(objs, backupObject{key: aws.ToString(o.Key), modified: aws.ToTime(o.LastModified)})
		}
	}
	if len(objs) <= b.Keep {
		return nil, nil
	}

	sort.Slice(objs, func(i, j int) bool {
		if !objs[i].modified.Equal(objs[j].modified) {
			return objs[i].modified.After(objs[j].modified)
		}
		return objs[i].key > objs[j].key
	})

	var deleted []string
	for _, o := range objs[b.Keep:] {
		_, err := b.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.Bucket),
			Key:    aws.String(o.key),
		})
		if err != nil {
			return deleted, fmt.Errorf("delete s3://%s/%s: %w", b.Bucket, o.key, err)
		}
		deleted = append(deleted, o.key)
	}
	return deleted, nil
}
