package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"citenet/config"
	"citenet/records"
	"citenet/services"
	"citenet/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles what every command needs once the environment is loaded.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	metrics *services.Metrics
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging, err := newLogger(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := storage.OpenDB(cfg)
	if err != nil {
		logging.Error("Failed to connect to database", zap.String("driver", cfg.DBDriver), zap.Error(err))
		return nil, err
	}
	logging.Debug("Connected to database", zap.String("driver", cfg.DBDriver))
	return &app{
		cfg:     cfg,
		log:     logging,
		db:      db,
		metrics: services.NewMetrics(prometheus.DefaultRegisterer),
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	_ = a.log.Sync()
}

// sources turns command arguments into record sources: local paths, or object
// keys in the configured bucket when fromS3 is set.
func (a *app) sources(ctx context.Context, args []string, fromS3 bool) ([]records.Source, error) {
	out := make([]records.Source, 0, len(args))
	if !fromS3 {
		for _, p := range args {
			out = append(out, records.FileSource{Path: p})
		}
		return out, nil
	}
	if !a.cfg.S3Enabled() {
		return nil, fmt.Errorf("--s3 needs S3_URL and S3_BUCKET")
	}
	client, err := storage.NewS3Client(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	for _, k := range args {
		out = append(out, storage.S3Source{Client: client, Bucket: a.cfg.S3Bucket, Key: k})
	}
	return out, nil
}

// inbox prefers the configured bucket over the inbox directory.
func (a *app) inbox(ctx context.Context) (services.Inbox, error) {
	if a.cfg.S3Enabled() {
		client, err := storage.NewS3Client(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
		return storage.S3Inbox{Client: client, Bucket: a.cfg.S3Bucket, Prefix: a.cfg.S3Prefix}, nil
	}
	if a.cfg.InboxDir == "" {
		return nil, fmt.Errorf("no inbox configured: set INBOX_DIR or S3_URL and S3_BUCKET")
	}
	return records.DirInbox{Dir: a.cfg.InboxDir}, nil
}

func (a *app) reconciler() *services.Reconciler {
	return services.NewReconciler(a.db, a.log, a.metrics, a.cfg.InsertChunkSize)
}

func (a *app) watcher(ctx context.Context) (*services.Watcher, error) {
	inbox, err := a.inbox(ctx)
	if err != nil {
		return nil, err
	}
	if err := storage.CreateSchema(a.db); err != nil {
		return nil, err
	}
	return services.NewWatcher(a.db, inbox, a.reconciler(), a.log), nil
}

// schedule runs the watcher on the configured cron schedule.
func (a *app) schedule(w *services.Watcher) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(a.cfg.CronSchedule, func() {
		a.log.Info("Running scheduled inbox scan...")
		n, err := w.RunOnce(context.Background())
		if err != nil {
			a.log.Error("Scheduled inbox scan failed", zap.Error(err))
			return
		}
		a.log.Info("Scheduled inbox scan completed", zap.Int("ingested", n))
	})
	if err != nil {
		return nil, fmt.Errorf("invalid CRON_SCHEDULE %q: %w", a.cfg.CronSchedule, err)
	}
	c.Start()
	return c, nil
}

// withApp loads the environment for a command and releases it afterwards.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, a, args)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "citenet",
		Short: "Build and maintain a citation graph from bibliographic records",
		Long: `citenet loads JSON-lines bibliographic records into a relational store
of journals, articles, identifiers and citation edges.

A fresh corpus is loaded with "populate"; later files are appended with
"add" or picked up from an inbox by "watch" and "serve".`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		createSchemaCmd(),
		populateCmd(),
		addCmd(),
		countsCmd(),
		watchCmd(),
		serveCmd(),
		backupCmd(),
	)
	return cmd
}

func createSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-schema",
		Short: "Create the citation graph tables",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if err := storage.CreateSchema(a.db); err != nil {
				return err
			}
			a.log.Info("Schema created")
			return nil
		}),
	}
}

func populateCmd() *cobra.Command {
	var (
		overwrite bool
		fromS3    bool
	)
	cmd := &cobra.Command{
		Use:   "populate <file> [batch-size]",
		Short: "Bulk-load a corpus into an empty store",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			batchSize := a.cfg.BatchSize
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n <= 0 {
					return fmt.Errorf("batch size must be a positive integer, got %q", args[1])
				}
				batchSize = n
			}
			srcs, err := a.sources(cmd.Context(), args[:1], fromS3)
			if err != nil {
				return err
			}
			bulk := services.NewBulkAssembler(a.db, a.log, a.metrics, batchSize, a.cfg.InsertChunkSize)
			stats, err := bulk.Populate(cmd.Context(), srcs[0], overwrite)
			if err != nil {
				return err
			}
			printStats(cmd, stats)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Drop and recreate existing tables first")
	cmd.Flags().BoolVar(&fromS3, "s3", false, "Read <file> as an object key in S3_BUCKET")
	return cmd
}

func addCmd() *cobra.Command {
	var fromS3 bool
	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Append record files to a populated store",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			srcs, err := a.sources(cmd.Context(), args, fromS3)
			if err != nil {
				return err
			}
			if err := storage.CreateSchema(a.db); err != nil {
				return err
			}
			rec := a.reconciler()
			for _, src := range srcs {
				stats, err := rec.Add(cmd.Context(), src)
				if err != nil {
					return fmt.Errorf("add %s: %w", src.Name(), err)
				}
				printStats(cmd, stats)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&fromS3, "s3", false, "Read arguments as object keys in S3_BUCKET")
	return cmd
}

func countsCmd() *cobra.Command {
	var (
		ids    []string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Print incoming citation counts, most cited first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			counts, err := services.CitationCounts(cmd.Context(), a.db, ids, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(counts)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ARTICLE\tCITATIONS")
			for _, c := range counts {
				fmt.Fprintf(tw, "%s\t%d\n", c.ArticleIdentifier, c.Count)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Restrict to these article identifiers (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of rows, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest new inbox files now, on CRON_SCHEDULE and as they arrive in INBOX_DIR",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := a.watcher(ctx)
			if err != nil {
				return err
			}
			n, err := w.RunOnce(ctx)
			if err != nil {
				return err
			}
			a.log.Info("Inbox scan completed", zap.Int("ingested", n))

			c, err := a.schedule(w)
			if err != nil {
				return err
			}
			defer func() { <-c.Stop().Done() }()

			if a.cfg.InboxDir != "" && !a.cfg.S3Enabled() {
				return w.WatchDir(ctx, a.cfg.InboxDir, a.cfg.InboxSettle)
			}
			<-ctx.Done()
			return nil
		}),
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and scan the inbox on CRON_SCHEDULE",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := a.watcher(ctx)
			if err != nil {
				return err
			}
			c, err := a.schedule(w)
			if err != nil {
				return err
			}
			defer func() { <-c.Stop().Done() }()

			return serve(ctx, a, w)
		}),
	}
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload a compressed dump of the store to S3_BUCKET and rotate old ones",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if !a.cfg.S3Enabled() {
				return fmt.Errorf("backup needs S3_URL and S3_BUCKET")
			}
			client, err := storage.NewS3Client(cmd.Context(), a.cfg)
			if err != nil {
				return fmt.Errorf("create s3 client: %w", err)
			}
			b := storage.Backup{Client: client, Bucket: a.cfg.S3Bucket, Prefix: a.cfg.BackupPrefix, Keep: a.cfg.KeepBackups}
			key, deleted, err := b.Run(cmd.Context(), storage.DumperFor(a.cfg, a.db), time.Now())
			if err != nil {
				return err
			}
			a.log.Info("Backup uploaded", zap.String("bucket", a.cfg.S3Bucket), zap.String("key", key))
			for _, k := range deleted {
				a.log.Info("Deleted old backup", zap.String("key", k))
			}
			return nil
		}),
	}
}

func printStats(cmd *cobra.Command, s *services.Stats) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"records=%d journals=%d identifiers=%d articles=%d citations=%d duplicate_citations=%d dangling_references=%d\n",
		s.Records, s.Journals, s.Identifiers, s.Articles, s.Citations, s.DuplicateCitations, s.DanglingReferences)
}
