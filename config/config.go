package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all configuration read from environment variables.
type Config struct {
	DBDriver   string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"citations.db"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"citations"`
	// Prints every SQL statement.
	DBEcho bool `envconfig:"DB_ECHO" default:"false"`

	// Records processed between two commits in bulk mode.
	BatchSize int `envconfig:"BATCH_SIZE" default:"500000"`
	// Rows per INSERT statement inside a commit.
	InsertChunkSize int `envconfig:"INSERT_CHUNK_SIZE" default:"500"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"*/15 * * * *"`
	InboxDir     string `envconfig:"INBOX_DIR"`

	// Quiet period after a file lands in INBOX_DIR before "watch" scans it
	InboxSettle time.Duration `envconfig:"INBOX_SETTLE" default:"2s"`

	// S3-compatible object storage holding record files (optional)
	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3URL    string `envconfig:"S3_URL"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX"`

	// Store backups go to S3_BUCKET below this prefix
	BackupPrefix string `envconfig:"BACKUP_PREFIX" default:"backups/"`
	KeepBackups  int    `envconfig:"KEEP_BACKUPS" default:"4"`

	LogMode string `envconfig:"LOG_MODE" default:"production"`
}

// DSN returns the data source name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// S3Enabled reports whether enough S3 settings are present to build a client.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3URL != ""
}

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.InsertChunkSize <= 0 {
		return fmt.Errorf("INSERT_CHUNK_SIZE must be positive, got %d", c.InsertChunkSize)
	}
	return nil
}

// Load reads the configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
