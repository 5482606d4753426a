// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration. Required values without
// defaults abort startup with a non-zero exit when missing.
type Config struct {
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`

	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	DBMaxIdleConns int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	CORSAllowOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`

	Queue     QueueConfig
	Providers ProvidersConfig
	Storage   StorageConfig
	Retention RetentionConfig
}

// QueueConfig controls how jobs are polled, claimed and processed.
type QueueConfig struct {
	// Concurrency is the number of worker goroutines per replica. Each
	// worker independently polls and processes jobs.
	Concurrency int `envconfig:"QUEUE_CONCURRENCY" default:"2"`

	// StartsPerMinute caps job starts globally per replica to respect
	// provider quotas.
	StartsPerMinute int `envconfig:"QUEUE_STARTS_PER_MINUTE" default:"10"`

	// MaxAttempts is how many times a job runs before it is terminal.
	MaxAttempts int `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`

	// BackoffBase is the exponential backoff base between attempts.
	BackoffBase time.Duration `envconfig:"QUEUE_BACKOFF_BASE" default:"30s"`

	// PollInterval is the base interval for checking queued jobs;
	// PollJitter is the random jitter applied on top of it.
	PollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
	PollJitter   time.Duration `envconfig:"QUEUE_POLL_JITTER" default:"500ms"`

	// JobTimeout bounds a single pipeline attempt end to end.
	JobTimeout time.Duration `envconfig:"QUEUE_JOB_TIMEOUT" default:"30m"`

	// HeartbeatInterval is how often a running job refreshes its lease;
	// OrphanThreshold is how stale a heartbeat may get before the job is
	// requeued by the orphan scan.
	HeartbeatInterval time.Duration `envconfig:"QUEUE_HEARTBEAT_INTERVAL" default:"30s"`
	OrphanScanEvery   time.Duration `envconfig:"QUEUE_ORPHAN_SCAN_INTERVAL" default:"1m"`
	OrphanThreshold   time.Duration `envconfig:"QUEUE_ORPHAN_THRESHOLD" default:"5m"`

	// GracefulShutdownTimeout is the max wait for in-flight jobs on stop.
	GracefulShutdownTimeout time.Duration `envconfig:"QUEUE_SHUTDOWN_TIMEOUT" default:"30m"`
}

// ProvidersConfig holds the three external AI provider endpoints.
type ProvidersConfig struct {
	ScriptAPIURL string `envconfig:"SCRIPT_API_URL" default:"https://api.openai.com/v1"`
	ScriptAPIKey string `envconfig:"SCRIPT_API_KEY" required:"true"`
	ScriptModel  string `envconfig:"SCRIPT_MODEL" default:"gpt-4o-mini"`

	VoiceAPIURL    string `envconfig:"VOICE_API_URL" default:"https://api.elevenlabs.io"`
	VoiceAPIKey    string `envconfig:"VOICE_API_KEY" required:"true"`
	DefaultVoiceID string `envconfig:"DEFAULT_VOICE_ID" default:"EXAVITQu4vr4xnSDxMaL"`

	VideoAPIURL string `envconfig:"VIDEO_API_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	VideoAPIKey string `envconfig:"VIDEO_API_KEY" required:"true"`
	VideoModel  string `envconfig:"VIDEO_MODEL" default:"veo-3.0-generate-001"`
}

// StorageConfig configures the S3-compatible object store.
type StorageConfig struct {
	Bucket    string `envconfig:"STORAGE_BUCKET" required:"true"`
	Region    string `envconfig:"STORAGE_REGION" default:"us-east-1"`
	Endpoint  string `envconfig:"STORAGE_ENDPOINT"` // non-empty for S3-compatible stores
	AccessKey string `envconfig:"STORAGE_ACCESS_KEY"`
	SecretKey string `envconfig:"STORAGE_SECRET_KEY"`
	// UsePathStyle is required by most S3-compatible stores (MinIO).
	UsePathStyle bool `envconfig:"STORAGE_USE_PATH_STYLE" default:"false"`
}

// RetentionConfig controls the cleanup sweeper.
type RetentionConfig struct {
	SweepInterval time.Duration `envconfig:"RETENTION_SWEEP_INTERVAL" default:"10m"`

	// CompletedJobTTL / FailedJobTTL bound how long finished queue rows are
	// kept for inspection.
	CompletedJobTTL time.Duration `envconfig:"RETENTION_COMPLETED_JOB_TTL" default:"24h"`
	FailedJobTTL    time.Duration `envconfig:"RETENTION_FAILED_JOB_TTL" default:"168h"`

	// PendingGrace is how long a request may sit pending before the sweeper
	// re-enqueues it (lost enqueue recovery).
	PendingGrace time.Duration `envconfig:"RETENTION_PENDING_GRACE" default:"5m"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}
