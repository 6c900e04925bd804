// Package config loads the worker configuration from an optional YAML file
// and environment overrides, then validates it and fills defaults.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Backend selectors.
const (
	QueueSQS   = "sqs"
	QueueRedis = "redis"

	ArtifactsS3    = "s3"
	ArtifactsMinio = "minio"

	StatusPostgres = "postgres"
	StatusDynamo   = "dynamodb"
	StatusRedis    = "redis"

	TranscriberWhisper = "whisper"
	TranscriberGemini  = "gemini"

	SummarizerNLPCloud = "nlpcloud"
	SummarizerGemini   = "gemini"
)

// Defaults.
const (
	DefaultRegion          = "ap-southeast-2"
	DefaultScratchDir      = "./temp"
	DefaultWaitTime        = 20 * time.Second
	DefaultErrorPause      = time.Second
	DefaultMaxBackoff      = 15 * time.Minute
	DefaultChunkSize       = 32 * 1024
	DefaultGeminiModel     = "gemini-2.5-flash"
	DefaultNLPCloudURL     = "https://api.nlpcloud.io"
	DefaultNLPCloudModel   = "chatdolphin"
	DefaultMetricNamespace = "VideoSummaryWorker"
	DefaultFFmpegTimeout   = 10 * time.Minute
	DefaultClaimIdle       = 30 * time.Minute

	// sqsMaxWait is the longest long-poll SQS accepts.
	sqsMaxWait = 20 * time.Second
	// maxChunkSize bounds a single transcription feed.
	maxChunkSize = 4 * 1024 * 1024
)

type Config struct {
	Worker     WorkerConfig     `yaml:"worker"`
	Queue      QueueConfig      `yaml:"queue"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Status     StatusConfig     `yaml:"status"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Summarize  SummarizeConfig  `yaml:"summarize"`
	Redis      RedisConfig      `yaml:"redis"`
	AWS        AWSConfig        `yaml:"aws"`
	Logging    LoggingConfig    `yaml:"logging"`
	Sentry     SentryConfig     `yaml:"sentry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type WorkerConfig struct {
	ScratchDir  string `yaml:"scratch_dir"`
	Concurrency int    `yaml:"concurrency"`
	// MaxDeliveries of 0 means a failing job is redelivered forever.
	MaxDeliveries int           `yaml:"max_deliveries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
}

type QueueConfig struct {
	Backend           string        `yaml:"backend"`
	URL               string        `yaml:"url"`
	DeadLetterURL     string        `yaml:"dead_letter_url"`
	WaitTime          time.Duration `yaml:"wait_time"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	ErrorPause        time.Duration `yaml:"error_pause"`

	Stream           string        `yaml:"stream"`
	Group            string        `yaml:"group"`
	Consumer         string        `yaml:"consumer"`
	DeadLetterStream string        `yaml:"dead_letter_stream"`
	ClaimIdle        time.Duration `yaml:"claim_idle"`
}

type ArtifactsConfig struct {
	Backend   string `yaml:"backend"`
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	PathStyle bool   `yaml:"path_style"`
}

type StatusConfig struct {
	Backend   string `yaml:"backend"`
	DSN       string `yaml:"dsn"`
	DSNParam  string `yaml:"dsn_param"`
	Table     string `yaml:"table"`
	KeyPrefix string `yaml:"key_prefix"`
}

type FFmpegConfig struct {
	BinaryPath string        `yaml:"binary_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

type TranscribeConfig struct {
	Backend     string `yaml:"backend"`
	BinaryPath  string `yaml:"binary_path"`
	ModelPath   string `yaml:"model_path"`
	Language    string `yaml:"language"`
	Threads     int    `yaml:"threads"`
	BeamSize    int    `yaml:"beam_size"`
	ChunkSize   int    `yaml:"chunk_size"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
	APIKeyParam string `yaml:"api_key_param"`
}

type SummarizeConfig struct {
	Backend string        `yaml:"backend"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	UseCPU  bool          `yaml:"use_cpu"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AWSConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Validate checks required settings for the selected backends and fills
// defaults for everything left empty.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.Worker.validate()...)
	errs = append(errs, c.Queue.validate()...)
	errs = append(errs, c.Artifacts.validate()...)
	errs = append(errs, c.Status.validate()...)
	errs = append(errs, c.Transcribe.validate()...)
	errs = append(errs, c.Summarize.validate()...)

	if c.FFmpeg.BinaryPath == "" {
		c.FFmpeg.BinaryPath = "ffmpeg"
	}
	if c.FFmpeg.Timeout == 0 {
		c.FFmpeg.Timeout = DefaultFFmpegTimeout
	}
	errs = append(errs, c.checkLease()...)
	if c.Queue.Backend == QueueRedis || c.Status.Backend == StatusRedis {
		if c.Redis.Addr == "" {
			c.Redis.Addr = "localhost:6379"
		}
	}
	if c.AWS.Region == "" {
		c.AWS.Region = DefaultRegion
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricNamespace
	}
	return errors.Join(errs...)
}

// checkLease rejects a redelivery window that a single ffmpeg run can
// outlast; the message would be handed to another consumer mid-job.
func (c *Config) checkLease() []error {
	var errs []error
	switch {
	case c.Queue.Backend == QueueRedis && c.Queue.ClaimIdle <= c.FFmpeg.Timeout:
		errs = append(errs, fmt.Errorf("queue.claim_idle %s must exceed ffmpeg.timeout %s", c.Queue.ClaimIdle, c.FFmpeg.Timeout))
	case c.Queue.Backend == QueueSQS && c.Queue.VisibilityTimeout > 0 && c.Queue.VisibilityTimeout <= c.FFmpeg.Timeout:
		errs = append(errs, fmt.Errorf("queue.visibility_timeout %s must exceed ffmpeg.timeout %s", c.Queue.VisibilityTimeout, c.FFmpeg.Timeout))
	}
	return errs
}

func (w *WorkerConfig) validate() []error {
	var errs []error
	if w.ScratchDir == "" {
		w.ScratchDir = DefaultScratchDir
	}
	if w.Concurrency == 0 {
		w.Concurrency = 1
	}
	if w.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be positive, got %d", w.Concurrency))
	}
	if w.MaxDeliveries < 0 {
		errs = append(errs, fmt.Errorf("worker.max_deliveries must not be negative, got %d", w.MaxDeliveries))
	}
	if w.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("worker.retry_backoff must not be negative"))
	}
	if w.MaxBackoff == 0 {
		w.MaxBackoff = DefaultMaxBackoff
	}
	return errs
}

func (q *QueueConfig) validate() []error {
	var errs []error
	if q.Backend == "" {
		q.Backend = QueueSQS
	}
	if q.WaitTime == 0 {
		q.WaitTime = DefaultWaitTime
	}
	if q.ErrorPause == 0 {
		q.ErrorPause = DefaultErrorPause
	}
	switch q.Backend {
	case QueueSQS:
		if q.URL == "" {
			errs = append(errs, fmt.Errorf("queue.url is required for the sqs backend"))
		}
		if q.WaitTime > sqsMaxWait {
			errs = append(errs, fmt.Errorf("queue.wait_time %s exceeds the SQS maximum of %s", q.WaitTime, sqsMaxWait))
		}
	case QueueRedis:
		if q.Stream == "" {
			q.Stream = "video-jobs"
		}
		if q.Group == "" {
			q.Group = "summary-workers"
		}
		if q.Consumer == "" {
			q.Consumer = defaultConsumerName()
		}
		if q.ClaimIdle == 0 {
			q.ClaimIdle = DefaultClaimIdle
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not one of sqs, redis", q.Backend))
	}
	return errs
}

func (a *ArtifactsConfig) validate() []error {
	var errs []error
	if a.Backend == "" {
		a.Backend = ArtifactsS3
	}
	if a.Bucket == "" {
		errs = append(errs, fmt.Errorf("artifacts.bucket is required"))
	}
	switch a.Backend {
	case ArtifactsS3:
	case ArtifactsMinio:
		if a.Endpoint == "" {
			errs = append(errs, fmt.Errorf("artifacts.endpoint is required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.backend %q is not one of s3, minio", a.Backend))
	}
	return errs
}

func (s *StatusConfig) validate() []error {
	var errs []error
	if s.Backend == "" {
		s.Backend = StatusPostgres
	}
	switch s.Backend {
	case StatusPostgres:
		if s.DSN == "" && s.DSNParam == "" {
			errs = append(errs, fmt.Errorf("status.dsn or status.dsn_param is required for the postgres backend"))
		}
		if s.Table == "" {
			s.Table = "Videos"
		}
	case StatusDynamo:
		if s.Table == "" {
			errs = append(errs, fmt.Errorf("status.table is required for the dynamodb backend"))
		}
	case StatusRedis:
		if s.KeyPrefix == "" {
			s.KeyPrefix = "video:"
		}
	default:
		errs = append(errs, fmt.Errorf("status.backend %q is not one of postgres, dynamodb, redis", s.Backend))
	}
	return errs
}

func (t *TranscribeConfig) validate() []error {
	var errs []error
	if t.Backend == "" {
		t.Backend = TranscriberWhisper
	}
	if t.ChunkSize == 0 {
		t.ChunkSize = DefaultChunkSize
	}
	if t.ChunkSize < 0 || t.ChunkSize > maxChunkSize {
		errs = append(errs, fmt.Errorf("transcribe.chunk_size must be between 1 and %d, got %d", maxChunkSize, t.ChunkSize))
	}
	if t.Language == "" {
		t.Language = "en"
	}
	switch t.Backend {
	case TranscriberWhisper:
		if t.ModelPath == "" {
			errs = append(errs, fmt.Errorf("transcribe.model_path is required for the whisper backend"))
		}
		if t.BinaryPath == "" {
			t.BinaryPath = "whisper-cli"
		}
		if t.Threads == 0 {
			t.Threads = 4
		}
		if t.BeamSize == 0 {
			t.BeamSize = 5
		}
	case TranscriberGemini:
		if t.Model == "" {
			t.Model = DefaultGeminiModel
		}
		if t.APIKey == "" && t.APIKeyParam == "" {
			errs = append(errs, fmt.Errorf("transcribe.api_key or transcribe.api_key_param is required for the gemini backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcribe.backend %q is not one of whisper, gemini", t.Backend))
	}
	return errs
}

func (s *SummarizeConfig) validate() []error {
	var errs []error
	if s.Backend == "" {
		s.Backend = SummarizerNLPCloud
	}
	if s.Timeout == 0 {
		s.Timeout = 2 * time.Minute
	}
	switch s.Backend {
	case SummarizerNLPCloud:
		if s.BaseURL == "" {
			s.BaseURL = DefaultNLPCloudURL
		}
		if s.Model == "" {
			s.Model = DefaultNLPCloudModel
		}
	case SummarizerGemini:
		if s.Model == "" {
			s.Model = DefaultGeminiModel
		}
	default:
		errs = append(errs, fmt.Errorf("summarize.backend %q is not one of nlpcloud, gemini", s.Backend))
	}
	return errs
}
