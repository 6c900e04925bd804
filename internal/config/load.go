package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("Config file loaded")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with any SUMMARY_* variables that are set.
// QueueUrl and AWS_REGION are honoured for deployments that predate the
// SUMMARY_ prefix.
func (c *Config) applyEnv() error {
	envString(&c.Worker.ScratchDir, "SUMMARY_SCRATCH_DIR")
	envString(&c.Queue.Backend, "SUMMARY_QUEUE_BACKEND")
	envString(&c.Queue.URL, "QueueUrl")
	envString(&c.Queue.URL, "SUMMARY_QUEUE_URL")
	envString(&c.Queue.DeadLetterURL, "SUMMARY_DEAD_LETTER_URL")
	envString(&c.Queue.Stream, "SUMMARY_QUEUE_STREAM")
	envString(&c.Queue.Group, "SUMMARY_QUEUE_GROUP")
	envString(&c.Queue.Consumer, "SUMMARY_QUEUE_CONSUMER")
	envString(&c.Queue.DeadLetterStream, "SUMMARY_DEAD_LETTER_STREAM")
	envString(&c.Artifacts.Backend, "SUMMARY_ARTIFACTS_BACKEND")
	envString(&c.Artifacts.Bucket, "SUMMARY_BUCKET")
	envString(&c.Artifacts.Endpoint, "SUMMARY_ARTIFACTS_ENDPOINT")
	envString(&c.Artifacts.AccessKey, "SUMMARY_ARTIFACTS_ACCESS_KEY")
	envString(&c.Artifacts.SecretKey, "SUMMARY_ARTIFACTS_SECRET_KEY")
	envString(&c.Status.Backend, "SUMMARY_STATUS_BACKEND")
	envString(&c.Status.DSN, "SUMMARY_DATABASE_URL")
	envString(&c.Status.DSNParam, "SUMMARY_DATABASE_URL_PARAM")
	envString(&c.Status.Table, "SUMMARY_STATUS_TABLE")
	envString(&c.FFmpeg.BinaryPath, "SUMMARY_FFMPEG_PATH")
	envString(&c.Transcribe.Backend, "SUMMARY_TRANSCRIBER")
	envString(&c.Transcribe.BinaryPath, "SUMMARY_WHISPER_PATH")
	envString(&c.Transcribe.ModelPath, "SUMMARY_WHISPER_MODEL")
	envString(&c.Transcribe.Language, "SUMMARY_LANGUAGE")
	envString(&c.Transcribe.APIKey, "GEMINI_API_KEY")
	envString(&c.Transcribe.APIKeyParam, "SSM_API_KEY_PARAM")
	envString(&c.Summarize.Backend, "SUMMARY_SUMMARIZER")
	envString(&c.Summarize.BaseURL, "SUMMARY_NLPCLOUD_URL")
	envString(&c.Summarize.Model, "SUMMARY_SUMMARY_MODEL")
	envString(&c.Redis.Addr, "SUMMARY_REDIS_ADDR")
	envString(&c.Redis.Password, "SUMMARY_REDIS_PASSWORD")
	envString(&c.AWS.Region, "AWS_REGION")
	envString(&c.AWS.Endpoint, "SUMMARY_AWS_ENDPOINT")
	envString(&c.Logging.Level, "SUMMARY_LOG_LEVEL")
	envString(&c.Logging.Format, "SUMMARY_LOG_FORMAT")
	envString(&c.Sentry.DSN, "SENTRY_DSN")
	envString(&c.Sentry.Environment, "SENTRY_ENVIRONMENT")
	envString(&c.Metrics.Namespace, "SUMMARY_METRICS_NAMESPACE")

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envInt(&c.Worker.Concurrency, "SUMMARY_CONCURRENCY"))
	collect(envInt(&c.Worker.MaxDeliveries, "SUMMARY_MAX_DELIVERIES"))
	collect(envInt(&c.Transcribe.ChunkSize, "SUMMARY_CHUNK_SIZE"))
	collect(envInt(&c.Transcribe.BeamSize, "SUMMARY_BEAM_SIZE"))
	collect(envInt(&c.Redis.DB, "SUMMARY_REDIS_DB"))
	collect(envDuration(&c.Worker.RetryBackoff, "SUMMARY_RETRY_BACKOFF"))
	collect(envDuration(&c.Worker.MaxBackoff, "SUMMARY_MAX_BACKOFF"))
	collect(envDuration(&c.Queue.WaitTime, "SUMMARY_QUEUE_WAIT"))
	collect(envDuration(&c.Queue.VisibilityTimeout, "SUMMARY_VISIBILITY_TIMEOUT"))
	collect(envBool(&c.Artifacts.UseSSL, "SUMMARY_ARTIFACTS_USE_SSL"))
	collect(envBool(&c.Artifacts.PathStyle, "SUMMARY_ARTIFACTS_PATH_STYLE"))
	collect(envBool(&c.Metrics.Enabled, "SUMMARY_METRICS_ENABLED"))
	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %v", errs)
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func envBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, v, err)
	}
	*dst = b
	return nil
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "summary-worker"
	}
	return host
}
