package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-summary-worker/internal/artifact"
	"github.com/fpang/video-summary-worker/internal/config"
	"github.com/fpang/video-summary-worker/internal/logging"
	"github.com/fpang/video-summary-worker/internal/metrics"
	"github.com/fpang/video-summary-worker/internal/pipeline"
	"github.com/fpang/video-summary-worker/internal/queue"
	"github.com/fpang/video-summary-worker/internal/status"
	"github.com/fpang/video-summary-worker/internal/summarize"
	"github.com/fpang/video-summary-worker/internal/transcode"
	"github.com/fpang/video-summary-worker/internal/transcribe"
)

// JobQueue is a queue that can also enqueue jobs.
type JobQueue interface {
	queue.Queue
	queue.Producer
}

// Services is everything a consumer needs. Close releases connections.
type Services struct {
	Queue      JobQueue
	Store      artifact.Store
	Reporter   status.Reporter
	Engine     transcribe.Engine
	Summarizer summarize.Summarizer
	Transcoder transcode.Transcoder
	Executor   *pipeline.Executor
	Metrics    *metrics.Emitter

	closers []func()
}

// Close releases pools and clients in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// builder lazily creates shared clients.
type builder struct {
	cfg     *config.Config
	awsCfg  *aws.Config
	ssm     SSMAPI
	rc      redis.UniversalClient
	closers []func()
}

func (b *builder) aws(ctx context.Context) (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}
	cfg, err := LoadAWS(ctx, b.cfg.AWS)
	if err != nil {
		return aws.Config{}, err
	}
	b.awsCfg = &cfg
	return cfg, nil
}

// secret resolves value or param, creating the SSM client only when needed.
func (b *builder) secret(ctx context.Context, value, param string) (string, error) {
	if value == "" && param != "" && b.ssm == nil {
		cfg, err := b.aws(ctx)
		if err != nil {
			return "", err
		}
		b.ssm = ssm.NewFromConfig(cfg)
	}
	return ResolveSecret(ctx, b.ssm, value, param)
}

func (b *builder) redis() redis.UniversalClient {
	if b.rc == nil {
		b.rc = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{b.cfg.Redis.Addr},
			Password: b.cfg.Redis.Password,
			DB:       b.cfg.Redis.DB,
		})
		b.closers = append(b.closers, logClose("redis", b.rc.Close))
	}
	return b.rc
}

// Build wires every service described by cfg. The transcription engine is
// created once here and shared by all consumers.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	b := &builder{cfg: cfg}
	svc, err := b.build(ctx)
	if err != nil {
		for i := len(b.closers) - 1; i >= 0; i-- {
			b.closers[i]()
		}
		return nil, err
	}
	svc.closers = b.closers
	return svc, nil
}

func (b *builder) build(ctx context.Context) (*Services, error) {
	cfg := b.cfg
	if err := os.MkdirAll(cfg.Worker.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	q, err := b.queue(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	store, err := b.store(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}
	reporter, err := b.reporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	transcoder := transcode.NewFFmpeg(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.Timeout, nil)
	if err := transcoder.Check(); err != nil {
		return nil, fmt.Errorf("transcoder: %w", err)
	}
	engine, err := b.engine(ctx)
	if err != nil {
		return nil, fmt.Errorf("transcription engine: %w", err)
	}
	summarizer, err := b.summarizer()
	if err != nil {
		return nil, fmt.Errorf("summarizer: %w", err)
	}

	emitter := metrics.Discard()
	if cfg.Metrics.Enabled {
		emitter = metrics.NewEmitter(cfg.Metrics.Namespace, os.Stdout)
	}

	exec, err := pipeline.New(pipeline.Options{
		Store:      store,
		Transcoder: transcoder,
		Engine:     engine,
		Summarizer: summarizer,
		Reporter:   reporter,
		ScratchDir: cfg.Worker.ScratchDir,
		ChunkSize:  cfg.Transcribe.ChunkSize,
		Metrics:    emitter,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Services{
		Queue:      q,
		Store:      store,
		Reporter:   reporter,
		Engine:     engine,
		Summarizer: summarizer,
		Transcoder: transcoder,
		Executor:   exec,
		Metrics:    emitter,
	}, nil
}

// BuildQueue wires only the queue, for producers such as the enqueue command.
func BuildQueue(ctx context.Context, cfg *config.Config) (JobQueue, func(), error) {
	b := &builder{cfg: cfg}
	q, err := b.queue(ctx)
	closeAll := func() {
		for i := len(b.closers) - 1; i >= 0; i-- {
			b.closers[i]()
		}
	}
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return q, closeAll, nil
}

// StatusDSN resolves the Postgres connection string, reading SSM if needed.
func StatusDSN(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Status.Backend != config.StatusPostgres {
		return "", fmt.Errorf("status backend is %s, not postgres", cfg.Status.Backend)
	}
	b := &builder{cfg: cfg}
	return b.secret(ctx, cfg.Status.DSN, cfg.Status.DSNParam)
}

func (b *builder) queue(ctx context.Context) (JobQueue, error) {
	c := b.cfg.Queue
	switch c.Backend {
	case config.QueueSQS:
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		return queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), queue.SQSOptions{
			URL:               c.URL,
			DeadLetterURL:     c.DeadLetterURL,
			WaitTime:          c.WaitTime,
			VisibilityTimeout: c.VisibilityTimeout,
		}), nil
	case config.QueueRedis:
		return queue.NewRedisQueue(ctx, b.redis(), queue.RedisOptions{
			Stream:           c.Stream,
			Group:            c.Group,
			Consumer:         c.Consumer,
			DeadLetterStream: c.DeadLetterStream,
			WaitTime:         c.WaitTime,
			ClaimIdle:        c.ClaimIdle,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

func (b *builder) store(ctx context.Context) (artifact.Store, error) {
	c := b.cfg.Artifacts
	switch c.Backend {
	case config.ArtifactsS3:
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = c.PathStyle
			if c.AccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")
			}
		})
		return artifact.NewS3Store(client, c.Bucket), nil
	case config.ArtifactsMinio:
		return artifact.NewMinioStore(c.Endpoint, c.AccessKey, c.SecretKey, c.Bucket, c.UseSSL)
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

func (b *builder) reporter(ctx context.Context) (status.Reporter, error) {
	c := b.cfg.Status
	switch c.Backend {
	case config.StatusPostgres:
		dsn, err := b.secret(ctx, c.DSN, c.DSNParam)
		if err != nil {
			return nil, err
		}
		pool, err := status.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		return status.New(status.NewPostgres(pool, c.Table)), nil
	case config.StatusDynamo:
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		return status.New(status.NewDynamo(dynamodb.NewFromConfig(awsCfg), c.Table)), nil
	case config.StatusRedis:
		return status.New(status.NewRedis(b.redis(), c.KeyPrefix)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

func (b *builder) engine(ctx context.Context) (transcribe.Engine, error) {
	c := b.cfg.Transcribe
	switch c.Backend {
	case config.TranscriberWhisper:
		return transcribe.NewWhisper(transcribe.WhisperOptions{
			BinaryPath: c.BinaryPath,
			ModelPath:  c.ModelPath,
			Language:   c.Language,
			Threads:    c.Threads,
			BeamSize:   c.BeamSize,
			SpoolDir:   b.cfg.Worker.ScratchDir,
		})
	case config.TranscriberGemini:
		key, err := b.secret(ctx, c.APIKey, c.APIKeyParam)
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, errors.New("no Gemini API key")
		}
		return transcribe.NewGemini(ctx, key, c.Model)
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

func (b *builder) summarizer() (summarize.Summarizer, error) {
	c := b.cfg.Summarize
	switch c.Backend {
	case config.SummarizerNLPCloud:
		return summarize.NewNLPCloud(summarize.NLPCloudOptions{
			BaseURL: c.BaseURL,
			Model:   c.Model,
			UseCPU:  c.UseCPU,
			Timeout: c.Timeout,
		})
	case config.SummarizerGemini:
		return summarize.NewGemini(c.Model), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// StartupLog describes cfg on a startup logger for name.
func StartupLog(name string, cfg *config.Config, initStart time.Time) *logging.StartupLogger {
	s := logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		Bucket("artifacts", cfg.Artifacts.Bucket).
		Backend("queue", cfg.Queue.Backend).
		Backend("artifacts", cfg.Artifacts.Backend).
		Backend("status", cfg.Status.Backend).
		Backend("transcriber", cfg.Transcribe.Backend).
		Backend("summarizer", cfg.Summarize.Backend).
		Feature("metrics", cfg.Metrics.Enabled).
		Feature("sentry", cfg.Sentry.DSN != "").
		Config("region", cfg.AWS.Region).
		Config("scratchDir", cfg.Worker.ScratchDir).
		Config("concurrency", fmt.Sprint(cfg.Worker.Concurrency)).
		Config("maxDeliveries", fmt.Sprint(cfg.Worker.MaxDeliveries)).
		Config("waitTime", cfg.Queue.WaitTime.String()).
		Config("chunkSize", fmt.Sprint(cfg.Transcribe.ChunkSize))

	switch cfg.Queue.Backend {
	case config.QueueSQS:
		s.Queue("jobs", cfg.Queue.URL)
		if cfg.Queue.DeadLetterURL != "" {
			s.Queue("deadLetter", cfg.Queue.DeadLetterURL)
		}
	case config.QueueRedis:
		s.Queue("jobs", cfg.Queue.Stream+"/"+cfg.Queue.Group)
		if cfg.Queue.DeadLetterStream != "" {
			s.Queue("deadLetter", cfg.Queue.DeadLetterStream)
		}
	}
	if cfg.Status.Backend != config.StatusRedis {
		s.Table("status", cfg.Status.Table)
	}
	if cfg.Status.DSNParam != "" {
		s.SSMParam("statusDsn", cfg.Status.DSNParam)
	}
	if cfg.Transcribe.APIKeyParam != "" {
		s.SSMParam("geminiApiKey", cfg.Transcribe.APIKeyParam)
	}
	if cfg.Transcribe.Backend == config.TranscriberWhisper {
		s.Config("whisperModel", cfg.Transcribe.ModelPath)
	} else {
		s.Config("transcribeModel", cfg.Transcribe.Model)
	}
	s.Config("summarizeModel", cfg.Summarize.Model)
	return s
}

// logClose is a closer that logs instead of returning an error.
func logClose(name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			log.Warn().Err(err).Str("resource", name).Msg("Close failed")
		}
	}
}
