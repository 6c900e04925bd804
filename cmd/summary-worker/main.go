// Command summary-worker consumes video jobs from the queue and runs each
// through transcription and summarization. It also enqueues test jobs and
// applies the status table migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/video-summary-worker/internal/bootstrap"
	"github.com/fpang/video-summary-worker/internal/config"
	"github.com/fpang/video-summary-worker/internal/jobs"
	"github.com/fpang/video-summary-worker/internal/logging"
	"github.com/fpang/video-summary-worker/internal/status"
	"github.com/fpang/video-summary-worker/internal/worker"
)

// Set via -ldflags at build time.
var (
	commitHash = "dev"
	buildTime  = "unknown"
)

// CLI flags
var (
	configFlag   string
	logLevelFlag string

	videoPathFlag string
	videoIDFlag   string
	apiKeyFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "summary-worker",
	Short: "Transcribe and summarize uploaded videos from a job queue",
	Long: `Summary Worker long-polls a job queue for {videoPath, videoId, apiKey}
messages. For each job it downloads the video, extracts mono 16 kHz audio,
transcribes it, summarizes the transcript with the caller's API key, uploads
both texts and marks the video completed. Messages are acknowledged only
after the whole pipeline succeeds.

Configuration comes from an optional YAML file plus SUMMARY_* environment
variables.

Examples:
  summary-worker run --config worker.yaml
  summary-worker enqueue --video-path videos/a.mp4 --video-id 1b4e... --api-key $KEY
  summary-worker migrate --config worker.yaml`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume jobs until interrupted",
	RunE:  runWorker,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Send one job message to the queue",
	RunE:  runEnqueue,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres status table migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", os.Getenv("SUMMARY_CONFIG"), "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	enqueueCmd.Flags().StringVar(&videoPathFlag, "video-path", "", "Object key of the uploaded video")
	enqueueCmd.Flags().StringVar(&videoIDFlag, "video-id", "", "Video identifier")
	enqueueCmd.Flags().StringVar(&apiKeyFlag, "api-key", os.Getenv("SUMMARY_API_KEY"), "Summarization API key for this job")
	_ = enqueueCmd.MarkFlagRequired("video-path")
	_ = enqueueCmd.MarkFlagRequired("video-id")

	rootCmd.AddCommand(runCmd, enqueueCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config and initialises logging from it.
func loadConfig() (*config.Config, error) {
	logging.Init()
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	logging.InitWith(level, cfg.Logging.Format, os.Stderr)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runWorker(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	flush, err := bootstrap.InitSentry(cfg.Sentry, commitHash)
	if err != nil {
		return err
	}
	defer flush()

	svc, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	pool, err := worker.NewPool(cfg.Worker.Concurrency, worker.Options{
		Queue:     svc.Queue,
		Runner:    svc.Executor,
		Reporter:  svc.Reporter,
		Policy:    bootstrap.Policy(cfg),
		OnFailure: bootstrap.ReportFailure,
	})
	if err != nil {
		return err
	}

	bootstrap.StartupLog("summary-worker", cfg, initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Backend("engine", svc.Engine.Name()).
		Log()

	if err := pool.Run(ctx); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	job := jobs.Job{ID: videoIDFlag, VideoPath: videoPathFlag, APIKey: apiKeyFlag}
	body, err := job.Encode()
	if err != nil {
		return err
	}
	// Validate the same way a consumer will.
	if _, err := jobs.ParseMessage(body); err != nil {
		return err
	}

	q, closeQueue, err := bootstrap.BuildQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	id, err := q.Send(ctx, body)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	log.Info().Object("job", job).Str("messageId", id).Msg("Job enqueued")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	dsn, err := bootstrap.StatusDSN(ctx, cfg)
	if err != nil {
		return err
	}
	if err := status.Migrate(ctx, dsn); err != nil {
		return err
	}
	log.Info().Msg("Migrations applied")
	return nil
}
