package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-summary-worker/internal/config"
	"github.com/fpang/video-summary-worker/internal/jobs"
	"github.com/fpang/video-summary-worker/internal/pipeline"
	"github.com/fpang/video-summary-worker/internal/worker"
)

// InitSentry enables error reporting when a DSN is configured. The returned
// func flushes buffered events and is safe to call when Sentry is disabled.
func InitSentry(c config.SentryConfig, release string) (func(), error) {
	if c.DSN == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         c.DSN,
		Environment: c.Environment,
		Release:     release,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	log.Debug().Str("environment", c.Environment).Msg("Sentry enabled")
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// ReportFailure sends a failed job to Sentry tagged with its id and the
// stage that failed. It is a no-op when Sentry was never initialised.
func ReportFailure(job jobs.Job, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("jobId", job.ID)
		var se *pipeline.StageError
		if errors.As(err, &se) {
			scope.SetTag("stage", se.Stage)
		}
		sentry.CaptureException(err)
	})
}

// Policy maps worker settings onto the consumer's redelivery policy.
func Policy(cfg *config.Config) worker.Policy {
	return worker.Policy{
		MaxDeliveries: cfg.Worker.MaxDeliveries,
		RetryBackoff:  cfg.Worker.RetryBackoff,
		MaxBackoff:    cfg.Worker.MaxBackoff,
		ErrorPause:    cfg.Queue.ErrorPause,
	}
}
