// Package main is the SQS-triggered Lambda entry point. The event source
// mapping delivers batches of job messages; each record is handled by the
// same consumer the long-running worker uses, and records that still need
// redelivery are reported back as batch item failures.
//
// The event source mapping must enable ReportBatchItemFailures.
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-summary-worker/internal/bootstrap"
	"github.com/fpang/video-summary-worker/internal/config"
	"github.com/fpang/video-summary-worker/internal/logging"
	"github.com/fpang/video-summary-worker/internal/queue"
	"github.com/fpang/video-summary-worker/internal/worker"
)

// Set via -ldflags at build time.
var (
	commitHash = "dev"
	buildTime  = "unknown"
)

var coldStart = true

// Initialized at cold start.
var (
	consumer    *worker.Consumer
	flushSentry func()
)

// setup runs once per cold start, before the first invocation.
func setup() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load(logging.EnvOrDefault("SUMMARY_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Queue.Backend != config.QueueSQS {
		log.Fatal().Str("backend", cfg.Queue.Backend).Msg("The Lambda entry point requires the sqs queue backend")
	}
	logging.InitWith(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	flushSentry, err = bootstrap.InitSentry(cfg.Sentry, commitHash)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise Sentry")
	}

	svc, err := bootstrap.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build services")
	}

	consumer, err = worker.New(worker.Options{
		Name:      "summary-lambda",
		Queue:     batchQueue{svc.Queue},
		Runner:    svc.Executor,
		Reporter:  svc.Reporter,
		Policy:    bootstrap.Policy(cfg),
		OnFailure: bootstrap.ReportFailure,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create consumer")
	}

	bootstrap.StartupLog("summary-lambda", cfg, initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Backend("engine", svc.Engine.Name()).
		Log()
}

func main() {
	setup()
	lambda.Start(handler)
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "summary-lambda").Msg("Cold start, first invocation")
	}
	defer flushSentry()
	return handleBatch(ctx, consumer, event), nil
}

// handleBatch runs each record in order and lists the ones that were not
// settled so Lambda leaves them on the queue.
func handleBatch(ctx context.Context, c *worker.Consumer, event events.SQSEvent) events.SQSEventResponse {
	resp := events.SQSEventResponse{}
	for _, rec := range event.Records {
		outcome := c.Handle(ctx, toMessage(rec))
		log.Debug().Str("messageId", rec.MessageId).Stringer("outcome", outcome).Msg("Record handled")
		if !outcome.Done() {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	log.Info().
		Int("records", len(event.Records)).
		Int("failures", len(resp.BatchItemFailures)).
		Msg("Batch handled")
	return resp
}

func toMessage(rec events.SQSMessage) *queue.Message {
	deliveries, err := strconv.Atoi(rec.Attributes["ApproximateReceiveCount"])
	if err != nil || deliveries < 1 {
		deliveries = 1
	}
	return &queue.Message{
		ID:         rec.MessageId,
		Body:       []byte(rec.Body),
		Handle:     rec.ReceiptHandle,
		Deliveries: deliveries,
	}
}

// batchQueue leaves successful records to the event source mapping, which
// deletes everything not reported as a batch item failure.
type batchQueue struct {
	queue.Queue
}

func (batchQueue) Ack(context.Context, *queue.Message) error { return nil }
