// Package worker is the queue-consuming main loop. It receives one message
// at a time, hands the job to a Runner and acknowledges only on success.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-summary-worker/internal/jobs"
	"github.com/fpang/video-summary-worker/internal/queue"
	"github.com/fpang/video-summary-worker/internal/status"
)

// Runner executes one job; nil means success.
type Runner interface {
	Run(ctx context.Context, job jobs.Job) error
}

// Policy controls redelivery of failing messages.
type Policy struct {
	// MaxDeliveries dead-letters a message once it has been delivered more
	// times than this. Zero means unlimited.
	MaxDeliveries int
	// RetryBackoff releases a failed message after RetryBackoff*deliveries
	// instead of waiting for the queue's visibility timeout. Zero disables.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// ErrorPause is slept after a receive error.
	ErrorPause time.Duration
}

// Backoff returns the release delay for a message on its n-th delivery.
func (p Policy) Backoff(deliveries int) time.Duration {
	if p.RetryBackoff <= 0 {
		return 0
	}
	if deliveries < 1 {
		deliveries = 1
	}
	d := p.RetryBackoff * time.Duration(deliveries)
	if p.MaxBackoff > 0 && (d > p.MaxBackoff || d < 0) {
		d = p.MaxBackoff
	}
	return d
}

func (p Policy) exhausted(deliveries int) bool {
	return p.MaxDeliveries > 0 && deliveries > p.MaxDeliveries
}

// Outcome is what happened to a handled message.
type Outcome int

const (
	// Acked means the job succeeded and the message was removed.
	Acked Outcome = iota
	// Abandoned means the job failed and the message is left for redelivery.
	Abandoned
	// Released means the job failed and the message was rescheduled.
	Released
	// Rejected means the body was malformed; the message is not acked.
	Rejected
	// DeadLettered means the message exceeded MaxDeliveries.
	DeadLettered
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Abandoned:
		return "abandoned"
	case Released:
		return "released"
	case Rejected:
		return "rejected"
	case DeadLettered:
		return "dead_lettered"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Done reports whether the message no longer needs redelivery.
func (o Outcome) Done() bool { return o == Acked || o == DeadLettered }

// Options wires a Consumer.
type Options struct {
	Name     string
	Queue    queue.Queue
	Runner   Runner
	Reporter status.Reporter
	Policy   Policy
	// OnFailure is called after a job fails, e.g. to report to Sentry.
	OnFailure func(job jobs.Job, err error)
}

// Consumer processes messages from one queue sequentially.
type Consumer struct {
	name      string
	queue     queue.Queue
	runner    Runner
	reporter  status.Reporter
	policy    Policy
	onFailure func(jobs.Job, error)
	logger    zerolog.Logger
}

// New validates opts and returns a Consumer.
func New(opts Options) (*Consumer, error) {
	if opts.Queue == nil || opts.Runner == nil || opts.Reporter == nil {
		return nil, errors.New("worker: queue, runner and reporter are required")
	}
	if opts.Name == "" {
		opts.Name = "consumer-0"
	}
	return &Consumer{
		name:      opts.Name,
		queue:     opts.Queue,
		runner:    opts.Runner,
		reporter:  opts.Reporter,
		policy:    opts.Policy,
		onFailure: opts.OnFailure,
		logger:    log.With().Str("consumer", opts.Name).Logger(),
	}, nil
}

// Run polls until ctx is cancelled and returns nil. A job that is already
// running when ctx is cancelled is finished before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("Consumer started")
	defer c.logger.Info().Msg("Consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := c.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Dur("pause", c.policy.ErrorPause).Msg("Failed to receive message")
			if !sleep(ctx, c.policy.ErrorPause) {
				return nil
			}
			continue
		}
		if msg == nil {
			continue
		}
		c.Handle(context.WithoutCancel(ctx), msg)
	}
}

// Handle processes one delivered message and settles it with the queue.
func (c *Consumer) Handle(ctx context.Context, msg *queue.Message) Outcome {
	logger := c.logger.With().Str("messageId", msg.ID).Int("deliveries", msg.Deliveries).Logger()

	job, parseErr := jobs.ParseMessage(msg.Body)
	if c.policy.exhausted(msg.Deliveries) {
		return c.deadLetter(ctx, logger, msg, job, parseErr)
	}
	if parseErr != nil {
		logger.Error().Err(parseErr).Msg("Rejected malformed job message")
		return Rejected
	}

	logger = logger.With().Str("jobId", job.ID).Logger()
	if err := c.runner.Run(ctx, job); err != nil {
		if c.onFailure != nil {
			c.onFailure(job, err)
		}
		delay := c.policy.Backoff(msg.Deliveries)
		if delay <= 0 {
			logger.Warn().Err(err).Msg("Job failed, leaving message for redelivery")
			return Abandoned
		}
		if rerr := c.queue.Release(ctx, msg, delay); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to release message")
			return Abandoned
		}
		logger.Warn().Err(err).Dur("retryIn", delay).Msg("Job failed, message released for retry")
		return Released
	}

	if err := c.queue.Ack(ctx, msg); err != nil {
		// The job is complete; a redelivery will overwrite the same keys.
		logger.Error().Err(err).Msg("Failed to acknowledge message")
		return Abandoned
	}
	logger.Info().Msg("Message acknowledged")
	return Acked
}

func (c *Consumer) deadLetter(ctx context.Context, logger zerolog.Logger, msg *queue.Message, job jobs.Job, parseErr error) Outcome {
	reason := fmt.Sprintf("exceeded %d deliveries", c.policy.MaxDeliveries)
	if parseErr != nil {
		reason += ": " + parseErr.Error()
	} else if err := c.reporter.SetFailed(ctx, job.ID); err != nil {
		logger.Error().Err(err).Str("jobId", job.ID).Msg("Failed to record failed status before dead-lettering")
		return Abandoned
	}
	if err := c.queue.DeadLetter(ctx, msg, reason); err != nil {
		logger.Error().Err(err).Msg("Failed to dead-letter message")
		return Abandoned
	}
	logger.Warn().Str("jobId", job.ID).Str("reason", reason).Msg("Message dead-lettered")
	return DeadLettered
}

// sleep waits d or until ctx is done; it reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
