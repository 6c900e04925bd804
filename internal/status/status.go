// Package status writes the terminal state of a job to the shared job
// record. Every write is a blind keyed update: the last writer wins and
// repeating a write is harmless.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/video-summary-worker/internal/jobs"
)

// Reporter records job progress.
type Reporter interface {
	SetProcessing(ctx context.Context, id string) error
	SetCompleted(ctx context.Context, id, summaryKey string) error
	SetFailed(ctx context.Context, id string) error
}

// Update is a single status write.
type Update struct {
	ID     string
	Status jobs.Status
	// SummaryKey is set only for completed jobs.
	SummaryKey string
	At         time.Time
}

// Writer applies an Update to a backend.
type Writer interface {
	Write(ctx context.Context, u Update) error
	Name() string
}

// ErrMissingID is returned when a write has no job id.
var ErrMissingID = errors.New("job id is required")

type reporter struct {
	w   Writer
	now func() time.Time
}

// New returns a Reporter backed by w.
func New(w Writer) Reporter {
	return &reporter{w: w, now: time.Now}
}

func (r *reporter) SetProcessing(ctx context.Context, id string) error {
	return r.write(ctx, Update{ID: id, Status: jobs.StatusProcessing})
}

func (r *reporter) SetCompleted(ctx context.Context, id, summaryKey string) error {
	if summaryKey == "" {
		return fmt.Errorf("set completed %s: summary key is required", id)
	}
	return r.write(ctx, Update{ID: id, Status: jobs.StatusCompleted, SummaryKey: summaryKey})
}

func (r *reporter) SetFailed(ctx context.Context, id string) error {
	return r.write(ctx, Update{ID: id, Status: jobs.StatusFailed})
}

func (r *reporter) write(ctx context.Context, u Update) error {
	if u.ID == "" {
		return ErrMissingID
	}
	u.At = r.now().UTC()
	if err := r.w.Write(ctx, u); err != nil {
		return fmt.Errorf("set %s %s via %s: %w", u.Status, u.ID, r.w.Name(), err)
	}
	log.Debug().
		Str("jobId", u.ID).
		Str("status", string(u.Status)).
		Str("backend", r.w.Name()).
		Msg("Job status updated")
	return nil
}
