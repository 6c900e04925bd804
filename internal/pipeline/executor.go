// Package pipeline runs one video job through its stages: fetch, audio
// extraction, transcription, summarization, persistence and status report.
// Scratch files are removed whatever the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/video-summary-worker/internal/artifact"
	"github.com/fpang/video-summary-worker/internal/audio"
	"github.com/fpang/video-summary-worker/internal/jobs"
	"github.com/fpang/video-summary-worker/internal/metrics"
	"github.com/fpang/video-summary-worker/internal/status"
	"github.com/fpang/video-summary-worker/internal/summarize"
	"github.com/fpang/video-summary-worker/internal/transcode"
	"github.com/fpang/video-summary-worker/internal/transcribe"
)

// Stage names, in execution order. StageReport covers both status writes.
const (
	StageReport     = "report"
	StageFetch      = "fetch"
	StageExtract    = "extract_audio"
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"
	StagePersist    = "persist"
)

// StageError reports which stage of which job failed.
type StageError struct {
	Stage string
	JobID string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("job %s: stage %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options wires an Executor.
type Options struct {
	Store      artifact.Store
	Transcoder transcode.Transcoder
	Engine     transcribe.Engine
	Summarizer summarize.Summarizer
	Reporter   status.Reporter
	ScratchDir string
	ChunkSize  int
	Metrics    *metrics.Emitter
}

// Executor runs jobs. It holds no per-job state and may be shared by
// concurrent consumers.
type Executor struct {
	store      artifact.Store
	transcoder transcode.Transcoder
	engine     transcribe.Engine
	summarizer summarize.Summarizer
	reporter   status.Reporter
	scratchDir string
	chunkSize  int
	metrics    *metrics.Emitter
}

// New checks the wiring and creates the scratch directory.
func New(opts Options) (*Executor, error) {
	var errs []error
	if opts.Store == nil {
		errs = append(errs, errors.New("artifact store is required"))
	}
	if opts.Transcoder == nil {
		errs = append(errs, errors.New("transcoder is required"))
	}
	if opts.Engine == nil {
		errs = append(errs, errors.New("transcription engine is required"))
	}
	if opts.Summarizer == nil {
		errs = append(errs, errors.New("summarizer is required"))
	}
	if opts.Reporter == nil {
		errs = append(errs, errors.New("status reporter is required"))
	}
	if opts.ScratchDir == "" {
		errs = append(errs, errors.New("scratch dir is required"))
	}
	if opts.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := os.MkdirAll(opts.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	return &Executor{
		store:      opts.Store,
		transcoder: opts.Transcoder,
		engine:     opts.Engine,
		summarizer: opts.Summarizer,
		reporter:   opts.Reporter,
		scratchDir: opts.ScratchDir,
		chunkSize:  opts.ChunkSize,
		metrics:    opts.Metrics,
	}, nil
}

// Run executes job. A nil error means the summary is stored and the job
// record says completed. On failure the record is set to failed (best
// effort) and a *StageError is returned.
func (e *Executor) Run(ctx context.Context, job jobs.Job) error {
	start := time.Now()
	ws := newWorkspace(e.scratchDir)
	defer ws.cleanup(job.ID)

	rec := e.metrics.New().
		Dimension("Engine", e.engine.Name()).
		Property("jobId", job.ID)

	logger := log.With().Str("jobId", job.ID).Logger()
	logger.Info().Str("videoPath", job.VideoPath).Msg("Job started")

	stage, err := e.run(ctx, job, ws, rec)
	rec.Duration("JobMs", time.Since(start))
	if err != nil {
		logger.Error().Err(err).Str("stage", stage).Dur("duration", time.Since(start)).Msg("Job failed")
		if ferr := e.reporter.SetFailed(ctx, job.ID); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to record failed status")
			err = errors.Join(err, ferr)
		}
		rec.Count("JobFailed").Property("failedStage", stage).Flush()
		return &StageError{Stage: stage, JobID: job.ID, Err: err}
	}

	rec.Count("JobCompleted").Flush()
	logger.Info().
		Str("summaryKey", jobs.SummaryKey(job.ID)).
		Dur("duration", time.Since(start)).
		Msg("Job completed")
	return nil
}

// run performs the stages and returns the name of the failing one.
func (e *Executor) run(ctx context.Context, job jobs.Job, ws *workspace, rec *metrics.Recorder) (string, error) {
	timed := func(stage string, fn func() error) error {
		t := time.Now()
		err := fn()
		rec.Duration(stageMetric(stage), time.Since(t))
		log.Debug().Str("jobId", job.ID).Str("stage", stage).Dur("duration", time.Since(t)).Bool("ok", err == nil).Msg("Stage finished")
		return err
	}

	if err := e.reporter.SetProcessing(ctx, job.ID); err != nil {
		return StageReport, err
	}

	videoPath := ws.path("video" + sourceExt(job.VideoPath))
	if err := timed(StageFetch, func() error {
		return e.store.Download(ctx, job.VideoPath, videoPath)
	}); err != nil {
		return StageFetch, err
	}

	audioPath := ws.path("audio.wav")
	if err := timed(StageExtract, func() error {
		return e.transcoder.ExtractAudio(ctx, videoPath, audioPath)
	}); err != nil {
		return StageExtract, err
	}

	var transcript string
	if err := timed(StageTranscribe, func() error {
		r, err := audio.Open(audioPath, audio.SpeechFormat)
		if err != nil {
			return err
		}
		defer r.Close()
		transcript, err = transcribe.Transcribe(ctx, e.engine, r, e.chunkSize)
		return err
	}); err != nil {
		return StageTranscribe, err
	}
	rec.Metric("TranscriptChars", float64(len(transcript)), metrics.UnitCount)

	var summary string
	if err := timed(StageSummarize, func() error {
		var err error
		summary, err = e.summarizer.Summarize(ctx, transcript, job.APIKey)
		return err
	}); err != nil {
		return StageSummarize, err
	}

	if err := timed(StagePersist, func() error {
		if err := e.persist(ctx, ws, jobs.TranscriptKey(job.ID), "transcription.txt", transcript); err != nil {
			return err
		}
		return e.persist(ctx, ws, jobs.SummaryKey(job.ID), "summary.txt", summary)
	}); err != nil {
		return StagePersist, err
	}

	if err := e.reporter.SetCompleted(ctx, job.ID, jobs.SummaryKey(job.ID)); err != nil {
		return StageReport, err
	}
	return "", nil
}

// persist writes text to a scratch file and uploads it to key.
func (e *Executor) persist(ctx context.Context, ws *workspace, key, suffix, text string) error {
	local := ws.path(suffix)
	if err := os.WriteFile(local, []byte(text), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", suffix, err)
	}
	if err := e.store.Upload(ctx, key, local, artifact.ContentTypeText); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func stageMetric(stage string) string {
	switch stage {
	case StageFetch:
		return "FetchMs"
	case StageExtract:
		return "ExtractAudioMs"
	case StageTranscribe:
		return "TranscribeMs"
	case StageSummarize:
		return "SummarizeMs"
	case StagePersist:
		return "PersistMs"
	default:
		return "StageMs"
	}
}
