package transcribe

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-summary-worker/internal/audio"
	"github.com/fpang/video-summary-worker/internal/command"
)

// WhisperOptions configures a whisper.cpp engine.
type WhisperOptions struct {
	BinaryPath string
	ModelPath  string
	Language   string
	Threads    int
	BeamSize   int
	// SpoolDir holds per-stream temporary WAV files.
	SpoolDir string
	Runner   command.Runner
}

// Whisper runs the whisper.cpp CLI. The model file is checked once at
// construction; settings are immutable afterwards.
type Whisper struct {
	opts WhisperOptions
}

var _ Engine = (*Whisper)(nil)

// NewWhisper validates the model and binary and returns the engine.
func NewWhisper(opts WhisperOptions) (*Whisper, error) {
	info, err := os.Stat(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper model: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, fmt.Errorf("whisper model %s is not a model file", opts.ModelPath)
	}
	if opts.Runner == nil {
		opts.Runner = command.ExecRunner{}
		if _, err := command.LookPath(opts.BinaryPath); err != nil {
			return nil, err
		}
	}
	if opts.SpoolDir == "" {
		opts.SpoolDir = os.TempDir()
	}
	if opts.Threads <= 0 {
		opts.Threads = 4
	}
	if opts.BeamSize <= 0 {
		opts.BeamSize = 5
	}
	log.Info().
		Str("model", opts.ModelPath).
		Int64("model_size_bytes", info.Size()).
		Str("language", opts.Language).
		Int("beam_size", opts.BeamSize).
		Msg("Whisper model ready")
	return &Whisper{opts: opts}, nil
}

// Name identifies the backend.
func (w *Whisper) Name() string { return "whisper" }

// NewStream opens a spool file for the session's samples.
func (w *Whisper) NewStream() (Stream, error) {
	path := filepath.Join(w.opts.SpoolDir, uuid.NewString()+"-stream.wav")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	// Placeholder header, rewritten with the real size in Finish.
	if err := audio.WriteHeader(f, audio.SpeechFormat, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write spool header: %w", err)
	}
	return &whisperStream{engine: w, path: path, f: f}, nil
}

type whisperStream struct {
	engine *Whisper
	path   string
	f      *os.File
	size   uint32
	closed bool
}

func (s *whisperStream) Feed(pcm []byte) error {
	if s.f == nil {
		return fmt.Errorf("%w: feed after finish", ErrRecognition)
	}
	if _, err := s.f.Write(pcm); err != nil {
		return fmt.Errorf("%w: spool: %v", ErrRecognition, err)
	}
	s.size += uint32(len(pcm))
	return nil
}

func (s *whisperStream) Finish(ctx context.Context) (string, error) {
	if s.f == nil {
		return "", fmt.Errorf("%w: stream already finished", ErrRecognition)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: spool: %v", ErrRecognition, err)
	}
	if err := audio.WriteHeader(s.f, audio.SpeechFormat, s.size); err != nil {
		return "", fmt.Errorf("%w: spool: %v", ErrRecognition, err)
	}
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return "", fmt.Errorf("%w: spool: %v", ErrRecognition, err)
	}
	if s.size == 0 {
		return "", nil
	}

	o := s.engine.opts
	args := []string{
		"-m", o.ModelPath,
		"-f", s.path,
		"-l", o.Language,
		"-t", strconv.Itoa(o.Threads),
		"-bs", strconv.Itoa(o.BeamSize),
		"-nt", // no timestamps
		"-np", // results only
	}
	out, err := o.Runner.Run(ctx, o.BinaryPath, args...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	return normalizeTranscript(out), nil
}

func (s *whisperStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", s.path).Msg("Failed to remove whisper spool file")
		return err
	}
	return nil
}

// normalizeTranscript joins whisper's per-segment lines into one paragraph.
func normalizeTranscript(out string) string {
	lines := strings.Split(out, "\n")
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}
