package transcribe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/fpang/video-summary-worker/internal/audio"
)

// recordingEngine collects fed chunk sizes.
type recordingEngine struct {
	chunks   []int
	closed   bool
	feedErr  error
	finalErr error
}

func (e *recordingEngine) Name() string { return "recording" }

func (e *recordingEngine) NewStream() (Stream, error) { return &recordingStream{e: e}, nil }

type recordingStream struct{ e *recordingEngine }

func (s *recordingStream) Feed(pcm []byte) error {
	s.e.chunks = append(s.e.chunks, len(pcm))
	return s.e.feedErr
}

func (s *recordingStream) Finish(context.Context) (string, error) {
	return "done", s.e.finalErr
}

func (s *recordingStream) Close() error {
	s.e.closed = true
	return nil
}

func TestTranscribe_ChunksAreBounded(t *testing.T) {
	e := &recordingEngine{}
	text, err := Transcribe(context.Background(), e, bytes.NewReader(make([]byte, 10)), 4)
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if text != "done" {
		t.Errorf("text = %q", text)
	}
	want := []int{4, 4, 2}
	if len(e.chunks) != len(want) {
		t.Fatalf("chunks = %v, want %v", e.chunks, want)
	}
	for i := range want {
		if e.chunks[i] != want[i] {
			t.Errorf("chunk %d = %d, want %d", i, e.chunks[i], want[i])
		}
	}
	if !e.closed {
		t.Error("stream should be closed")
	}
}

func TestTranscribe_FeedErrorClosesStream(t *testing.T) {
	e := &recordingEngine{feedErr: ErrRecognition}
	_, err := Transcribe(context.Background(), e, bytes.NewReader(make([]byte, 10)), 4)
	if !errors.Is(err, ErrRecognition) {
		t.Fatalf("expected ErrRecognition, got %v", err)
	}
	if !e.closed {
		t.Error("stream should be closed after a feed error")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Transcribe(ctx, &recordingEngine{}, bytes.NewReader(make([]byte, 10)), 4)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTranscribe_RejectsZeroChunk(t *testing.T) {
	if _, err := Transcribe(context.Background(), &recordingEngine{}, bytes.NewReader(nil), 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
}

// --- whisper ---

type fakeRunner struct {
	out     string
	err     error
	args    []string
	spooled []byte
}

func (r *fakeRunner) Run(_ context.Context, _ string, args ...string) (string, error) {
	r.args = args
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-f" {
			r.spooled, _ = os.ReadFile(args[i+1])
		}
	}
	return r.out, r.err
}

func newTestWhisper(t *testing.T, runner *fakeRunner) (*Whisper, string) {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-tiny.bin")
	os.WriteFile(model, []byte("model"), 0o644)
	spool := filepath.Join(dir, "spool")
	os.Mkdir(spool, 0o755)
	w, err := NewWhisper(WhisperOptions{
		BinaryPath: "whisper-cli",
		ModelPath:  model,
		Language:   "en",
		BeamSize:   500,
		SpoolDir:   spool,
		Runner:     runner,
	})
	if err != nil {
		t.Fatalf("NewWhisper error: %v", err)
	}
	return w, spool
}

func TestWhisper_StreamProducesValidWAV(t *testing.T) {
	runner := &fakeRunner{out: "\n Hello there.\n General Kenobi.\n"}
	w, spool := newTestWhisper(t, runner)

	text, err := Transcribe(context.Background(), w, bytes.NewReader([]byte{1, 0, 2, 0, 3, 0}), 4)
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if text != "Hello there. General Kenobi." {
		t.Errorf("text = %q", text)
	}

	h, err := audio.ReadHeader(bytes.NewReader(runner.spooled))
	if err != nil {
		t.Fatalf("spooled file is not WAV: %v", err)
	}
	if h.Format != audio.SpeechFormat || h.DataSize != 6 {
		t.Errorf("spooled header = %+v", h)
	}
	if !strings.Contains(strings.Join(runner.args, " "), "-bs 500") {
		t.Errorf("beam size not passed: %v", runner.args)
	}

	entries, _ := os.ReadDir(spool)
	if len(entries) != 0 {
		t.Errorf("spool dir should be empty after close, has %d entries", len(entries))
	}
}

func TestWhisper_EmptyAudioSkipsBinary(t *testing.T) {
	runner := &fakeRunner{out: "should not run"}
	w, _ := newTestWhisper(t, runner)

	text, err := Transcribe(context.Background(), w, bytes.NewReader(nil), 4)
	if err != nil || text != "" {
		t.Errorf("Transcribe(empty) = (%q, %v), want empty", text, err)
	}
	if runner.args != nil {
		t.Error("whisper should not run without samples")
	}
}

func TestWhisper_FailureCleansSpool(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	w, spool := newTestWhisper(t, runner)

	_, err := Transcribe(context.Background(), w, bytes.NewReader([]byte{1, 0}), 4)
	if !errors.Is(err, ErrRecognition) {
		t.Fatalf("expected ErrRecognition, got %v", err)
	}
	entries, _ := os.ReadDir(spool)
	if len(entries) != 0 {
		t.Errorf("spool dir should be empty after failure, has %d entries", len(entries))
	}
}

func TestNewWhisper_MissingModel(t *testing.T) {
	_, err := NewWhisper(WhisperOptions{ModelPath: filepath.Join(t.TempDir(), "nope.bin"), Runner: &fakeRunner{}})
	if err == nil {
		t.Error("expected error for missing model")
	}
}

// --- gemini ---

type fakeGenerator struct {
	text     string
	err      error
	model    string
	contents []*genai.Content
}

func (g *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.model = model
	g.contents = contents
	if g.err != nil {
		return nil, g.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: g.text}}},
	}}}, nil
}

func TestGemini_SendsWAVBlob(t *testing.T) {
	gen := &fakeGenerator{text: "  hello world \n"}
	g := NewGeminiWith(gen, "gemini-2.5-flash")

	text, err := Transcribe(context.Background(), g, bytes.NewReader([]byte{1, 0, 2, 0}), 2)
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if gen.model != "gemini-2.5-flash" {
		t.Errorf("model = %q", gen.model)
	}
	blob := gen.contents[0].Parts[0].InlineData
	if blob == nil || blob.MIMEType != "audio/wav" {
		t.Fatalf("first part should be a WAV blob, got %+v", gen.contents[0].Parts[0])
	}
	h, err := audio.ReadHeader(bytes.NewReader(blob.Data))
	if err != nil || h.DataSize != 4 {
		t.Errorf("blob header = %+v, %v", h, err)
	}
}

func TestGemini_ErrorWraps(t *testing.T) {
	g := NewGeminiWith(&fakeGenerator{err: errors.New("429 resource exhausted")}, "m")
	_, err := Transcribe(context.Background(), g, bytes.NewReader([]byte{1, 0}), 2)
	if !errors.Is(err, ErrRecognition) {
		t.Errorf("expected ErrRecognition, got %v", err)
	}
}

func TestGemini_InlineLimit(t *testing.T) {
	s, _ := NewGeminiWith(&fakeGenerator{}, "m").NewStream()
	defer s.Close()
	if err := s.Feed(make([]byte, maxInlineAudio+1)); !errors.Is(err, ErrRecognition) {
		t.Errorf("expected ErrRecognition for oversized audio, got %v", err)
	}
}
