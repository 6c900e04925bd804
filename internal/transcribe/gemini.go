package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/video-summary-worker/internal/audio"
)

// maxInlineAudio keeps a request under the Gemini inline payload limit.
// At 32 KB/s this is a little under ten minutes of speech.
const maxInlineAudio = 19 * 1024 * 1024

const transcriptionPrompt = "Transcribe the speech in this audio verbatim. " +
	"Return only the transcript as plain text, without timestamps, speaker labels or commentary. " +
	"If there is no speech, return an empty response."

// Generator is the Gemini content API; *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini transcribes by sending the session audio to a Gemini model.
type Gemini struct {
	models Generator
	model  string
}

var _ Engine = (*Gemini)(nil)

// NewGemini builds the Gemini client once with the worker's own API key.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return NewGeminiWith(client.Models, model), nil
}

// NewGeminiWith wraps an existing generator.
func NewGeminiWith(models Generator, model string) *Gemini {
	return &Gemini{models: models, model: model}
}

// Name identifies the backend.
func (g *Gemini) Name() string { return "gemini" }

// NewStream starts a buffered session.
func (g *Gemini) NewStream() (Stream, error) {
	return &geminiStream{engine: g}, nil
}

type geminiStream struct {
	engine *Gemini
	pcm    bytes.Buffer
	done   bool
}

func (s *geminiStream) Feed(pcm []byte) error {
	if s.done {
		return fmt.Errorf("%w: feed after finish", ErrRecognition)
	}
	if s.pcm.Len()+len(pcm) > maxInlineAudio {
		return fmt.Errorf("%w: audio exceeds %d bytes inline limit", ErrRecognition, maxInlineAudio)
	}
	s.pcm.Write(pcm)
	return nil
}

func (s *geminiStream) Finish(ctx context.Context) (string, error) {
	if s.done {
		return "", fmt.Errorf("%w: stream already finished", ErrRecognition)
	}
	s.done = true
	if s.pcm.Len() == 0 {
		return "", nil
	}

	var wav bytes.Buffer
	wav.Grow(s.pcm.Len() + 44)
	if err := audio.WriteHeader(&wav, audio.SpeechFormat, uint32(s.pcm.Len())); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	wav.Write(s.pcm.Bytes())

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: wav.Bytes()}},
			{Text: transcriptionPrompt},
		},
	}}

	start := time.Now()
	resp, err := s.engine.models.GenerateContent(ctx, s.engine.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: empty response from Gemini", ErrRecognition)
	}
	text := strings.TrimSpace(resp.Text())
	log.Debug().
		Str("model", s.engine.model).
		Int("audio_bytes", s.pcm.Len()).
		Int("transcript_length", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Gemini transcription received")
	return text, nil
}

func (s *geminiStream) Close() error {
	s.done = true
	s.pcm.Reset()
	return nil
}
