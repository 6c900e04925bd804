package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const summaryPrompt = `Summarize the following video transcript in one short paragraph.
Keep the speaker's main points and any conclusions. Do not add information that is not in the transcript.
Return only the summary text.

Transcript:
`

// Generator is the Gemini content API; *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ClientFactory builds a Generator for a credential.
type ClientFactory func(ctx context.Context, apiKey string) (Generator, error)

// Gemini summarizes with a Gemini model, authenticating as the job owner.
type Gemini struct {
	model     string
	newClient ClientFactory
}

var _ Summarizer = (*Gemini)(nil)

// NewGemini returns a summarizer that builds a genai client per call.
func NewGemini(model string) *Gemini {
	return NewGeminiWith(model, func(ctx context.Context, apiKey string) (Generator, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, err
		}
		return client.Models, nil
	})
}

// NewGeminiWith uses factory to obtain clients.
func NewGeminiWith(model string, factory ClientFactory) *Gemini {
	return &Gemini{model: model, newClient: factory}
}

// Summarize sends the transcript with a summary prompt.
func (g *Gemini) Summarize(ctx context.Context, text, credential string) (string, error) {
	if err := checkInput(text, credential); err != nil {
		return "", err
	}
	models, err := g.newClient(ctx, credential)
	if err != nil {
		return "", &RemoteError{Kind: KindUnknown, Err: fmt.Errorf("create Gemini client: %w", err)}
	}

	start := time.Now()
	resp, err := models.GenerateContent(ctx, g.model, genai.Text(summaryPrompt+text), nil)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", &RemoteError{Kind: KindBadResponse, Err: errors.New("no candidates in response")}
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", &RemoteError{Kind: KindBadResponse, Err: errors.New("empty summary in response")}
	}

	log.Debug().
		Str("model", g.model).
		Int("input_length", len(text)).
		Int("summary_length", len(summary)).
		Dur("duration", time.Since(start)).
		Msg("Gemini summary received")
	return summary, nil
}

// classifyGeminiError prefers the API status code and falls back to the
// error text.
func classifyGeminiError(err error) *RemoteError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := kindForStatus(apiErr.Code)
		if apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "api key") {
			kind = KindAuth
		}
		return &RemoteError{Kind: kind, Status: apiErr.Code, Err: err}
	}
	return &RemoteError{Kind: kindForMessage(err), Err: err}
}
