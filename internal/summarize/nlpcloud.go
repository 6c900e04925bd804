package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 1024

// NLPCloudOptions configures the NLP Cloud summarization client.
type NLPCloudOptions struct {
	BaseURL string
	Model   string
	// UseCPU drops the /gpu/ path segment.
	UseCPU  bool
	Timeout time.Duration
	Client  *http.Client
}

// NLPCloud calls the NLP Cloud summarization endpoint with the job's token.
type NLPCloud struct {
	endpoint string
	client   *http.Client
}

var _ Summarizer = (*NLPCloud)(nil)

// NewNLPCloud validates the base URL and builds the client.
func NewNLPCloud(opts NLPCloudOptions) (*NLPCloud, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid NLP Cloud base URL %q", opts.BaseURL)
	}
	if opts.Model == "" {
		return nil, errors.New("NLP Cloud model is required")
	}
	segments := []string{"v1"}
	if !opts.UseCPU {
		segments = append(segments, "gpu")
	}
	segments = append(segments, url.PathEscape(opts.Model), "summarization")

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &NLPCloud{
		endpoint: base.String() + "/" + strings.Join(segments, "/"),
		client:   client,
	}, nil
}

type nlpCloudRequest struct {
	Text string `json:"text"`
}

type nlpCloudResponse struct {
	SummaryText string `json:"summary_text"`
}

// Summarize posts text and returns the summary_text field.
func (n *NLPCloud) Summarize(ctx context.Context, text, credential string) (string, error) {
	if err := checkInput(text, credential); err != nil {
		return "", err
	}

	body, err := json.Marshal(nlpCloudRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		return "", &RemoteError{Kind: KindServer, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Warn().
			Int("status", resp.StatusCode).
			Str("body", strings.TrimSpace(string(detail))).
			Msg("NLP Cloud returned an error")
		return "", &RemoteError{
			Kind:   kindForStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var out nlpCloudResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &RemoteError{Kind: KindBadResponse, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	summary := strings.TrimSpace(out.SummaryText)
	if summary == "" {
		return "", &RemoteError{Kind: KindBadResponse, Status: resp.StatusCode, Err: errors.New("response has no summary_text")}
	}

	log.Debug().
		Int("input_length", len(text)).
		Int("summary_length", len(summary)).
		Dur("duration", time.Since(start)).
		Msg("NLP Cloud summary received")
	return summary, nil
}
