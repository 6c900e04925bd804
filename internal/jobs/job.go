// Package jobs defines the unit of work carried on the queue: the message
// schema, its validation, and the durable key layout derived from a job id.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Status is the lifecycle state stored on the job record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidMessage is wrapped by every ParseMessage failure.
var ErrInvalidMessage = errors.New("invalid job message")

// Job is rebuilt from the message on every delivery. APIKey is the caller's
// summarization credential; it is never logged or persisted.
type Job struct {
	ID        string `json:"videoId"`
	VideoPath string `json:"videoPath"`
	APIKey    string `json:"apiKey"`
}

// ParseMessage decodes a queue body and rejects it unless videoPath,
// videoId and apiKey are all present and non-blank. Unknown fields are
// ignored so producers can add metadata without breaking workers.
func ParseMessage(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var missing []string
	if strings.TrimSpace(j.VideoPath) == "" {
		missing = append(missing, "videoPath")
	}
	if strings.TrimSpace(j.ID) == "" {
		missing = append(missing, "videoId")
	}
	if strings.TrimSpace(j.APIKey) == "" {
		missing = append(missing, "apiKey")
	}
	if len(missing) > 0 {
		return Job{}, fmt.Errorf("%w: missing %s", ErrInvalidMessage, strings.Join(missing, ", "))
	}
	return j, nil
}

// Encode serializes the job into the queue body format.
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// MarshalZerologObject logs the job without its credential.
func (j Job) MarshalZerologObject(e *zerolog.Event) {
	e.Str("videoId", j.ID).Str("videoPath", j.VideoPath)
}

// TranscriptKey is the durable object key for a job's transcript.
func TranscriptKey(id string) string {
	return "transcriptions/" + id + "-transcription.txt"
}

// SummaryKey is the durable object key for a job's summary.
func SummaryKey(id string) string {
	return "summaries/" + id + "-summary.txt"
}
