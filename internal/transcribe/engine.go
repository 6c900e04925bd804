// Package transcribe turns speech audio into text. An Engine is built once
// at startup and shared read-only; each job opens its own Stream.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrRecognition is wrapped by every engine failure.
var ErrRecognition = errors.New("speech recognition failed")

// Engine is a loaded speech model.
type Engine interface {
	// NewStream starts an independent recognition session.
	NewStream() (Stream, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Stream accepts 16 kHz mono 16-bit PCM and yields a transcript.
type Stream interface {
	// Feed appends a chunk of PCM samples.
	Feed(pcm []byte) error
	// Finish flushes the session and returns the full transcript.
	Finish(ctx context.Context) (string, error)
	// Close releases the session; safe to call after Finish.
	Close() error
}

// Transcribe feeds r to a new stream of e in chunks of at most chunkSize
// bytes and returns the transcript. The stream is always closed.
func Transcribe(ctx context.Context, e Engine, r io.Reader, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		return "", fmt.Errorf("%w: chunk size must be positive", ErrRecognition)
	}
	stream, err := e.NewStream()
	if err != nil {
		return "", fmt.Errorf("%w: open stream: %v", ErrRecognition, err)
	}
	defer stream.Close()

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := stream.Feed(buf[:n]); err != nil {
				return "", err
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("%w: read audio: %v", ErrRecognition, readErr)
		}
	}
	return stream.Finish(ctx)
}
