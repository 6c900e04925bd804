// Package summarize condenses a transcript into a short summary using a
// remote model. The credential travels with each job, so adapters hold no
// account state of their own.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyInput is returned for a blank transcript.
	ErrEmptyInput = errors.New("empty transcript")
	// ErrMissingCredential is returned for a blank job credential.
	ErrMissingCredential = errors.New("missing summarization credential")
	// ErrRemoteCall is wrapped by every failure of the remote service.
	ErrRemoteCall = errors.New("summarization call failed")
)

// Summarizer produces a summary of text on behalf of credential's owner.
type Summarizer interface {
	Summarize(ctx context.Context, text, credential string) (string, error)
}

// RemoteError carries the classification of a failed remote call.
type RemoteError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

// ErrorKind categorizes remote failures.
type ErrorKind int

const (
	// KindUnknown is any failure not otherwise classified.
	KindUnknown ErrorKind = iota
	// KindAuth means the credential was rejected.
	KindAuth
	// KindQuota means the account is rate limited or out of quota.
	KindQuota
	// KindServer means the service failed or was unreachable.
	KindServer
	// KindBadResponse means the service answered with something unusable.
	KindBadResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindQuota:
		return "quota"
	case KindServer:
		return "server"
	case KindBadResponse:
		return "bad_response"
	default:
		return "unknown"
	}
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%s, status %d): %v", ErrRemoteCall, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", ErrRemoteCall, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() []error { return []error{ErrRemoteCall, e.Err} }

// kindForStatus maps an HTTP status code to an ErrorKind.
func kindForStatus(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return KindAuth
	case code == 429:
		return KindQuota
	case code >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// kindForMessage classifies errors that carry no status code.
func kindForMessage(err error) ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key not valid") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "permission denied"):
		return KindAuth
	case strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "rate limit"):
		return KindQuota
	case strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "deadline exceeded"):
		return KindServer
	default:
		return KindUnknown
	}
}

func checkInput(text, credential string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	if strings.TrimSpace(credential) == "" {
		return ErrMissingCredential
	}
	return nil
}
