// Package command runs external tools (ffmpeg, whisper.cpp) behind an
// interface so callers can be tested without the binaries installed.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxStderr bounds how much stderr is carried in an error.
const maxStderr = 2048

// Runner executes one command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args. A non-zero exit yields an error carrying
// the tail of stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log.Debug().
		Str("command", name).
		Strs("args", args).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("External command finished")
	if err != nil {
		if msg := tail(strings.TrimSpace(stderr.String()), maxStderr); msg != "" {
			return "", fmt.Errorf("command %s failed: %w\nstderr: %s", name, err, msg)
		}
		return "", fmt.Errorf("command %s failed: %w", name, err)
	}
	return stdout.String(), nil
}

// LookPath reports whether name resolves to an executable.
func LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
