package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitWith_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWith("info", "json", &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Info().Str("jobId", "abc").Msg("Job received")

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if doc["jobId"] != "abc" {
		t.Errorf("expected jobId=abc, got %v", doc["jobId"])
	}
	if doc["message"] != "Job received" {
		t.Errorf("expected message, got %v", doc["message"])
	}
}

func TestInitWith_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	InitWith("error", "json", &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info event should be filtered at error level, got %q", buf.String())
	}
}

func TestStartupLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	InitWith("info", "json", &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	NewStartupLogger("summary-worker").
		CommitHash("deadbeef").
		Bucket("artifacts", "videos").
		Queue("jobs", "https://sqs.example/jobs").
		Backend("queue", "sqs").
		Feature("sentry", false).
		Config("concurrency", "1").
		Log()

	out := buf.String()
	for _, want := range []string{`"summary-worker"`, `"deadbeef"`, `"videos"`, `"sqs"`, `"concurrency":"1"`, "Worker start complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("startup log missing %s: %s", want, out)
		}
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("SUMMARY_TEST_VAR", "")
	if got := EnvOrDefault("SUMMARY_TEST_VAR", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	t.Setenv("SUMMARY_TEST_VAR", "set")
	if got := EnvOrDefault("SUMMARY_TEST_VAR", "fallback"); got != "set" {
		t.Errorf("expected set, got %q", got)
	}
}
