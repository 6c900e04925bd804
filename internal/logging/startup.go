package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects process identity, resources, backends and
// configuration, then emits a single structured zerolog event summarising
// how the worker was started. One line in the logs answers "which queue,
// which bucket, which models" when troubleshooting a deployment.
type StartupLogger struct {
	name         string
	commitHash   string
	buildTime    string
	initDuration time.Duration

	buckets   map[string]string
	queues    map[string]string
	tables    map[string]string
	ssmParams map[string]string
	backends  map[string]string
	features  map[string]bool
	config    map[string]string
}

// NewStartupLogger creates a StartupLogger for the given process name
// (e.g. "summary-worker", "summary-lambda").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		buckets:   make(map[string]string),
		queues:    make(map[string]string),
		tables:    make(map[string]string),
		ssmParams: make(map[string]string),
		backends:  make(map[string]string),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

// CommitHash sets the git commit hash baked into the binary at build time.
func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

// BuildTime sets the UTC build timestamp baked into the binary at build time.
func (s *StartupLogger) BuildTime(t string) *StartupLogger {
	s.buildTime = t
	return s
}

// Bucket registers an artifact bucket used by this process.
func (s *StartupLogger) Bucket(label, name string) *StartupLogger {
	s.buckets[label] = name
	return s
}

// Queue registers a queue or stream consumed or written by this process.
func (s *StartupLogger) Queue(label, name string) *StartupLogger {
	s.queues[label] = name
	return s
}

// Table registers a status table (SQL table, DynamoDB table or hash prefix).
func (s *StartupLogger) Table(label, name string) *StartupLogger {
	s.tables[label] = name
	return s
}

// SSMParam registers an SSM parameter path loaded by this process.
// Only the path is logged, never the value.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	s.ssmParams[label] = path
	return s
}

// Backend registers which implementation serves a capability
// (e.g. "queue" -> "sqs", "transcriber" -> "whisper").
func (s *StartupLogger) Backend(capability, impl string) *StartupLogger {
	s.backends[capability] = impl
	return s
}

// Feature registers a boolean feature flag (e.g. "sentry", "deadLetter").
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long startup took to complete.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits a single structured INFO log event with all collected information.
func (s *StartupLogger) Log() {
	evt := log.Info()

	procDict := zerolog.Dict().
		Str("name", s.name).
		Str("region", os.Getenv("AWS_REGION")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Str("logLevel", os.Getenv(LevelEnv))

	// Lambda identity is only present when running under the Lambda runtime.
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		procDict = procDict.
			Str("functionName", fn).
			Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
			Str("memoryMB", os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"))
	}
	if s.commitHash != "" {
		procDict = procDict.Str("commitHash", s.commitHash)
	}
	if s.buildTime != "" {
		procDict = procDict.Str("buildTime", s.buildTime)
	}
	evt = evt.Dict("process", procDict)

	// Resources, only non-empty maps are attached.
	resources := zerolog.Dict()
	hasResources := false
	for label, m := range map[string]map[string]string{
		"buckets":   s.buckets,
		"queues":    s.queues,
		"tables":    s.tables,
		"ssmParams": s.ssmParams,
	} {
		if len(m) > 0 {
			resources = resources.Dict(label, dictFromMap(m))
			hasResources = true
		}
	}
	if hasResources {
		evt = evt.Dict("resources", resources)
	}

	if len(s.backends) > 0 {
		evt = evt.Dict("backends", dictFromMap(s.backends))
	}

	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}

	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}

	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Worker start complete")
}

// dictFromMap converts a map[string]string into a zerolog.Event (Dict).
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
