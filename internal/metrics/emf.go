// Package metrics emits CloudWatch Embedded Metric Format (EMF) documents.
// Each flush is one JSON line; when the line lands in CloudWatch Logs the
// metrics are extracted without any API call.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"io"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CloudWatch units used by the worker.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
)

type sample struct {
	unit  string
	value float64
}

type metricUnit struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type metricSet struct {
	Namespace  string       `json:"Namespace"`
	Dimensions [][]string   `json:"Dimensions"`
	Metrics    []metricUnit `json:"Metrics"`
}

type awsMeta struct {
	Timestamp         int64       `json:"Timestamp"`
	CloudWatchMetrics []metricSet `json:"CloudWatchMetrics"`
}

// Emitter writes EMF lines for one namespace. It is safe for concurrent use.
type Emitter struct {
	namespace string
	base      map[string]string
	mu        sync.Mutex
	out       io.Writer
	now       func() time.Time
}

// NewEmitter writes to out. A nil out disables emission. The
// FunctionName dimension is added when running inside Lambda.
func NewEmitter(namespace string, out io.Writer) *Emitter {
	e := &Emitter{
		namespace: namespace,
		base:      make(map[string]string),
		out:       out,
		now:       time.Now,
	}
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		e.base["FunctionName"] = fn
	}
	return e
}

// Discard returns an Emitter that drops everything.
func Discard() *Emitter { return NewEmitter("", nil) }

// New starts a Recorder carrying the emitter's base dimensions.
func (e *Emitter) New() *Recorder {
	return &Recorder{
		emitter: e,
		dims:    maps.Clone(e.base),
		samples: map[string]sample{},
		props:   map[string]any{},
	}
}

func (e *Emitter) write(line []byte) {
	if e.out == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.out.Write(append(line, '\n')); err != nil {
		log.Warn().Err(err).Msg("Failed to write EMF metrics")
	}
}

// Recorder accumulates one EMF document. Create one per operation; it is
// not safe for concurrent use.
type Recorder struct {
	emitter *Emitter
	dims    map[string]string
	samples map[string]sample
	props   map[string]any
}

// Dimension adds an indexed key-value pair.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dims[key] = value
	return r
}

// Metric records a value with a CloudWatch unit. A later call with the
// same name replaces the earlier one.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.samples[name] = sample{unit: unit, value: value}
	return r
}

// Count records a count of one.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Duration records d in milliseconds.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Milliseconds()), UnitMilliseconds)
}

// Property adds a searchable field that does not become a metric.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.props[key] = value
	return r
}

// Flush writes the document. Nothing is written when no metric was recorded.
// The Recorder must not be reused afterwards.
func (r *Recorder) Flush() {
	if len(r.samples) == 0 {
		return
	}

	// Later writes win: properties, then dimensions, then metric values.
	doc := make(map[string]any, len(r.props)+len(r.dims)+len(r.samples)+1)
	maps.Copy(doc, r.props)
	for k, v := range r.dims {
		doc[k] = v
	}
	names := slices.Sorted(maps.Keys(r.samples))
	units := make([]metricUnit, len(names))
	for i, name := range names {
		s := r.samples[name]
		units[i] = metricUnit{Name: name, Unit: s.unit}
		doc[name] = s.value
	}
	doc["_aws"] = awsMeta{
		Timestamp: r.emitter.now().UnixMilli(),
		CloudWatchMetrics: []metricSet{{
			Namespace:  r.emitter.namespace,
			Dimensions: [][]string{slices.Sorted(maps.Keys(r.dims))},
			Metrics:    units,
		}},
	}

	line, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal EMF metrics")
		return
	}
	r.emitter.write(line)
}
