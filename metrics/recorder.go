// Package metrics exposes Prometheus collectors for sample resolution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage names the load step being observed.
type Stage string

const (
	StageImage Stage = "image"
	StageMap   Stage = "map"
)

// Recorder collects per-sample load counters and latencies. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	resolved prometheus.Counter
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		resolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "domainmaps",
			Name:      "samples_resolved_total",
			Help:      "Samples whose image and domain map both loaded.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "domainmaps",
			Name:      "load_failures_total",
			Help:      "Failed loads by stage.",
		}, []string{"stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "domainmaps",
			Name:      "load_duration_seconds",
			Help:      "Time spent reading and decoding a file, by stage.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{r.resolved, r.failures, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveLoad records one load attempt for stage.
func (r *Recorder) ObserveLoad(stage Stage, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	if err != nil {
		r.failures.WithLabelValues(string(stage)).Inc()
	}
}

// SampleResolved counts a fully resolved sample.
func (r *Recorder) SampleResolved() {
	if r == nil {
		return
	}
	r.resolved.Inc()
}
