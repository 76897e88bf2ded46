// Package metrics records run statistics in a Prometheus registry that can be
// written out for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

const namespace = "cadence"

// Recorder implements domain.Metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry
	now      func() time.Time

	builds          *prometheus.CounterVec
	discovered      prometheus.Gauge
	discoveryErrors prometheus.Counter
	lastRun         prometheus.Gauge
	runDuration     prometheus.Gauge
}

// NewRecorder creates a Recorder with all cadence collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		now:      time.Now,
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Build jobs processed, by outcome.",
		}, []string{"outcome"}),
		discovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discovered_commits",
			Help:      "Commits discovered in the last run.",
		}),
		discoveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_errors_total",
			Help:      "Seeds that could not be resolved.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run.",
		}),
	}

	r.registry.MustRegister(r.builds, r.discovered, r.discoveryErrors, r.lastRun, r.runDuration)
	for _, outcome := range []domain.Outcome{domain.OutcomeSuccess, domain.OutcomeError, domain.OutcomeSkipped} {
		r.builds.WithLabelValues(string(outcome))
	}
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// DiscoveredCommits sets the number of commits found in this run.
func (r *Recorder) DiscoveredCommits(n int) {
	r.discovered.Set(float64(n))
}

// DiscoveryFailed counts a seed that could not be resolved.
func (r *Recorder) DiscoveryFailed(domain.Seed) {
	r.discoveryErrors.Inc()
}

// BuildFinished counts one processed job.
func (r *Recorder) BuildFinished(outcome domain.Outcome) {
	r.builds.WithLabelValues(string(outcome)).Inc()
}

// RunFinished records the completion time and duration of a run.
func (r *Recorder) RunFinished(summary *domain.RunSummary) {
	r.lastRun.Set(float64(r.now().Unix()))
	if summary != nil {
		r.runDuration.Set(summary.Duration.Seconds())
	}
}

// WriteTextfile writes the registry to path in the text exposition format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

var _ domain.Metrics = (*Recorder)(nil)
