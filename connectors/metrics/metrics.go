// Package metrics counts strategy and delivery outcomes of a collect run and exports them
// as a node-exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "azcost"

// Recorder wraps the Prometheus metrics of one collect run. It has its own registry.
type Recorder struct {
	registry *prometheus.Registry

	Strategies  *prometheus.CounterVec
	Deliveries  *prometheus.CounterVec
	Records     prometheus.Gauge
	Skipped     prometheus.Gauge
	LastSuccess prometheus.Gauge
	RunDuration prometheus.Histogram
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		Strategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_attempts_total",
			Help:      "Fallback strategy attempts by component, strategy and outcome",
		}, []string{"component", "strategy", "outcome"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_posts_total",
			Help:      "Ingestion POSTs by payload kind and outcome",
		}, []string{"payload", "outcome"}),
		Records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_records",
			Help:      "Records built by the last run",
		}),
		Skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_skipped_subscriptions",
			Help:      "Subscriptions skipped by the last run",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that delivered its batch",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of collect runs in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
	}
	reg.MustRegister(r.Strategies, r.Deliveries, r.Records, r.Skipped, r.LastSuccess, r.RunDuration)
	return r
}

func (r *Recorder) ObserveStrategy(component, strategy, outcome string) {
	r.Strategies.WithLabelValues(component, strategy, outcome).Inc()
}

func (r *Recorder) ObserveDelivery(payload, outcome string) {
	r.Deliveries.WithLabelValues(payload, outcome).Inc()
}

// ObserveRun records the size and duration of a finished run. LastSuccess only moves when
// the run succeeded.
func (r *Recorder) ObserveRun(records, skipped int, elapsed time.Duration, ok bool, at time.Time) {
	r.Records.Set(float64(records))
	r.Skipped.Set(float64(skipped))
	r.RunDuration.Observe(elapsed.Seconds())
	if ok {
		r.LastSuccess.Set(float64(at.Unix()))
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the registry atomically in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
