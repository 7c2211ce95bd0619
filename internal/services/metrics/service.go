// Package metrics exports the outcome of a run as a node_exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Namespace prefixes every metric name.
const Namespace = "gotar_homelab"

// Run is the outcome of one backup run.
type Run struct {
	Host       string
	Mode       models.Mode
	Success    bool
	Duration   time.Duration
	SizeBytes  int64
	FailedStep string
	Finished   time.Time
}

// Service defines the interface for metrics export.
type Service interface {
	Write(path string, run Run) error
}

// Impl implements the metrics Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new metrics service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Write replaces the textfile at path with the gauges of run.
func (s *Impl) Write(path string, run Run) error {
	registry := prometheus.NewRegistry()
	labels := []string{"host", "mode"}
	values := []string{run.Host, string(run.Mode)}

	success := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "backup_last_success",
		Help:      "Whether the last backup run succeeded (1) or failed (0)",
	}, labels)
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "backup_last_duration_seconds",
		Help:      "Duration of the last backup run in seconds",
	}, labels)
	size := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "backup_last_size_bytes",
		Help:      "Size of the last archive written in bytes",
	}, labels)
	finished := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "backup_last_run_timestamp_seconds",
		Help:      "Unix time the last backup run finished",
	}, labels)
	failure := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "backup_last_failure_info",
		Help:      "Step that failed in the last backup run",
	}, append(labels, "step"))

	registry.MustRegister(success, duration, size, finished, failure)

	if run.Success {
		success.WithLabelValues(values...).Set(1)
		size.WithLabelValues(values...).Set(float64(run.SizeBytes))
	} else {
		success.WithLabelValues(values...).Set(0)
		failure.WithLabelValues(append(values, run.FailedStep)...).Set(1)
	}
	duration.WithLabelValues(values...).Set(run.Duration.Seconds())
	finished.WithLabelValues(values...).Set(float64(run.Finished.Unix()))

	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}

	s.logger.Debug().Str("path", path).Bool("success", run.Success).Msg("metrics textfile written")
	return nil
}
