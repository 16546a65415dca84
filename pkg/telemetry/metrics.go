package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

// Result label values.
const (
	resultSuccess = "success"
	resultError   = "error"
)

// Metrics provides Prometheus metrics for planning and builds. It implements
// engine.PlanRecorder.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	plansComputed *prometheus.CounterVec
	planDuration  *prometheus.HistogramVec
	planRecipes   *prometheus.GaugeVec

	// Warning metrics
	warnings *prometheus.CounterVec

	// Build metrics
	buildsRun     *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ engine.PlanRecorder = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plansComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_computed_total",
				Help:      "Total number of planning runs",
			},
			[]string{"target", "result"},
		),
		planDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_duration_seconds",
				Help:      "Duration of planning in seconds",
				Buckets:   buckets,
			},
			[]string{"target"},
		),
		planRecipes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plan_recipes",
				Help:      "Number of recipes in the last successful plan",
			},
			[]string{"target"},
		),

		warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_warnings_total",
				Help:      "Total number of planning warnings by code",
			},
			[]string{"code"},
		),

		buildsRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of recipe builds",
			},
			[]string{"result"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of recipe builds in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of planning and build errors by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.plansComputed,
		m.planDuration,
		m.planRecipes,
		m.warnings,
		m.buildsRun,
		m.buildDuration,
		m.errorsByCode,
	)

	return m, nil
}

// RecordPlan records a finished planning run. code is empty on success.
func (m *Metrics) RecordPlan(target engine.Platform, code string, recipes int, duration time.Duration) {
	if m.plansComputed == nil {
		return
	}
	result := resultSuccess
	if code != "" {
		result = resultError
		m.errorsByCode.WithLabelValues(code).Inc()
	}
	m.plansComputed.WithLabelValues(string(target), result).Inc()
	m.planDuration.WithLabelValues(string(target)).Observe(duration.Seconds())
	if code == "" {
		m.planRecipes.WithLabelValues(string(target)).Set(float64(recipes))
	}
}

// RecordWarning counts a planning warning.
func (m *Metrics) RecordWarning(code string) {
	if m.warnings == nil {
		return
	}
	m.warnings.WithLabelValues(code).Inc()
}

// RecordBuild records one recipe build. code is empty on success.
func (m *Metrics) RecordBuild(code string, duration time.Duration) {
	if m.buildsRun == nil {
		return
	}
	result := resultSuccess
	if code != "" {
		result = resultError
		m.errorsByCode.WithLabelValues(code).Inc()
	}
	m.buildsRun.WithLabelValues(result).Inc()
	m.buildDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// Registry returns the registry holding the collectors, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metric values to the configured textfile
// path. It does nothing when metrics are disabled or no path is set.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", m.config.TextfilePath, err)
	}
	return nil
}
