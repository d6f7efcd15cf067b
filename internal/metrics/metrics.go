// Package metrics holds the Prometheus collectors for sessions, remote
// command execution and network adapter operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ipsettle"

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions  prometheus.Gauge
	ActiveShells    prometheus.Gauge
	ConnectsTotal   *prometheus.CounterVec
	ExecTotal       *prometheus.CounterVec
	ExecDuration    prometheus.Histogram
	AdapterOpsTotal *prometheus.CounterVec
}

// New registers a fresh set of collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of connected hosts",
		}),
		ActiveShells: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_shells",
			Help:      "Current number of open interactive shells",
		}),
		ConnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of connection attempts by result",
		}, []string{"result"}),
		ExecTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exec_total",
			Help:      "Total number of remote commands by result",
		}, []string{"result"}),
		ExecDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exec_duration_seconds",
			Help:      "Remote command duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		AdapterOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_operations_total",
			Help:      "Total number of network adapter operations",
		}, []string{"adapter", "op", "result"}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.ConnectsTotal.WithLabelValues("success").Inc()
}

func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.ConnectsTotal.WithLabelValues("error").Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) ShellOpened() {
	if m == nil {
		return
	}
	m.ActiveShells.Inc()
}

func (m *Metrics) ShellClosed() {
	if m == nil {
		return
	}
	m.ActiveShells.Dec()
}

// RecordExec counts one remote command. exitCode is ignored when err is set.
func (m *Metrics) RecordExec(exitCode int, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ExecTotal.WithLabelValues(execResult(exitCode, err)).Inc()
	m.ExecDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordAdapterOp(adapter, op string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.AdapterOpsTotal.WithLabelValues(adapter, op, result).Inc()
}

// WriteTextfile writes the current values in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func execResult(exitCode int, err error) string {
	switch {
	case err != nil:
		return "error"
	case exitCode != 0:
		return "nonzero"
	default:
		return "success"
	}
}
