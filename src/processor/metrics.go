// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"contractbench/src/model"
)

// Metrics holds the pool's Prometheus collectors on their own registry.
// A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	InFlight     prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contractbench",
			Subsystem: "task",
			Name:      "total",
			Help:      "Tasks finished, by tool and status.",
		}, []string{"tool", "status"}),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contractbench",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Task execution duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"tool"}),

		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "contractbench",
			Name:      "tasks_in_flight",
			Help:      "Number of tasks currently executing.",
		}),
	}

	reg.MustRegister(m.TasksTotal, m.TaskDuration, m.InFlight)
	return m
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) finished(tool string, status model.TaskStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.TasksTotal.WithLabelValues(tool, string(status)).Inc()
	m.TaskDuration.WithLabelValues(tool).Observe(d.Seconds())
}
