package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

type collectors struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	inFlight *prometheus.GaugeVec
	alerts   *prometheus.GaugeVec
}

func newCollectors(reg prometheus.Registerer) *collectors {
	c := &collectors{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "access_operation_duration_seconds",
				Help:    "Duration of access service operations in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_operations_total",
				Help: "Total number of access service operations",
			},
			[]string{"operation", "outcome"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "access_operations_in_flight",
				Help: "Number of access service operations currently running",
			},
			[]string{"operation"},
		),
		alerts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "access_active_alerts",
				Help: "Number of performance alerts raised by the last check",
			},
			[]string{"severity"},
		),
	}

	if reg != nil {
		reg.MustRegister(c.duration, c.total, c.inFlight, c.alerts)
	}
	return c
}

func (c *collectors) observe(operation string, duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.duration.WithLabelValues(operation).Observe(duration.Seconds())
	c.total.WithLabelValues(operation, outcome).Inc()
}

func (c *collectors) setAlerts(alerts []models.Alert) {
	counts := map[models.AlertSeverity]float64{
		models.SeverityWarning:  0,
		models.SeverityCritical: 0,
	}
	for _, alert := range alerts {
		counts[alert.Severity]++
	}
	for severity, n := range counts {
		c.alerts.WithLabelValues(string(severity)).Set(n)
	}
}
