package models

import "time"

// OperationMetric is one timed observation of an instrumented operation.
type OperationMetric struct {
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	CodeID    string        `json:"code_id,omitempty"`
}

// OperationStats aggregates OperationMetric observations incrementally.
type OperationStats struct {
	Operation     string        `json:"operation"`
	Count         int64         `json:"count"`
	SuccessCount  int64         `json:"success_count"`
	FailureCount  int64         `json:"failure_count"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	SuccessRate   float64       `json:"success_rate"`
	LastUpdated   time.Time     `json:"last_updated"`
}

// Record folds one observation into the stats.
func (s *OperationStats) Record(duration time.Duration, success bool, at time.Time) {
	s.Count++
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	s.TotalDuration += duration
	s.AvgDuration = s.TotalDuration / time.Duration(s.Count)
	if s.Count == 1 || duration < s.MinDuration {
		s.MinDuration = duration
	}
	if duration > s.MaxDuration {
		s.MaxDuration = duration
	}
	s.SuccessRate = float64(s.SuccessCount) / float64(s.Count) * 100
	s.LastUpdated = at
}

// ConcurrencyMetric samples the number of in-flight calls of an operation.
type ConcurrencyMetric struct {
	Operation  string    `json:"operation"`
	Timestamp  time.Time `json:"timestamp"`
	Concurrent int       `json:"concurrent"`
}

// AlertSeverity ranks alerts.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertMetric names the measure an alert was raised on.
type AlertMetric string

const (
	MetricAvgDuration     AlertMetric = "avg_duration"
	MetricSuccessRate     AlertMetric = "success_rate"
	MetricPeakConcurrency AlertMetric = "peak_concurrency"
)

// Alert is a threshold breach reported by the performance monitor.
type Alert struct {
	Operation   string        `json:"operation"`
	Metric      AlertMetric   `json:"metric"`
	Severity    AlertSeverity `json:"severity"`
	Value       float64       `json:"value"`
	Threshold   float64       `json:"threshold"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// Key identifies the alert condition independent of its value.
func (a Alert) Key() string {
	return a.Operation + "/" + string(a.Metric) + "/" + string(a.Severity)
}

// ConcurrencySummary reports current and peak concurrency for one operation.
type ConcurrencySummary struct {
	Operation string `json:"operation"`
	Current   int    `json:"current"`
	Peak      int    `json:"peak"`
	WindowSec int    `json:"window_seconds"`
}

// MetricsReport is the response of the metrics query.
type MetricsReport struct {
	Stats       []OperationStats     `json:"stats"`
	Concurrency []ConcurrencySummary `json:"concurrency"`
	Alerts      []Alert              `json:"alerts"`
	GeneratedAt time.Time            `json:"generated_at"`
}
