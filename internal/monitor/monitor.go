// Package monitor records per-operation latency, success and concurrency for
// the access service and raises alerts when configured thresholds are crossed.
// The monitor is an observer only: nothing it does changes redemption outcomes.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// Operation names recorded by the service.
const (
	OpRedeem         = "redeem"
	OpCheckCapacity  = "check_capacity"
	OpIncrementUsage = "increment_usage"
	OpDecrementUsage = "decrement_usage"
	OpCreateSession  = "create_session"
	OpEndSession     = "end_session"
	OpHeartbeat      = "heartbeat"
	OpCleanup        = "cleanup"
	OpUsageQuery     = "usage_query"
)

// sampleResolution is the interval within which concurrency samples of one
// operation are merged. MaxConcurrencySamples applies per operation.
const sampleResolution = time.Second

var knownOperations = map[string]struct{}{
	OpRedeem: {}, OpCheckCapacity: {}, OpIncrementUsage: {}, OpDecrementUsage: {},
	OpCreateSession: {}, OpEndSession: {}, OpHeartbeat: {}, OpCleanup: {}, OpUsageQuery: {},
}

// IsKnownOperation reports whether operation is one the service records.
func IsKnownOperation(operation string) bool {
	_, ok := knownOperations[operation]
	return ok
}

// AlertHandler receives newly raised critical alerts.
type AlertHandler func(alert models.Alert)

// Monitor aggregates operation metrics. It is safe for concurrent use.
type Monitor struct {
	cfg        config.MonitorConfig
	thresholds config.AlertThresholds

	raw      []models.OperationMetric
	samples  map[string][]models.ConcurrencyMetric
	stats    map[string]*models.OperationStats
	inFlight map[string]int
	raised   map[string]models.Alert

	collectors *collectors
	onCritical AlertHandler
	now        func() time.Time
	logger     *logrus.Logger
	mu         sync.Mutex
	stop       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithRegisterer exports operation metrics to Prometheus.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) {
		m.collectors = newCollectors(reg)
	}
}

// WithCriticalAlertHandler sets the callback invoked once per newly raised critical alert.
func WithCriticalAlertHandler(handler AlertHandler) Option {
	return func(m *Monitor) {
		m.onCritical = handler
	}
}

// New creates a monitor. Call Start to enable periodic purging and alert checks.
func New(cfg *config.MonitorConfig, logger *logrus.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:        *cfg,
		thresholds: cfg.Thresholds,
		samples:    make(map[string][]models.ConcurrencyMetric),
		stats:      make(map[string]*models.OperationStats),
		inFlight:   make(map[string]int),
		raised:     make(map[string]models.Alert),
		now:        time.Now,
		logger:     logger,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin marks the start of an operation and returns the function that
// records its end. The returned function must be called exactly once.
func (m *Monitor) Begin(operation, codeID string) func(success bool) {
	start := m.now()

	m.mu.Lock()
	m.inFlight[operation]++
	m.sampleLocked(operation, start)
	m.mu.Unlock()

	if m.collectors != nil {
		m.collectors.inFlight.WithLabelValues(operation).Inc()
	}

	return func(success bool) {
		end := m.now()
		duration := end.Sub(start)

		m.mu.Lock()
		m.inFlight[operation]--
		m.sampleLocked(operation, end)
		m.recordLocked(models.OperationMetric{
			Operation: operation,
			Duration:  duration,
			Timestamp: end,
			Success:   success,
			CodeID:    codeID,
		})
		m.mu.Unlock()

		if m.collectors != nil {
			m.collectors.inFlight.WithLabelValues(operation).Dec()
			m.collectors.observe(operation, duration, success)
		}
	}
}

// Track runs fn as operation and records success when fn returns nil.
func (m *Monitor) Track(operation, codeID string, fn func() error) error {
	finish := m.Begin(operation, codeID)
	err := fn()
	finish(err == nil)
	return err
}

// Record folds a completed observation into the stats.
func (m *Monitor) Record(metric models.OperationMetric) {
	m.mu.Lock()
	m.recordLocked(metric)
	m.mu.Unlock()

	if m.collectors != nil {
		m.collectors.observe(metric.Operation, metric.Duration, metric.Success)
	}
}

func (m *Monitor) recordLocked(metric models.OperationMetric) {
	stats, ok := m.stats[metric.Operation]
	if !ok {
		stats = &models.OperationStats{Operation: metric.Operation}
		m.stats[metric.Operation] = stats
	}
	stats.Record(metric.Duration, metric.Success, metric.Timestamp)

	m.raw = append(m.raw, metric)
	if limit := m.cfg.MaxRawMetrics; limit > 0 && len(m.raw) > limit {
		m.raw = append(m.raw[:0], m.raw[len(m.raw)-limit:]...)
	}
}

// sampleLocked records the in-flight count of operation. Samples of one
// operation falling in the same sampleResolution interval are merged into one
// holding the highest count, so a burst cannot push older peaks out.
func (m *Monitor) sampleLocked(operation string, at time.Time) {
	concurrent := m.inFlight[operation]
	samples := m.samples[operation]

	if n := len(samples); n > 0 {
		last := &samples[n-1]
		if last.Timestamp.Truncate(sampleResolution).Equal(at.Truncate(sampleResolution)) {
			last.Timestamp = at
			if concurrent > last.Concurrent {
				last.Concurrent = concurrent
			}
			return
		}
	}

	samples = append(samples, models.ConcurrencyMetric{
		Operation:  operation,
		Timestamp:  at,
		Concurrent: concurrent,
	})
	if limit := m.cfg.MaxConcurrencySamples; limit > 0 && len(samples) > limit {
		samples = append(samples[:0], samples[len(samples)-limit:]...)
	}
	m.samples[operation] = samples
}

// Stats returns a copy of the stats of one operation.
func (m *Monitor) Stats(operation string) (models.OperationStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.stats[operation]
	if !ok {
		return models.OperationStats{}, false
	}
	return *stats, true
}

// AllStats returns copies of all operation stats ordered by name.
func (m *Monitor) AllStats() []models.OperationStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.allStatsLocked()
}

func (m *Monitor) allStatsLocked() []models.OperationStats {
	all := make([]models.OperationStats, 0, len(m.stats))
	for _, stats := range m.stats {
		all = append(all, *stats)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Operation < all[j].Operation
	})
	return all
}

// Current returns the number of in-flight calls of operation.
func (m *Monitor) Current(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.inFlight[operation]
}

// PeakConcurrency returns the highest in-flight count of operation sampled within window.
func (m *Monitor) PeakConcurrency(operation string, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.peakLocked(operation, m.now().Add(-window))
}

func (m *Monitor) peakLocked(operation string, since time.Time) int {
	samples := m.samples[operation]
	peak := 0
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].Timestamp.Before(since) {
			break
		}
		if samples[i].Concurrent > peak {
			peak = samples[i].Concurrent
		}
	}
	return peak
}

// Alerts evaluates every operation against the thresholds.
func (m *Monitor) Alerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.alertsLocked()
}

func (m *Monitor) alertsLocked() []models.Alert {
	now := m.now()
	since := now.Add(-m.cfg.ConcurrencyWindow)
	t := m.thresholds

	var alerts []models.Alert
	for _, stats := range m.allStatsLocked() {
		op := stats.Operation

		avgMs := float64(stats.AvgDuration.Milliseconds())
		switch {
		case t.AvgDurationCritical > 0 && stats.AvgDuration > t.AvgDurationCritical:
			alerts = append(alerts, newAlert(op, models.MetricAvgDuration, models.SeverityCritical,
				avgMs, float64(t.AvgDurationCritical.Milliseconds()), now))
		case t.AvgDurationWarning > 0 && stats.AvgDuration > t.AvgDurationWarning:
			alerts = append(alerts, newAlert(op, models.MetricAvgDuration, models.SeverityWarning,
				avgMs, float64(t.AvgDurationWarning.Milliseconds()), now))
		}

		switch {
		case stats.Count > 0 && stats.SuccessRate < t.SuccessRateCritical:
			alerts = append(alerts, newAlert(op, models.MetricSuccessRate, models.SeverityCritical,
				stats.SuccessRate, t.SuccessRateCritical, now))
		case stats.Count > 0 && stats.SuccessRate < t.SuccessRateWarning:
			alerts = append(alerts, newAlert(op, models.MetricSuccessRate, models.SeverityWarning,
				stats.SuccessRate, t.SuccessRateWarning, now))
		}

		peak := m.peakLocked(op, since)
		switch {
		case t.PeakConcurrencyCritical > 0 && peak > t.PeakConcurrencyCritical:
			alerts = append(alerts, newAlert(op, models.MetricPeakConcurrency, models.SeverityCritical,
				float64(peak), float64(t.PeakConcurrencyCritical), now))
		case t.PeakConcurrencyWarning > 0 && peak > t.PeakConcurrencyWarning:
			alerts = append(alerts, newAlert(op, models.MetricPeakConcurrency, models.SeverityWarning,
				float64(peak), float64(t.PeakConcurrencyWarning), now))
		}
	}
	return alerts
}

func newAlert(
	operation string,
	metric models.AlertMetric,
	severity models.AlertSeverity,
	value, threshold float64,
	at time.Time,
) models.Alert {
	return models.Alert{
		Operation:   operation,
		Metric:      metric,
		Severity:    severity,
		Value:       value,
		Threshold:   threshold,
		Message:     fmt.Sprintf("%s %s is %.2f (threshold %.2f)", operation, metric, value, threshold),
		TriggeredAt: at,
	}
}

// Report returns stats, concurrency and alerts, optionally for one operation.
func (m *Monitor) Report(operation string) *models.MetricsReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	since := now.Add(-m.cfg.ConcurrencyWindow)
	report := &models.MetricsReport{
		Stats:       []models.OperationStats{},
		Concurrency: []models.ConcurrencySummary{},
		Alerts:      []models.Alert{},
		GeneratedAt: now,
	}

	for _, stats := range m.allStatsLocked() {
		if operation != "" && stats.Operation != operation {
			continue
		}
		report.Stats = append(report.Stats, stats)
		report.Concurrency = append(report.Concurrency, models.ConcurrencySummary{
			Operation: stats.Operation,
			Current:   m.inFlight[stats.Operation],
			Peak:      m.peakLocked(stats.Operation, since),
			WindowSec: int(m.cfg.ConcurrencyWindow.Seconds()),
		})
	}

	for _, alert := range m.alertsLocked() {
		if operation == "" || alert.Operation == operation {
			report.Alerts = append(report.Alerts, alert)
		}
	}

	return report
}

// Purge drops raw metrics and concurrency samples older than the raw
// retention, and stats not updated within the idle TTL. It returns the
// number of raw metrics and stats removed.
func (m *Monitor) Purge() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rawCutoff := now.Add(-m.cfg.RawRetention)

	keep := m.raw[:0]
	for _, metric := range m.raw {
		if !metric.Timestamp.Before(rawCutoff) {
			keep = append(keep, metric)
		}
	}
	rawRemoved := len(m.raw) - len(keep)
	m.raw = keep

	for op, samples := range m.samples {
		keepSamples := samples[:0]
		for _, sample := range samples {
			if !sample.Timestamp.Before(rawCutoff) {
				keepSamples = append(keepSamples, sample)
			}
		}
		if len(keepSamples) == 0 {
			delete(m.samples, op)
			continue
		}
		m.samples[op] = keepSamples
	}

	statsCutoff := now.Add(-m.cfg.StatsIdleTTL)
	statsRemoved := 0
	for op, stats := range m.stats {
		if stats.LastUpdated.Before(statsCutoff) && m.inFlight[op] == 0 {
			delete(m.stats, op)
			delete(m.inFlight, op)
			statsRemoved++
		}
	}

	return rawRemoved, statsRemoved
}

// RawMetricCount returns the number of retained raw observations.
func (m *Monitor) RawMetricCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.raw)
}

// Start runs the purge and alert check loop until Stop is called.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.loop()
	})
}

// Stop ends the background loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rawRemoved, statsRemoved := m.Purge()
			if rawRemoved > 0 || statsRemoved > 0 {
				m.logger.WithFields(logrus.Fields{
					"raw_removed":   rawRemoved,
					"stats_removed": statsRemoved,
				}).Debug("Purged stale performance metrics")
			}
			m.CheckAlerts()
		case <-m.stop:
			return
		}
	}
}

// CheckAlerts logs current alerts and hands critical alerts that were not
// raised on the previous check to the critical alert handler.
func (m *Monitor) CheckAlerts() []models.Alert {
	m.mu.Lock()
	alerts := m.alertsLocked()
	previous := m.raised
	m.raised = make(map[string]models.Alert, len(alerts))
	var fresh []models.Alert
	for _, alert := range alerts {
		m.raised[alert.Key()] = alert
		if _, seen := previous[alert.Key()]; !seen && alert.Severity == models.SeverityCritical {
			fresh = append(fresh, alert)
		}
	}
	m.mu.Unlock()

	if m.collectors != nil {
		m.collectors.setAlerts(alerts)
	}

	for _, alert := range alerts {
		entry := m.logger.WithFields(logrus.Fields{
			"operation": alert.Operation,
			"metric":    alert.Metric,
			"severity":  alert.Severity,
			"value":     alert.Value,
			"threshold": alert.Threshold,
		})
		if alert.Severity == models.SeverityCritical {
			entry.Error("Performance alert")
		} else {
			entry.Warn("Performance alert")
		}
	}

	if m.onCritical != nil {
		for _, alert := range fresh {
			m.onCritical(alert)
		}
	}
	return fresh
}
