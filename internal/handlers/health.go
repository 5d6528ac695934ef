package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/constants"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

const (
	// HealthCheckTimeout bounds each component check.
	HealthCheckTimeout = 5 * time.Second
	// MinJWTSecretLength is the minimum JWT secret length considered healthy.
	MinJWTSecretLength = 32

	slowStoreThreshold = time.Second
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy HealthStatus = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusDegraded indicates the component has degraded performance.
	StatusDegraded HealthStatus = "degraded"
)

// HealthResponse represents the overall health check response.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Details    map[string]interface{}     `json:"details,omitempty"`
}

// ComponentHealth represents the health of an individual component.
type ComponentHealth struct {
	Status       HealthStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
	LastChecked  time.Time    `json:"last_checked"`
	ResponseTime string       `json:"response_time,omitempty"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Ready      bool                       `json:"ready"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthDependencies are the components probed by the health endpoints.
type HealthDependencies struct {
	// Store is the access store; readiness requires it.
	Store Pinger
	// Backend names the store implementation.
	Backend string
	// AuditDB is the optional audit database.
	AuditDB Pinger
	// CacheStats reports the capacity cache, when set.
	CacheStats func() models.CacheStats
	// DroppedEvents reports events dropped by the event queue, when set.
	DroppedEvents func() int64
}

// healthMetrics are the Prometheus metrics of the health endpoints.
type healthMetrics struct {
	checks          *prometheus.CounterVec
	componentStatus *prometheus.GaugeVec
}

func newHealthMetrics(reg prometheus.Registerer) *healthMetrics {
	m := &healthMetrics{
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_health_checks_total",
				Help: "Total number of health checks",
			},
			[]string{"endpoint", "status"},
		),
		componentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "access_component_health_status",
				Help: "Health status of service components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.checks, m.componentStatus)
	}
	return m
}

// HealthHandler provides health check and monitoring endpoints.
type HealthHandler struct {
	config    *config.Config
	deps      HealthDependencies
	logger    *logrus.Logger
	metrics   *healthMetrics
	startTime time.Time
}

// NewHealthHandler creates a health handler. Metrics are registered with reg when it is not nil.
func NewHealthHandler(
	cfg *config.Config,
	deps HealthDependencies,
	reg prometheus.Registerer,
	logger *logrus.Logger,
) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		deps:      deps,
		logger:    logger,
		metrics:   newHealthMetrics(reg),
		startTime: time.Now(),
	}
}

// RegisterRoutes registers the health endpoints.
func (h *HealthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Readiness).Methods(http.MethodGet)
}

// Health checks every component. The store is critical; the audit database
// and configuration only degrade the service.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	components := make(map[string]ComponentHealth)
	overall := StatusHealthy

	store := h.checkStore(ctx)
	components["store"] = store
	if store.Status == StatusUnhealthy {
		overall = StatusUnhealthy
	} else if store.Status == StatusDegraded {
		overall = StatusDegraded
	}

	for name, health := range map[string]ComponentHealth{
		"audit_database": h.checkAuditDatabase(ctx),
		"configuration":  h.checkConfiguration(),
	} {
		components[name] = health
		if health.Status != StatusHealthy && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	h.metrics.checks.WithLabelValues("health", string(overall)).Inc()
	for name, health := range components {
		value := float64(0)
		if health.Status == StatusHealthy {
			value = 1
		}
		h.metrics.componentStatus.WithLabelValues(name).Set(value)
	}

	details := map[string]interface{}{
		"backend":        h.deps.Backend,
		"check_duration": time.Since(start).String(),
	}
	if h.deps.CacheStats != nil {
		details["cache"] = h.deps.CacheStats()
	}
	if h.deps.DroppedEvents != nil {
		details["dropped_events"] = h.deps.DroppedEvents()
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, h.logger, statusCode, HealthResponse{
		Status:     overall,
		Timestamp:  time.Now().UTC(),
		Version:    getVersion(),
		Uptime:     time.Since(h.startTime).String(),
		Components: components,
		Details:    details,
	})

	h.logger.WithFields(logrus.Fields{
		"status":   overall,
		"duration": time.Since(start).String(),
	}).Debug("Health check completed")
}

// Liveness reports that the process is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	h.metrics.checks.WithLabelValues("liveness", string(StatusHealthy)).Inc()

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// Readiness reports whether the access store can serve redemptions.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	store := h.checkStore(r.Context())
	ready := store.Status != StatusUnhealthy

	label := "ready"
	statusCode := http.StatusOK
	if !ready {
		label = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}
	h.metrics.checks.WithLabelValues("readiness", label).Inc()

	writeJSON(w, h.logger, statusCode, ReadinessResponse{
		Ready:      ready,
		Timestamp:  time.Now().UTC(),
		Components: map[string]ComponentHealth{"store": store},
	})
}

func (h *HealthHandler) checkStore(ctx context.Context) ComponentHealth {
	if h.deps.Store == nil {
		return ComponentHealth{
			Status:      StatusUnhealthy,
			Message:     "Access store not initialized",
			LastChecked: time.Now().UTC(),
		}
	}

	health := ping(ctx, h.deps.Store)
	if health.Status == StatusUnhealthy {
		h.logger.WithField("backend", h.deps.Backend).Warn("Access store health check failed")
		health.Message = h.deps.Backend + " store connection failed: " + health.Message
		return health
	}

	health.Message = h.deps.Backend + " store is healthy"
	if d, err := time.ParseDuration(health.ResponseTime); err == nil && d > slowStoreThreshold {
		health.Status = StatusDegraded
		health.Message = h.deps.Backend + " store response time is slow"
	}
	return health
}

func (h *HealthHandler) checkAuditDatabase(ctx context.Context) ComponentHealth {
	if h.deps.AuditDB == nil || !h.config.IsMySQLDatabaseConfigured() {
		return ComponentHealth{
			Status:      StatusHealthy,
			Message:     "Audit database not configured (optional)",
			LastChecked: time.Now().UTC(),
		}
	}

	health := ping(ctx, h.deps.AuditDB)
	if health.Status == StatusUnhealthy {
		health.Message = "MySQL audit connection failed: " + health.Message
		return health
	}
	health.Message = "MySQL audit database is healthy"
	return health
}

func ping(ctx context.Context, p Pinger) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	health := ComponentHealth{
		Status:       StatusHealthy,
		LastChecked:  time.Now().UTC(),
		ResponseTime: time.Since(start).String(),
	}
	if err != nil {
		health.Status = StatusUnhealthy
		health.Message = err.Error()
	}
	return health
}

func (h *HealthHandler) checkConfiguration() ComponentHealth {
	var issues []string

	if len(h.config.JWT.Secret) < MinJWTSecretLength {
		issues = append(issues, "JWT secret is too short")
	}
	if h.config.Access.IdleTimeout < time.Minute {
		issues = append(issues, "session idle timeout is under a minute")
	}
	if !h.config.Access.CleanupEnabled {
		issues = append(issues, "idle session cleanup is disabled")
	}

	health := ComponentHealth{
		Status:      StatusHealthy,
		Message:     "Configuration is valid",
		LastChecked: time.Now().UTC(),
	}
	if len(issues) > 0 {
		health.Status = StatusDegraded
		health.Message = "Configuration issues: " + strings.Join(issues, ", ")
	}
	return health
}

// getVersion returns the service version.
func getVersion() string {
	return "1.0.0"
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, statusCode int, body interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
	}
}
