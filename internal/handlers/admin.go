package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/access"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/middleware"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/monitor"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/validation"
)

// AdminHandler handles the operator endpoints.
type AdminHandler struct {
	adminSvc  access.AdminService
	validator *validation.Validator
	config    *config.Config
	logger    *logrus.Logger
}

// NewAdminHandler creates a new admin handler instance with the provided dependencies.
func NewAdminHandler(
	adminSvc access.AdminService,
	v *validation.Validator,
	cfg *config.Config,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		adminSvc:  adminSvc,
		validator: v,
		config:    cfg,
		logger:    logger,
	}
}

// RegisterRoutes registers admin routes on the provided router.
// Note: The router should already have admin auth middleware applied.
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/usage", h.Usage).Methods(http.MethodGet)
	router.HandleFunc("/cleanup", h.Cleanup).Methods(http.MethodPost)
	router.HandleFunc("/metrics", h.Metrics).Methods(http.MethodGet)
	router.HandleFunc("/cache/invalidate", h.InvalidateCache).Methods(http.MethodPost)
	router.HandleFunc("/cache/stats", h.CacheStats).Methods(http.MethodGet)
	router.HandleFunc("/codes", h.CreateCode).Methods(http.MethodPost)
}

// Usage handles GET /admin/usage.
//
// Query Parameters:
//   - codeId: Limit the report to one code (default: all active codes)
//
// Responses:
//   - 200: Usage snapshots
//   - 404: Unknown code
//   - 500: Internal server error
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	codeID := r.URL.Query().Get("codeId")
	if codeID != "" {
		if err := h.validator.Var(codeID, "uuid"); err != nil {
			writeAPIError(w, h.logger, models.NewInvalidRequest("codeId must be a valid UUID"))
			return
		}
	}

	snapshots, err := h.adminSvc.Usage(r.Context(), codeID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, models.UsageResponse{
		Codes:       snapshots,
		GeneratedAt: time.Now().UTC(),
	})
}

// Cleanup handles POST /admin/cleanup and runs one sweep immediately.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	h.logger.WithField("admin", middleware.AdminSubject(r.Context())).Info("Processing cleanup request")

	result, err := h.adminSvc.Cleanup(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, result)
}

// Metrics handles GET /admin/metrics.
//
// Query Parameters:
//   - operation: Limit the report to one instrumented operation
func (h *AdminHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	operation := r.URL.Query().Get("operation")
	if operation != "" && !monitor.IsKnownOperation(operation) {
		writeAPIError(w, h.logger, models.NewInvalidRequest("Unknown operation: "+operation))
		return
	}

	writeJSON(w, h.logger, http.StatusOK, h.adminSvc.Metrics(operation))
}

// InvalidateCache handles POST /admin/cache/invalidate. An empty body or
// code_id clears the whole capacity cache.
func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req models.InvalidateCacheRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeAPIError(w, h.logger, models.NewInvalidRequest("Request body must be a JSON object"))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	response := h.adminSvc.InvalidateCache(&req)

	writeJSON(w, h.logger, http.StatusOK, response)
	h.logger.WithFields(logrus.Fields{
		"admin":   middleware.AdminSubject(r.Context()),
		"code_id": response.CodeID,
		"all":     response.All,
	}).Info("Cache invalidation processed")
}

// CacheStats handles GET /admin/cache/stats.
func (h *AdminHandler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.adminSvc.CacheStats())
}

// CreateCode handles POST /admin/codes.
//
// Responses:
//   - 201: Code created
//   - 400: Invalid request
//   - 409: Code value already exists
func (h *AdminHandler) CreateCode(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeAPIError(w, h.logger, models.NewInvalidRequest("Request body must be a JSON object"))
		return
	}
	if err := h.validator.CreateCode(&req, h.config.Access.MaxUsageLimit); err != nil {
		writeError(w, h.logger, err)
		return
	}

	code, err := h.adminSvc.CreateCode(r.Context(), &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, code)
	h.logger.WithFields(logrus.Fields{
		"admin":   middleware.AdminSubject(r.Context()),
		"code_id": code.ID,
	}).Info("Access code created via admin API")
}
