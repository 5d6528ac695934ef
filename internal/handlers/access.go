// Package handlers provides HTTP handlers for the access service endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/access"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/middleware"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/validation"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// AccessHandler handles code redemption and session endpoints.
type AccessHandler struct {
	accessSvc access.Service
	validator *validation.Validator
	logger    *logrus.Logger
}

// NewAccessHandler creates a new access handler.
func NewAccessHandler(accessSvc access.Service, v *validation.Validator, logger *logrus.Logger) *AccessHandler {
	return &AccessHandler{
		accessSvc: accessSvc,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes registers the holder-facing routes on the API subrouter.
func (h *AccessHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/redeem", h.Redeem).Methods(http.MethodPost)
	router.HandleFunc("/sessions/heartbeat", h.Heartbeat).Methods(http.MethodPost)
	router.HandleFunc("/sessions/end", h.EndSession).Methods(http.MethodPost)
}

// Redeem handles POST /redeem.
//
// Responses:
//   - 201: Session created
//   - 400: Malformed body or invalid code format
//   - 403: Code expired
//   - 404: Unknown code
//   - 409: Code at capacity
//   - 500/503: Ledger or session failure
func (h *AccessHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req models.RedeemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeAPIError(w, h.logger, models.NewInvalidRequest("Request body must be a JSON object"))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.accessSvc.Redeem(r.Context(), req.Code)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, result)
	h.logger.WithFields(logrus.Fields{
		"request_id": middleware.RequestID(r.Context()),
		"code_id":    result.CodeID,
		"session_id": result.SessionID,
	}).Debug("Redemption response sent")
}

// Heartbeat handles POST /sessions/heartbeat with the session token as bearer.
func (h *AccessHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sessionToken, ok := middleware.BearerToken(r)
	if !ok {
		writeAPIError(w, h.logger, models.NewUnauthorized("Missing session token"))
		return
	}

	if err := h.accessSvc.Heartbeat(r.Context(), sessionToken); err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// EndSession handles POST /sessions/end with the session token as bearer.
// Ending an already ended session returns 200 with ended=false.
func (h *AccessHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionToken, ok := middleware.BearerToken(r)
	if !ok {
		writeAPIError(w, h.logger, models.NewUnauthorized("Missing session token"))
		return
	}

	result, err := h.accessSvc.EndSession(r.Context(), sessionToken)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, result)
}
