package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/access"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/constants"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// validationResponse is the body of a 400 caused by field validation.
type validationResponse struct {
	Code        string                  `json:"error"`
	Description string                  `json:"error_description"`
	Fields      models.ValidationErrors `json:"fields"`
}

// writeError maps err onto a status code and body. Redemption errors carry
// their own status; everything unknown is a 500 without internal detail.
func writeError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	var (
		redemptionErr *models.RedemptionError
		apiErr        *models.APIError
		validationErr models.ValidationErrors
	)

	switch {
	case errors.As(err, &redemptionErr):
		if redemptionErr.StatusCode == http.StatusServiceUnavailable {
			w.Header().Set(constants.HeaderRetryAfter, "1")
		}
		writeJSON(w, logger, redemptionErr.StatusCode, redemptionErr)
	case errors.As(err, &validationErr):
		writeJSON(w, logger, http.StatusBadRequest, validationResponse{
			Code:        "invalid_request",
			Description: validationErr.Error(),
			Fields:      validationErr,
		})
	case errors.As(err, &apiErr):
		writeJSON(w, logger, apiErr.StatusCode, apiErr)
	case errors.Is(err, access.ErrInvalidSessionToken):
		writeAPIError(w, logger, models.NewUnauthorized("Session token is invalid or expired"))
	case errors.Is(err, models.ErrSessionNotFound):
		writeAPIError(w, logger, models.NewNotFound("Session not found or already ended"))
	case errors.Is(err, models.ErrCodeNotFound):
		writeAPIError(w, logger, models.NewNotFound("Access code not found"))
	case errors.Is(err, models.ErrDuplicateCode):
		writeAPIError(w, logger, &models.APIError{
			Code:        "conflict",
			Description: "An access code with this value already exists",
			StatusCode:  http.StatusConflict,
		})
	default:
		logger.WithError(err).Error("Unhandled error in request")
		writeAPIError(w, logger, models.NewServerError("Internal server error"))
	}
}

func writeAPIError(w http.ResponseWriter, logger *logrus.Logger, apiErr *models.APIError) {
	writeJSON(w, logger, apiErr.StatusCode, apiErr)
}
