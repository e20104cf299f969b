package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/snapvault/backend/internal/services"
)

// respondError maps service sentinel errors to HTTP status codes. Unmapped
// errors are internal; their details stay in the logs, not the response.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrUpstream):
		status = http.StatusBadGateway
	default:
		message = "internal server error"
	}

	c.JSON(status, gin.H{"success": false, "error": message})
}
