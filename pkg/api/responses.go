package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIError represents a standardized error response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// RespondBadRequestWithDetails sends a 400 Bad Request response with additional details.
func RespondBadRequestWithDetails(c *gin.Context, message, details string) {
	c.JSON(http.StatusBadRequest, APIError{
		Error:   message,
		Code:    "BAD_REQUEST",
		Details: details,
	})
}

// RespondTooManyRequests sends a 429 response.
func RespondTooManyRequests(c *gin.Context, message string) {
	c.JSON(http.StatusTooManyRequests, APIError{
		Error: message,
		Code:  "TOO_MANY_REQUESTS",
	})
}

// RespondInternalError sends a 500 response and logs the underlying error.
// The error itself is not exposed to the client.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.Logger) {
	if log != nil {
		log.Error(fmt.Sprintf("Failed to %s", operation), zap.Error(err))
	}
	c.JSON(http.StatusInternalServerError, APIError{
		Error: fmt.Sprintf("failed to %s", operation),
		Code:  "INTERNAL_ERROR",
	})
}
