// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers shared by every endpoint. All errors
// leave through fail (or failBlocked for moderation rejections) so the
// envelope shape and 5xx logging stay uniform.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-anon-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Moderation category; only set on content_blocked
	Category string `json:"category,omitempty" example:"sexual"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// failBlocked answers a moderation rejection with its category.
func failBlocked(c *gin.Context, category, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      ErrCodeContentBlocked,
		Category:  category,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// internalError hides err from the client but keeps it in the log line.
func internalError(c *gin.Context, err error) {
	middleware.LoggerFrom(c).Error().Err(err).Msg("request failed")
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
