// Package handlers provides HTTP handler implementations for the public API.
//
// Every error leaves through fail, which writes the ErrorResponse envelope
// and records its code for the access log and the merchant_http_errors_total
// metric:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: 1740
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "on_cooldown",
//	  "message": "on cooldown for another 1740s"
//	}
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-merchant-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"offer_not_found"`
	// Human-readable message
	Message string `json:"message" example:"offer not found in the current rotation"`
}

// fail aborts with the error envelope. Server errors are logged through the
// request-scoped logger; client errors are left to the access log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	middleware.SetErrorCode(c, code)
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// failRetry is fail with a Retry-After header. Values below one second are
// sent as 1 so clients never retry immediately.
func failRetry(c *gin.Context, status int, code, msg string, afterSeconds int) {
	if afterSeconds < 1 {
		afterSeconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(afterSeconds))
	fail(c, status, code, msg)
}

// Fail is the exported variant of fail for the router's 404/405 fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
