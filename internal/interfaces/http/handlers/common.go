// Package handlers contains the gin HTTP handlers of the demand-analysis API.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/urbanpulse/demandmap/pkg/errors"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError maps application errors to HTTP status codes. Server-side
// failures are masked; client errors keep their message so callers can fix
// the request.
func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)

	message := err.Error()
	if !errors.IsClientError(code) {
		message = "internal server error"
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    code.String(),
		Message: message,
	})
}
