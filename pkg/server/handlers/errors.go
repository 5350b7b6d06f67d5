package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/nlp"
	"github.com/soundprediction/anamnesis/pkg/queue"
	"github.com/soundprediction/anamnesis/pkg/server/dto"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// validation sentinels that map to a 400
var badRequestErrors = []error{
	types.ErrEmptyName,
	types.ErrEmptyGroupID,
	types.ErrEmptyUUID,
	types.ErrEmptyContent,
	types.ErrEmptyQuery,
	types.ErrInvalidLimit,
}

// respondError maps domain errors onto transport status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case isBadRequest(err):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, driver.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, driver.ErrConflict):
		status = http.StatusConflict
		code = "conflict"
	case errors.Is(err, driver.ErrUnavailable), errors.Is(err, queue.ErrShuttingDown):
		status = http.StatusServiceUnavailable
		code = "unavailable"
	case errors.Is(err, nlp.ErrRateLimit):
		status = http.StatusTooManyRequests
		code = "rate_limited"
	case errors.Is(err, nlp.ErrUpstreamTimeout):
		status = http.StatusGatewayTimeout
		code = "upstream_timeout"
	}

	c.JSON(status, dto.ErrorResponse{
		Error:   code,
		Message: err.Error(),
		Code:    status,
	})
}

func isBadRequest(err error) bool {
	for _, sentinel := range badRequestErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// badRequest reports a request-shape problem found before any service call.
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "invalid_request",
		Message: message,
		Code:    http.StatusBadRequest,
	})
}
