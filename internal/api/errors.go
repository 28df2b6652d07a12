package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
)

// Error codes
const (
	CodeNotFound       = "NOT_FOUND"
	CodeValidation     = "VALIDATION_ERROR"
	CodeConflict       = "CONFLICT"
	CodeRetryExhausted = "RETRY_EXHAUSTED"
	CodeInternal       = "INTERNAL_ERROR"
)

// ErrorResponse defines the structure of an error response
type ErrorResponse struct {
	Message string                `json:"message"`
	Code    string                `json:"code,omitempty"`
	Fields  []apperror.FieldError `json:"fields,omitempty"`
}

// statusFor maps a domain error to its HTTP status and code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrUnsupportedEventType):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, apperror.ErrRetryExhausted):
		return http.StatusUnprocessableEntity, CodeRetryExhausted
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// newErrorResponse builds the body for err. Internal errors are not echoed.
func newErrorResponse(err error) (int, ErrorResponse) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		return status, ErrorResponse{Message: "Internal server error", Code: code}
	}

	resp := ErrorResponse{Message: err.Error(), Code: code}
	var verr *apperror.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	return status, resp
}

// writeError writes an error response and notices it on the request's trace
func (s *Server) writeError(c *gin.Context, err error) {
	status, resp := newErrorResponse(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled error")
	}
	s.deps.Tracer.RecordError(nrgin.Transaction(c), err)
	c.AbortWithStatusJSON(status, resp)
}

// bindError wraps a request decoding failure as a validation error
func bindError(err error) error {
	return apperror.NewValidation("body", err.Error())
}
