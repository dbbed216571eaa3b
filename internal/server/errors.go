package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// classifyErrorDetail is the only failure message clients see; the cause
// is logged.
const classifyErrorDetail = "Error in classify function"

// ErrorInfo is the body of middleware-level failures.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error     ErrorInfo `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorEnvelope{
		Error:     ErrorInfo{Code: code, Message: message},
		RequestID: c.GetString(requestIDKey),
	})
}

// DetailResponse is the body of request-level failures.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// ErrorResponse is how an error is presented over HTTP.
type ErrorResponse struct {
	StatusCode int
	Detail     string
}

// MapClassifyError maps classification failures to HTTP responses. Every
// pipeline failure is a client error with a generic message.
func MapClassifyError(err error) ErrorResponse {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return ErrorResponse{StatusCode: http.StatusRequestEntityTooLarge, Detail: "image too large"}
	case errors.Is(err, http.ErrMissingFile):
		return ErrorResponse{StatusCode: http.StatusUnprocessableEntity, Detail: "image file is required"}
	default:
		return ErrorResponse{StatusCode: http.StatusBadRequest, Detail: classifyErrorDetail}
	}
}
