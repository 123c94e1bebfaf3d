package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/model"
)

// errValidation marks request errors that map to 400
var errValidation = errors.New("invalid request")

func invalid(msg string) error {
	return &validationError{msg: msg}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return errValidation }

// envelope is the response shape of every API route
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  int    `json:"upstreamStatus,omitempty"`
}

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	var upstream *model.UpstreamError
	var malformed *model.MalformedResponseError
	var httpErr *echo.HTTPError

	switch {
	case errors.Is(err, errValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrConfigurationMissing):
		return http.StatusServiceUnavailable
	case errors.As(err, &upstream), errors.As(err, &malformed):
		return http.StatusBadGateway
	case errors.As(err, &httpErr):
		return httpErr.Code
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error as an envelope
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	body := envelope{Error: err.Error()}

	var upstream *model.UpstreamError
	if errors.As(err, &upstream) {
		body.Status = upstream.StatusCode
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if msg, ok := httpErr.Message.(string); ok {
			body.Error = msg
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
