package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/elysion/user-service/internal/core/domain"
)

// errorResponse is the canonical error envelope for all API errors.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

var statusByError = []struct {
	err    error
	status int
}{
	{domain.ErrEmailInUse, http.StatusConflict},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrAlreadyActive, http.StatusConflict},
	{domain.ErrAlreadyUsed, http.StatusConflict},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized},
	{domain.ErrReauthFailed, http.StatusUnauthorized},
	{domain.ErrNotActivated, http.StatusForbidden},
	{domain.ErrForbidden, http.StatusForbidden},
	{domain.ErrInvalidToken, http.StatusBadRequest},
	{domain.ErrTokenExpired, http.StatusGone},
	{domain.ErrThrottled, http.StatusTooManyRequests},
	{domain.ErrUserNotFound, http.StatusNotFound},
	{domain.ErrInvalidRole, http.StatusBadRequest},
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrUnknownFilter, http.StatusBadRequest},
	{domain.ErrPreferenceNotFound, http.StatusNotFound},
}

// NewHTTPErrorHandler maps domain errors to status codes and renders
// {"error": "...", "kind": "..."}. Unknown errors are logged and reported as 500.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, resp := resolveError(err, log, c)
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, resp)
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, errorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, errorResponse{Error: fmt.Sprintf("%v", he.Message)}
	}

	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status, errorResponse{Error: err.Error(), Kind: domain.Kind(err)}
		}
	}

	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
}
