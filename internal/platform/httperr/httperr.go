// Package httperr builds the JSON error bodies every endpoint returns:
//
//	{"code": "conflicting_window", "message": "..."}
package httperr

import (
	"github.com/labstack/echo/v4"
)

// Body is the error payload.
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New returns an echo.HTTPError that renders as Body.
func New(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, Body{Code: code, Message: message})
}

// Wrap is New with the cause attached for logging.
func Wrap(status int, code, message string, cause error) *echo.HTTPError {
	return New(status, code, message).SetInternal(cause)
}
