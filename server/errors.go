package server

import (
	"net/http"

	"github.com/teranos/pact/errors"
)

// ErrInvalidRequest indicates the request was malformed or invalid
var ErrInvalidRequest = errors.New("invalid request")

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidRequest)
}

// statusFor maps an error class to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.IsMalformedInputError(err):
		return http.StatusBadRequest
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsTransportError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
