//
//
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/instrument-control/icb/internal/protocol"
)

// ToAPIError maps a bridge error to an HTTP status code, an envelope error
// code and a message. Host-side failure classes keep their identity across
// the HTTP boundary so callers can distinguish a slow host from a refused
// command.
func ToAPIError(err error) (int, string, string) {
	if err == nil {
		return http.StatusOK, "", ""
	}

	var timeoutErr *protocol.TimeoutError
	if errors.As(err, &timeoutErr) {
		return http.StatusGatewayTimeout, "TIMEOUT", timeoutErr.Error()
	}

	var protoErr *protocol.ProtocolError
	if errors.As(err, &protoErr) {
		return http.StatusBadGateway, "PROTOCOL_ERROR", protoErr.Error()
	}

	var domainErr *protocol.DomainError
	if errors.As(err, &domainErr) {
		return http.StatusUnprocessableEntity, "DOMAIN_ERROR", domainErr.Error()
	}

	var stateErr *protocol.InvalidStateError
	if errors.As(err, &stateErr) {
		return http.StatusConflict, "INVALID_STATE", stateErr.Error()
	}

	var missingErr *protocol.MissingResourceError
	if errors.As(err, &missingErr) {
		return http.StatusConflict, "MISSING_RESOURCE", missingErr.Error()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Request cancelled"
	}

	return http.StatusInternalServerError, "INTERNAL", err.Error()
}

// writeAPIError writes the envelope for a mapped bridge error.
func writeAPIError(w http.ResponseWriter, err error) {
	status, code, message := ToAPIError(err)
	WriteError(w, status, code, message, nil)
}
