package server

import (
	"net/http"
	"strings"
)

const maxTraceIDLength = 64

// checkOrigin validates the Origin header against server.allowed_origins.
// Prefix matching allows any port. Requests without an origin (CLI clients,
// tests) are accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// normalizeTraceID lowercases a hex trace id and rejects anything else.
func normalizeTraceID(id string) (string, error) {
	if id == "" || len(id) > maxTraceIDLength {
		return "", NewInvalidRequestError("invalid trace id %q", id)
	}
	id = strings.ToLower(id)
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", NewInvalidRequestError("trace id %q is not hex", id)
		}
	}
	return id, nil
}
