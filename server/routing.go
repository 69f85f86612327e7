package server

import (
	"net/http"
)

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/certificates/{traceId}", s.corsMiddleware(s.HandleCertificate))
	mux.HandleFunc("/healthz", s.corsMiddleware(s.HandleHealth))
	mux.HandleFunc("/ws/certificates", s.corsMiddleware(s.HandleWebSocket))
	return mux
}

// corsMiddleware adds CORS headers for allowed origins and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
