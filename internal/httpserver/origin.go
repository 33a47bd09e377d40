package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/origin"
)

// withOriginPolicy applies the same origin rules as the signaling upgrade and
// answers CORS preflights for browser clients on another origin.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.origins.Check(r); err != nil {
			status := http.StatusForbidden
			if errors.Is(err, origin.ErrMalformedOrigin) {
				status = http.StatusBadRequest
			}
			WriteJSON(w, status, map[string]any{"error": err.Error()})
			return
		}

		allowOrigin, _, ok := origin.NormalizeHeader(r.Header.Get("Origin"))
		if !ok {
			next(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allowOrigin)
		h.Set("Access-Control-Expose-Headers", "X-Request-ID")
		h.Add("Vary", "Origin")

		if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
			next(w, r)
			return
		}

		h.Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		if requested := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requested != "" {
			h.Set("Access-Control-Allow-Headers", requested)
		}
		h.Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	}
}
