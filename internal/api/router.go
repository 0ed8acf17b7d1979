// Package api exposes the read path of the published payload and the
// current market session over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"market-syncv1/internal/markethours"
	"market-syncv1/internal/model"
	"market-syncv1/internal/warmer"
)

// PayloadSource returns the current payload (warmer.Warmer).
type PayloadSource interface {
	Get(ctx context.Context) (model.Payload, error)
}

// SessionSource reports the current market session (markethours.Clock).
type SessionSource interface {
	Now() markethours.State
}

// NewRouter sets up the HTTP routes.
func NewRouter(payload PayloadSource, session SessionSource, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/metrics/latest", func(w http.ResponseWriter, r *http.Request) {
		p, err := payload.Get(r.Context())
		if errors.Is(err, warmer.ErrNoFallback) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payload not available yet"})
			return
		}
		if err != nil {
			logger.Error("payload read failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	mux.HandleFunc("GET /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Now())
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
