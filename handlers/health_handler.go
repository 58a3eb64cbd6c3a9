package handlers

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports 503 when any dependency fails its ping.
func HealthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				result[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}

		respondWithJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": result,
		})
	}
}
