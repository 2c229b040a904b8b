package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/akinalp/mqvicall/pkg"
)

// Pinger, *sql.DB tarafından karşılanır.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthStatus, GET /api/health yanıtı.
type HealthStatus struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ActiveCalls int    `json:"active_calls"`
}

// Health, DB'ye ping atar ve aktif arama sayısını döner.
func Health(db Pinger, activeCalls func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			pkg.ErrorWithMessage(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}

		pkg.JSON(w, http.StatusOK, HealthStatus{
			Status:      "ok",
			Service:     "mqvicall",
			ActiveCalls: activeCalls(),
		})
	}
}
