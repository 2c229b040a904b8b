// Package main: HTTP route registration.
package main

import (
	"net/http"

	"github.com/akinalp/mqvicall/database"
	"github.com/akinalp/mqvicall/handlers"
	"github.com/akinalp/mqvicall/pkg/metrics"
)

// initRoutes, endpoint'leri mux'a bağlar.
// Literal path'ler ("/api/calls/active") parametrik olanlardan önce gelir.
func initRoutes(mux *http.ServeMux, h *Handlers, svcs *Services, db *database.DB, m *metrics.Metrics) {
	auth := func(fn http.HandlerFunc) http.Handler {
		return h.AuthMidd.Require(fn)
	}

	mux.HandleFunc("GET /api/health", handlers.Health(db.Conn, svcs.CallRelay.ActiveCount))
	mux.Handle("GET /metrics", m.Handler())

	mux.Handle("GET /api/users/me", auth(h.Auth.Me))

	// Oda credential'ı: /zego/token mevcut client'larla uyumluluk için.
	mux.Handle("POST /zego/token", auth(h.Call.Token))
	mux.Handle("POST /api/call/token", auth(h.Call.Token))

	mux.Handle("GET /api/calls/active", auth(h.Call.Active))
	mux.Handle("GET /api/calls", auth(h.Call.History))

	// WebSocket: tarayıcı header gönderemediği için token query'de (?token=).
	mux.HandleFunc("GET /ws", h.WS.HandleConnection)
}
