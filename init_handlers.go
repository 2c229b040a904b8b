// Package main: Handler katmanı başlatma.
package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/config"
	"github.com/akinalp/mqvicall/handlers"
	"github.com/akinalp/mqvicall/middleware"
	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/ws"
)

// Handlers, handler instance'larını tutan container struct.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Call     *handlers.CallHandler
	WS       *ws.Handler
	AuthMidd *middleware.AuthMiddleware
}

func initHandlers(svcs *Services, repos *Repositories, limiters *RateLimiters, hub *ws.Hub, cfg *config.Config, logger *logrus.Entry) *Handlers {
	wsHandler := ws.NewHandler(hub, svcs.Auth, cfg.CORS.AllowedOrigins)

	// Her doğrulanmış bağlantıda directory kaydı claim'lerden yenilenir.
	log := logger.WithField("component", "directory")
	wsHandler.OnConnect(func(claims *models.TokenClaims) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repos.User.Upsert(ctx, models.UserFromClaims(claims)); err != nil {
			log.WithError(err).WithField("user", claims.UserID).Warn("failed to upsert user")
		}
	})

	return &Handlers{
		Auth:     handlers.NewAuthHandler(repos.User),
		Call:     handlers.NewCallHandler(svcs.CallRelay, svcs.RoomToken, limiters.RoomToken),
		WS:       wsHandler,
		AuthMidd: middleware.NewAuthMiddleware(svcs.Auth),
	}
}
