// Package main: Service katmanı başlatma.
//
// callRelay Hub callback'lerinden ÖNCE oluşturulmalı; disconnect ve
// signal callback'leri onu çağırır.
package main

import (
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/config"
	"github.com/akinalp/mqvicall/pkg/email"
	"github.com/akinalp/mqvicall/pkg/metrics"
	"github.com/akinalp/mqvicall/pkg/ratelimit"
	"github.com/akinalp/mqvicall/services"
	"github.com/akinalp/mqvicall/ws"
)

// Services, service instance'larını tutan container struct.
type Services struct {
	Auth      services.AuthService
	RoomToken services.RoomTokenService
	CallRelay services.CallRelayService
}

// RateLimiters, rate limiter instance'larını tutan container.
type RateLimiters struct {
	CallInvite *ratelimit.Limiter // callUser spam koruması
	RoomToken  *ratelimit.Limiter // POST /zego/token
}

// Stop, limiter'ların temizleme goroutine'lerini durdurur.
func (l *RateLimiters) Stop() {
	l.CallInvite.Stop()
	l.RoomToken.Stop()
}

func initServices(repos *Repositories, hub ws.EventPublisher, m *metrics.Metrics, cfg *config.Config, logger *logrus.Entry) (*Services, *RateLimiters) {
	limiters := &RateLimiters{
		CallInvite: ratelimit.New(cfg.Call.InviteLimit, cfg.Call.InviteWindow, cfg.Call.InviteCooldown),
		// Token isteği her arama kurulumunda iki kez olur (iki taraf).
		RoomToken: ratelimit.New(cfg.Call.InviteLimit*4, cfg.Call.InviteWindow, cfg.Call.InviteCooldown),
	}

	mailer := email.NewSender(cfg.Email.ResendAPIKey, cfg.Email.From)
	if cfg.Email.ResendAPIKey == "" {
		logger.Info("resend api key not set, missed call emails disabled")
	}

	return &Services{
		Auth:      services.NewAuthService(cfg.JWT.Secret),
		RoomToken: services.NewRoomTokenService(cfg.LiveKit, logger),
		CallRelay: services.NewCallRelayService(
			hub,
			repos.CallLog,
			repos.User,
			mailer,
			m,
			limiters.CallInvite,
			cfg.Call,
			logger,
		),
	}, limiters
}
