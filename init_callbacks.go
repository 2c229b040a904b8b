// Package main: WebSocket Hub callback wire-up.
//
// Hub ws paketinde yaşar ve service'leri tanımaz; bağlantı burada kurulur.
// Callback'ler Hub.Run() goroutine'inden ayrı goroutine'de çalışır.
package main

import (
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/pkg/metrics"
	"github.com/akinalp/mqvicall/ws"
)

func registerHubCallbacks(hub *ws.Hub, svcs *Services, m *metrics.Metrics, logger *logrus.Entry) {
	log := logger.WithField("component", "presence")

	hub.OnUserFirstConnect(func(userID string) {
		m.UserOnline()
		log.WithField("user", userID).Debug("user online")
	})

	hub.OnUserFullyDisconnected(func(userID string) {
		m.UserOffline()
		log.WithField("user", userID).Debug("user offline")
		svcs.CallRelay.HandleDisconnect(userID)
	})

	hub.OnCallSignal(svcs.CallRelay.HandleSignal)
}
