// Package main, mqvicall relay sunucusunun giriş noktasıdır.
//
// Wire-up sırası:
//  1. Config + logger
//  2. Database (gömülü migration'lar)
//  3. Repository'ler
//  4. WebSocket Hub
//  5. Service'ler ve rate limiter'lar
//  6. Hub callback'leri
//  7. Handler'lar, middleware, route'lar
//  8. CORS + HTTP server
//  9. Graceful shutdown
//
// Global değişken yok; her şey burada oluşturulup birbirine bağlanıyor.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/config"
	"github.com/akinalp/mqvicall/database"
	"github.com/akinalp/mqvicall/pkg/logging"
	"github.com/akinalp/mqvicall/pkg/metrics"
	"github.com/akinalp/mqvicall/ws"
)

func main() {
	// ─── 1. Config ───
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if err := cfg.ValidateServer(); err != nil {
		logrus.WithError(err).Fatal("invalid server config")
	}

	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("failed to set up logging")
	}
	log := logger.WithField("component", "main")
	log.WithField("addr", cfg.Server.Addr()).Info("mqvicall relay starting")

	// ─── 2. Database ───
	db, err := database.New(cfg.Database.Path, database.Migrations(), logrus.NewEntry(logger))
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer db.Close()

	// ─── 3. Repository Layer ───
	repos := initRepositories(db.Conn)

	// ─── 4. WebSocket Hub ───
	hub := ws.NewHub(logrus.NewEntry(logger))
	m := metrics.New(true)

	// ─── 5. Service Layer ───
	svcs, limiters := initServices(repos, hub, m, cfg, logrus.NewEntry(logger))
	defer limiters.Stop()

	// ─── 6. Hub callback'leri (Run'dan önce) ───
	registerHubCallbacks(hub, svcs, m, logrus.NewEntry(logger))
	go hub.Run()

	// ─── 7. Handler + Route ───
	h := initHandlers(svcs, repos, limiters, hub, cfg, logrus.NewEntry(logger))
	mux := http.NewServeMux()
	initRoutes(mux, h, svcs, db, m)

	// ─── 8. CORS + Server ───
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      corsHandler.Handler(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ─── 9. Graceful Shutdown ───
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.WithField("addr", cfg.Server.Addr()).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-done
	log.Info("shutting down")

	// Önce ws bağlantıları kapanır; relay disconnect callback'leriyle aramaları kapatır.
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}

	svcs.CallRelay.Shutdown()
	log.Info("server stopped gracefully")
}
