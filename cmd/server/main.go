package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/retroboard/retroboard/internal/server"
	"github.com/retroboard/retroboard/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	cfg := server.NewConfigFromEnv()
	server.SetConfig(cfg)

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	st, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logrus.WithError(err).Error("Error closing store")
		}
	}()

	if err := st.Init(context.Background()); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize schema")
	}

	hub := server.NewHub()
	go hub.Run()
	logrus.Info("Hub started and ready to manage session connections")

	api := server.NewAPI(st, hub)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(api))

	janitorDone := make(chan struct{})
	janitorStop := make(chan struct{})
	go runSessionJanitor(st, cfg.SessionTTL, cfg.CleanupInterval, janitorStop, janitorDone)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logrus.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-serverErr:
		logrus.WithError(err).Error("HTTP server stopped unexpectedly")
	}

	close(janitorStop)
	<-janitorDone

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		logrus.WithError(err).Error("Hub shutdown incomplete")
	}
}

// runSessionJanitor periodically deletes boards whose creation time has
// aged past the TTL. A zero TTL disables cleanup entirely.
func runSessionJanitor(st *store.Store, ttl, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if ttl <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-ttl)
			removed, err := st.DeleteSessionsBefore(context.Background(), cutoff)
			if err != nil {
				logrus.WithError(err).Error("Session cleanup failed")
				continue
			}
			if removed > 0 {
				logrus.WithField("sessions", removed).Info("Removed expired sessions")
			}
		}
	}
}
