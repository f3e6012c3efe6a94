package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leaflet/api/internal/app"
	"leaflet/api/internal/authpw"
	"leaflet/api/internal/config"
	"leaflet/api/internal/logging"
	"leaflet/api/internal/notify"
	"leaflet/api/internal/session"
	"leaflet/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)
	authService := authpw.NewService(dataStore)

	mailer := notify.NewMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	var notifier *notify.Notifier
	if mailer.IsConfigured() {
		notifier = notify.NewNotifier(mailer, logger)
	} else {
		logger.Info("smtp not configured, collaboration notifications disabled")
	}

	var sessions *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer sessions.Close()
		logger.Info("using redis for refresh sessions")
	} else {
		logger.Info("using postgres for refresh sessions")
	}

	var service *app.Service
	if sessions != nil {
		service = app.New(cfg, dataStore, sessions, authService, notifier, logger)
	} else {
		service = app.New(cfg, dataStore, nil, authService, notifier, logger)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("leaflet api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	notifier.Flush()
}
