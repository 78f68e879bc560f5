package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pawsos/backend/internal/config"
	"github.com/pawsos/backend/internal/db"
	"github.com/pawsos/backend/internal/geocode"
	httpapi "github.com/pawsos/backend/internal/http"
	"github.com/pawsos/backend/internal/metrics"
	"github.com/pawsos/backend/internal/notify"
	"github.com/pawsos/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "pawsos-backend").Logger()

	ctx := context.Background()

	var store service.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store = db.NewMemory(logger)
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	default:
		pg, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer pg.Close()
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatal().Err(err).Msg("failed to migrate db")
			}
		}
		store = pg
	}

	var sender service.Sender
	if cfg.PushURL == "" {
		sender = notify.LogSender{Logger: logger}
		logger.Info().Msg("using log-only push sender")
	} else {
		sender = &notify.ExpoSender{BaseURL: cfg.PushURL, AccessToken: cfg.PushAccessToken}
	}

	var locator service.Locator
	if cfg.GeocodeURL != "" {
		locator = &geocode.NominatimGeocoder{BaseURL: cfg.GeocodeURL, UserAgent: cfg.GeocodeUserAgent}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	engine := &service.Engine{
		Store: store,
		Dispatcher: &service.Dispatcher{
			Store:   store,
			Sender:  sender,
			Logger:  logger,
			Metrics: m,
			Timeout: cfg.PushTimeout,
		},
		Locator: locator,
		Metrics: m,
		Logger:  logger,
	}

	router := httpapi.Router(cfg, engine, store, m, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
