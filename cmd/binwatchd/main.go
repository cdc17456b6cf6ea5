// Command binwatchd runs the waste-bin telemetry backend: the HTTP API,
// the coordinate resolution pipeline, the backup retention worker, and the
// SMS delivery channel when a modem device is configured.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ecowatch/go-binwatch-backend/internal/cache"
	"github.com/ecowatch/go-binwatch-backend/internal/config"
	httpapi "github.com/ecowatch/go-binwatch-backend/internal/http"
	"github.com/ecowatch/go-binwatch-backend/internal/observability"
	"github.com/ecowatch/go-binwatch-backend/internal/ratelimit"
	"github.com/ecowatch/go-binwatch-backend/internal/repo"
	"github.com/ecowatch/go-binwatch-backend/internal/services"
	"github.com/ecowatch/go-binwatch-backend/internal/sms"
	"github.com/ecowatch/go-binwatch-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	// Modem is optional: with no device configured, position resolution keeps
	// working and notification delivery fails fast per job.
	var modem *sms.Modem
	if cfg.Modem.Device != "" {
		// Dial hands back the adapter even when open or init failed, so the
		// port is released at shutdown and sends report
		// ErrModemNotInitialized until a later Init succeeds.
		modem, err = sms.Dial(cfg.Modem.Device, cfg.Modem.BaudRate, cfg.Modem.SMSC)
		if err != nil {
			log.Error().Err(err).Str("device", cfg.Modem.Device).Msg("modem not ready, delivery degraded")
		} else {
			log.Info().Str("device", cfg.Modem.Device).Msg("modem ready")
		}
	}

	binCache := cache.New()
	limiter := ratelimit.New()

	store := &services.BackupStore{DB: db, Cache: binCache}
	resolver := &services.Resolver{
		Store:              store,
		Cache:              binCache,
		Limiter:            limiter,
		StalenessThreshold: cfg.Resolver.StalenessThreshold,
		DefaultLatitude:    cfg.Resolver.DefaultLatitude,
		DefaultLongitude:   cfg.Resolver.DefaultLongitude,
		IngestMaxRequests:  cfg.Ingest.MaxRequests,
		IngestWindow:       cfg.Ingest.Window,
	}

	notify := &services.NotifyService{
		DB:             db,
		Composer:       sms.Composer{TwoSegments: cfg.Modem.TwoSegments},
		Resolver:       resolver,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	dispatcher := &sms.Dispatcher{
		Recorder:    notify,
		SendTimeout: cfg.Modem.SendTimeout,
	}
	if modem != nil {
		dispatcher.Modem = modem
	}
	notify.Dispatcher = dispatcher

	// Background workers: sliding-window sweeper and backup retention.
	go limiter.Run(ctx)
	go store.RunCleanup(ctx, cfg.Resolver.CleanupInterval, cfg.Resolver.RetentionMaxAge, func(removed int64, err error) {
		if err != nil {
			log.Error().Err(err).Msg("backup cleanup pass failed")
			return
		}
		if removed > 0 {
			log.Info().Int64("removed", removed).Msg("backup cleanup pass")
		}
	})

	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		DB:       db,
		Resolver: resolver,
		Store:    store,
		Notify:   notify,
		ModemReady: func() bool {
			return modem != nil && modem.Initialized()
		},
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("binwatchd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// Let in-flight deliveries finish before the modem goes away.
	notify.Drain()
	if modem != nil {
		if err := modem.Close(); err != nil {
			log.Error().Err(err).Msg("modem close")
		}
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
}
