// Command server runs the doctor booking API.
//
//	@title						Speedy Doc Link API
//	@version					1.0
//	@description				Doctor booking and checkout backend.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and the access token.
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
	"github.com/rs/zerolog/log"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/auth"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/checkout"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/config"
	httpapi "github.com/bhartiyash03-sys/speedy-doc-link/internal/http"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/notify"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/observability"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/repo"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/sysutil"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional outside development.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	version := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), "dev")
	sysutil.ConfigureLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
		shutdownOTel = observability.NoopShutdown
	}

	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open booking store")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate booking store")
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	if err != nil {
		log.Fatal().Err(err).Msg("auth")
	}

	var gateway checkout.Gateway
	if cfg.Checkout.StripeSecretKey != "" {
		gateway = checkout.NewStripeGateway(cfg.Checkout.StripeSecretKey, cfg.Checkout.Retries)
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set; using the stub checkout gateway")
		gateway = checkout.NewStubGateway()
	}

	notifiers := []notify.Notifier{notify.LogNotifier{Logger: log.Logger}}
	if cfg.Notify.ResendAPIKey != "" {
		notifiers = append(notifiers, notify.NewEmailNotifier(cfg.Notify.ResendAPIKey, cfg.Notify.From))
	}
	var publisher *notify.AMQPNotifier
	if cfg.Notify.AMQPURL != "" {
		publisher, err = notify.NewAMQPNotifier(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq")
		}
		notifiers = append(notifiers, publisher)
	}
	dispatcher := notify.NewDispatcher(cfg.Notify.Timeout, notifiers...)

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       db,
		Gateway:  gateway,
		Notifier: dispatcher,
		Verifier: verifier,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := dispatcher.Wait(sctx); err != nil {
		log.Warn().Err(err).Msg("pending notifications dropped")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("close rabbitmq")
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("server stopped")
}
