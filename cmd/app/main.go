// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"membership-upgrade/internal/config"
	"membership-upgrade/internal/domain/ports/adapter"
	payAdapters "membership-upgrade/internal/infra/adapters/payment"
	"membership-upgrade/internal/infra/api"
	pg "membership-upgrade/internal/infra/db/postgres"
	"membership-upgrade/internal/infra/logging"
	"membership-upgrade/internal/infra/metrics"
	"membership-upgrade/internal/infra/notify"
	red "membership-upgrade/internal/infra/redis"
	"membership-upgrade/internal/infra/sched"
	"membership-upgrade/internal/infra/worker"
	"membership-upgrade/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no PII redaction)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Repositories ----
	userRepo := pg.NewUserRepo(pool)
	upgradeRepo := pg.NewUpgradeRepo(pool)
	dmailRepo := pg.NewDmailRepo(pool)
	modActionRepo := pg.NewModActionRepo(pool)

	// ---- Redis lock (optional) ----
	var locker adapter.Locker
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set; upgrade processing is serialized by row locks only")
	}

	// ---- Payment gateway ----
	var gateway adapter.PaymentGateway
	switch cfg.Payment.Provider {
	case "stripe":
		gateway, err = payAdapters.NewStripeGateway(cfg.Payment.Stripe.SecretKey)
	case "zarinpal":
		var zp *payAdapters.ZarinPalGateway
		zp, err = payAdapters.NewZarinPalGateway(cfg.Payment.ZarinPal.MerchantID, cfg.Payment.ZarinPal.Sandbox)
		if err == nil {
			zp.SetRefundAuth(cfg.Payment.ZarinPal.AccessToken, "")
			gateway = zp
		}
	default:
		gateway = payAdapters.NewNoopPaymentGateway()
	}
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.Payment.Provider).Msg("payment gateway")
	}
	logger.Info().Str("provider", gateway.Name()).Msg("payment gateway ready")

	// ---- Notifications ----
	tpl, err := notify.DefaultTemplates()
	if err != nil {
		logger.Fatal().Err(err).Msg("notification templates")
	}
	sink := notify.NewStoreSink(dmailRepo, modActionRepo, tpl, logger)

	// ---- Use case ----
	upgradeUC := usecase.NewUpgradeUseCase(upgradeRepo, userRepo, tm, sink, gateway, locker, usecase.UpgradeOptions{
		Currency:   cfg.Payment.Currency,
		SuccessURL: cfg.Payment.SuccessURL,
		CancelURL:  cfg.Payment.CancelURL,
		LockTTL:    cfg.Redis.LockTTL,
	}, logger)

	// ---- Reconciler ----
	workers := worker.NewPool(cfg.Reconciler.Workers, cfg.Reconciler.BatchSize, logger)
	workers.Start(ctx)
	defer workers.Stop()
	reconciler := sched.NewUpgradeReconciler(upgradeUC, upgradeRepo, workers, cfg.Reconciler, logger)
	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("reconciler stopped")
		}
	}()

	// ---- HTTP ----
	var webhook http.Handler
	if cfg.Payment.Provider == "stripe" && cfg.Payment.Stripe.WebhookSecret != "" {
		webhook = payAdapters.NewStripeWebhookHandler(cfg.Payment.Stripe.WebhookSecret, upgradeUC, logger)
	}
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	srv := api.NewServer(upgradeUC, auth, webhook, cfg.HTTP.RequestTimeout, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
}
