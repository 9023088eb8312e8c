// Command server runs the traveling merchant HTTP API.
//
// @title                       Traveling Merchant API
// @version                     1.0
// @description                 Rotating merchant shop: timed offers, wallet purchases with cooldowns, and admin catalog management.
// @BasePath                    /api/v1
// @securityDefinitions.apikey  AdminToken
// @in                          header
// @name                        X-Admin-Token
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-merchant-backend/internal/config"
	httpapi "github.com/tbourn/go-merchant-backend/internal/http"
	"github.com/tbourn/go-merchant-backend/internal/observability"
	"github.com/tbourn/go-merchant-backend/internal/repo"
	"github.com/tbourn/go-merchant-backend/internal/sampler"
	"github.com/tbourn/go-merchant-backend/internal/seed"
	"github.com/tbourn/go-merchant-backend/internal/services"
	"github.com/tbourn/go-merchant-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version string

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Logger = sysutil.NewLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName)
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	appVersion := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")

	shutdownTracing, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		return err
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if cfg.OTEL.Enabled {
		if err := repo.InstrumentTracing(db); err != nil {
			return err
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if err := seed.LoadAndApply(ctx, db, cfg.Merchant.SeedPath); err != nil {
		return err
	}

	opts := services.MerchantOptions{
		SettingsTTL:     cfg.Merchant.SettingsCacheTTL,
		PurchaseTimeout: cfg.Merchant.PurchaseTimeout,
		AuditBuffer:     cfg.Merchant.AuditBuffer,
		AuditMaxRetries: cfg.Merchant.AuditMaxRetries,
	}
	if cfg.Merchant.RandomSeed != 0 {
		opts.RNG = sampler.NewSeededRNG(cfg.Merchant.RandomSeed)
		log.Warn().Uint64("seed", cfg.Merchant.RandomSeed).Msg("merchant sampling is deterministic")
	}
	m := services.NewMerchant(db, opts)
	m.Start(ctx, cfg.Merchant.RotationTick)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, m, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion).
			Bool("admin_api", cfg.Merchant.AdminToken != "").
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var cause error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
			cause = fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// HTTP stops first so no purchase races the audit drain.
	err = stopAll(shutdownCtx, cause,
		srv.Shutdown,
		m.Shutdown,
		shutdownTracing,
		func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	)
	if err != nil {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// stopAll runs every step in order, even after a failure, and joins their
// errors with cause.
func stopAll(ctx context.Context, cause error, steps ...func(context.Context) error) error {
	errs := []error{cause}
	for _, step := range steps {
		errs = append(errs, step(ctx))
	}
	return errors.Join(errs...)
}
