package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidecorsi/beatstore-backend/api/routes"
	"github.com/davidecorsi/beatstore-backend/internal/catalog"
	"github.com/davidecorsi/beatstore-backend/internal/notify"
	"github.com/davidecorsi/beatstore-backend/internal/orders"
	"github.com/davidecorsi/beatstore-backend/internal/reservation"
	"github.com/davidecorsi/beatstore-backend/internal/settlement"
	"github.com/davidecorsi/beatstore-backend/pkg/config"
	"github.com/davidecorsi/beatstore-backend/pkg/db"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
	"github.com/davidecorsi/beatstore-backend/pkg/metrics"
	"github.com/davidecorsi/beatstore-backend/pkg/migrate"
	"github.com/davidecorsi/beatstore-backend/pkg/paypal"
	"github.com/davidecorsi/beatstore-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paypalClient, err := paypal.NewClient(cfg.PayPal, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create paypal client", err)
		os.Exit(1)
	}

	notifier, err := notify.NewClient(cfg.Bot, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification client", err)
		os.Exit(1)
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())

	ledger, err := settlement.NewLedger(redisClient, logg, cfg.Settlement.LedgerTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency ledger", err)
		os.Exit(1)
	}

	resolver, err := settlement.NewResolver(paypalClient, catalogRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create purchase resolver", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		DB:           dbClient,
		Orders:       orders.NewRepository(dbClient.DB()),
		Catalog:      catalogRepo,
		Reservations: reservation.NewRepository(dbClient.DB()),
		Ledger:       ledger,
		Resolver:     resolver,
		Notifier:     notifier,
		Logger:       logg,
		Metrics:      webhookMetrics,
		Config:       cfg.Settlement,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"paypal_env": cfg.PayPal.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DBPinger:     dbClient,
			RedisPinger:  redisClient,
			Settlement:   settlementService,
			PayPalClient: paypalClient,
			Metrics:      registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
