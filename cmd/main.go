package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/alexzouz/ha-linky/internal/admin"
	"github.com/alexzouz/ha-linky/internal/api"
	"github.com/alexzouz/ha-linky/internal/config"
	"github.com/alexzouz/ha-linky/internal/coordinator"
	"github.com/alexzouz/ha-linky/internal/database"
	server "github.com/alexzouz/ha-linky/internal/grpc"
	"github.com/alexzouz/ha-linky/internal/metrics"
	"github.com/alexzouz/ha-linky/internal/pricehistory"
	"github.com/alexzouz/ha-linky/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

// Command ha-linky keeps hourly energy statistics of Linky meters in sync
// with the Conso API.
//
// The service supports:
//   - A one year history import the first time a meter is seen
//   - Incremental catch-up at 06:MM:SS and 09:MM:SS local time
//   - Cost series priced from fixed or external price entities
//   - CSV imports of load curve exports
//   - SQLite or Postgres/TimescaleDB storage
//   - gRPC and HTTP administration with Prometheus metrics
//
// Usage:
//
//	ha-linky [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-env-file string
//	      optional dotenv file loaded before the config (default ".env")
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("Service error: %v", err)
	}
	logger.Info("Shutdown complete")
}

func newLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN(), cfg.Database.Timescale)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	store.SetMaxOpenConns(cfg.Database.MaxConnections)

	m := metrics.New(prometheus.DefaultRegisterer)
	health := server.NewHealthChecker()

	prices, err := newPriceProvider(cfg.PriceHistory, logger)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(loc, logger)
	manager := coordinator.NewManager(ctx, sched, logger)

	for _, mc := range cfg.Meters {
		c, err := newCoordinator(ctx, cfg, mc, loc, store, prices, health, m, logger)
		if err != nil {
			logger.WithError(err).WithField("prm", mc.PRM).Error("Meter skipped")
			continue
		}
		if err := manager.Setup(c); err != nil {
			return err
		}
	}
	sched.Start()

	grpcSrv, err := server.SetupServer(manager, health, server.ServerConfig{
		RateLimit:      cfg.Server.RateLimit,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, m, logger)
	if err != nil {
		return fmt.Errorf("failed to setup server: %w", err)
	}

	adminSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.AdminPort),
		Handler:           admin.NewRouter(manager, loc, prometheus.DefaultGatherer, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		logger.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		logger.WithField("addr", adminSrv.Addr).Info("Starting admin server")
		if err := adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Initiating shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcSrv.GracefulStop()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Admin server shutdown")
		}
		<-sched.Stop().Done()
		manager.Wait()
		return nil
	})

	return g.Wait()
}

func newPriceProvider(cfg config.PriceHistoryConfig, logger *logrus.Logger) (pricehistory.Provider, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	client := pricehistory.NewClient(cfg.URL, cfg.Token, cfg.Timeout, logger)
	cached, err := pricehistory.NewCachedProvider(client, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}
	return cached, nil
}

func newCoordinator(
	ctx context.Context,
	cfg *config.Config,
	mc config.MeterConfig,
	loc *time.Location,
	store database.StatisticsStore,
	prices pricehistory.Provider,
	health *server.HealthChecker,
	m *metrics.Metrics,
	logger *logrus.Logger,
) (*coordinator.Coordinator, error) {
	client := api.NewClient(mc.Token, mc.PRM,
		api.WithBaseURL(cfg.API.BaseURL),
		api.WithUserAgent(cfg.API.UserAgent),
		api.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateLimitBurst),
		api.WithMetrics(m),
		api.WithLogger(logger),
	)
	if err := client.ValidateToken(ctx); err != nil {
		return nil, err
	}

	c := coordinator.New(
		coordinator.Meter{
			PRM:        mc.PRM,
			Name:       mc.Name,
			Production: mc.Production,
			Rules:      mc.Rules,
		},
		api.NewHistoryFetcher(client, loc, logger, nil),
		store,
		coordinator.WithPriceProvider(prices),
		coordinator.WithLocation(loc),
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(m),
		coordinator.WithStatusListener(health.Observe),
	)
	health.Observe(c.Snapshot())
	return c, nil
}
