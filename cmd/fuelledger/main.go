package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/fuel-ledger/internal/analytics"
	corecfg "github.com/aevon-lab/fuel-ledger/internal/core/config"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage/memory"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage/postgres"
	"github.com/aevon-lab/fuel-ledger/internal/ledger"
	"github.com/aevon-lab/fuel-ledger/internal/migrations"
	"github.com/aevon-lab/fuel-ledger/internal/notify"
	"github.com/aevon-lab/fuel-ledger/internal/observability/metrics"
	"github.com/aevon-lab/fuel-ledger/internal/pricing"
	"github.com/aevon-lab/fuel-ledger/internal/server"
)

// stores bundles the storage backends selected by database.type.
type stores struct {
	events    storage.FuelEventStore
	prices    storage.PriceStore
	directory storage.Directory
	db        *sql.DB
	close     func() error
}

func main() {
	configPath := flag.String("config", "fuelledger.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"server", cfg.Server,
		"database_type", cfg.Database.Type,
		"pricing", cfg.Pricing,
		"analytics", cfg.Analytics)

	// 2. Initialize Storage
	st, err := openStores(cfg.Database)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.close(); err != nil {
			slog.Error("Failed to close storage", "error", err)
		}
	}()

	metrics.Init(st.db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize Pricing
	prices := pricing.NewCache(st.prices)
	if cfg.Pricing.SeedFile != "" {
		book, err := pricing.LoadSeedFile(cfg.Pricing.SeedFile)
		if err != nil {
			slog.Error("Failed to load price seed", "path", cfg.Pricing.SeedFile, "error", err)
			os.Exit(1)
		}
		if err := pricing.Seed(ctx, prices, book); err != nil {
			slog.Error("Failed to apply price seed", "error", err)
			os.Exit(1)
		}
	} else if _, err := prices.Refresh(ctx); err != nil {
		slog.Error("Failed to load price tables", "error", err)
		os.Exit(1)
	}
	refresher := pricing.NewRefresher(prices, cfg.Pricing.RefreshEvery())

	// 4. Initialize Ledger and Analytics, connected through the change bus
	bus := notify.NewBus()

	ledgerSvc := ledger.NewService(st.events, prices, bus,
		ledger.WithMaxBodySizeMB(cfg.Server.MaxBodySizeMB))

	analyticsSvc := analytics.NewService(st.events, st.directory,
		analytics.WithTopN(cfg.Analytics.TopN),
		analytics.WithEvolutionPeriods(cfg.Analytics.EvolutionPeriods),
		analytics.WithSeriesCacheSize(cfg.Analytics.SeriesCacheSize),
		analytics.WithLocation(cfg.Analytics.Location()))
	bus.Subscribe(analyticsSvc.HandleChange)

	// 5. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), st.db, cfg.Server.Mode)
	ledgerSvc.RegisterRoutes(srv.Engine)
	analyticsSvc.RegisterRoutes(srv.Engine)
	pricing.NewService(prices).RegisterRoutes(srv.Engine)

	// 6. Start Services
	go func() {
		if err := refresher.Start(ctx); err != nil {
			slog.Error("Price refresher stopped with error", "error", err)
		}
	}()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func openStores(cfg corecfg.DatabaseConfig) (*stores, error) {
	if cfg.Type == corecfg.DatabaseMemory {
		slog.Warn("Using in-memory storage; data is lost on restart")
		return &stores{
			events:    memory.NewEventStore(),
			prices:    memory.NewPriceStore(),
			directory: memory.NewDirectory(),
			close:     func() error { return nil },
		}, nil
	}

	adapter, err := postgres.NewAdapter(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
	if err != nil {
		return nil, err
	}

	if err := migrations.RunMigrations(adapter.DB(), cfg.AutoMigrate); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	if err := adapter.Prepare(); err != nil {
		adapter.Close()
		return nil, err
	}

	return &stores{
		events:    adapter,
		prices:    postgres.NewPriceAdapter(adapter.DB()),
		directory: postgres.NewDirectoryAdapter(adapter.DB()),
		db:        adapter.DB(),
		close:     adapter.Close,
	}, nil
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
