// Package main is the entry point for the Quantfolio index-fund rebalancer.
// The server periodically builds a market-cap target index, compares it to
// the user's actual holdings and publishes bounded purchase plans over an
// HTTP API. Planning is advisory: no orders are ever placed from here.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quantfolio/quantfolio/internal/clientdata"
	"github.com/quantfolio/quantfolio/internal/clients/binance"
	"github.com/quantfolio/quantfolio/internal/clients/coinmarketcap"
	"github.com/quantfolio/quantfolio/internal/config"
	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/domain"
	"github.com/quantfolio/quantfolio/internal/modules/momentum"
	"github.com/quantfolio/quantfolio/internal/modules/rebalancing"
	rebalancinghandlers "github.com/quantfolio/quantfolio/internal/modules/rebalancing/handlers"
	"github.com/quantfolio/quantfolio/internal/modules/settings"
	settingshandlers "github.com/quantfolio/quantfolio/internal/modules/settings/handlers"
	"github.com/quantfolio/quantfolio/internal/scheduler"
	"github.com/quantfolio/quantfolio/internal/server"
	"github.com/quantfolio/quantfolio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Quantfolio")

	// config.db holds settings and user preferences; cache.db holds client
	// response blobs.
	configDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "config.db"),
		Profile: database.ProfileStandard,
		Name:    "config",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open config database")
	}
	defer configDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{configDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Migration failed")
		}
	}

	settingsRepo := settings.NewRepository(configDB.Conn(), log)
	settingsService := settings.NewService(settingsRepo, log)

	cacheRepo := clientdata.NewRepository(cacheDB.Conn())

	// Settings database takes precedence over environment for credentials,
	// so they can be rotated without a restart losing them.
	apiKey, apiSecret := cfg.BinanceAPIKey, cfg.BinanceAPISecret
	if v, err := settingsRepo.Get("binance_api_key"); err == nil && v != nil && *v != "" {
		apiKey = *v
	}
	if v, err := settingsRepo.Get("binance_api_secret"); err == nil && v != nil && *v != "" {
		apiSecret = *v
	}

	binanceClient := binance.NewClient(cfg.BinanceBaseURL, apiKey, apiSecret, cacheRepo, log)
	marketData := coinmarketcap.NewClient(cfg.CoinMarketCapKey, cacheRepo, log)
	backfiller := momentum.NewBackfiller(binanceClient, log)

	rebalancingService := rebalancing.NewService(
		marketData,
		map[domain.Venue]rebalancing.VenueClient{domain.VenueBinance: binanceClient},
		backfiller,
		settingsService,
		log,
	)
	planStore := rebalancing.NewPlanStore()

	// Background jobs: periodic planning plus cache maintenance.
	sched := scheduler.New(log)
	rebalanceJob := scheduler.NewRebalanceJob(rebalancingService, planStore, settingsService, log)
	if err := sched.AddJob(cfg.RebalanceSchedule, rebalanceJob); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.RebalanceSchedule).Msg("Failed to schedule rebalance job")
	}

	cleanupJob := clientdata.NewCleanupJob(cacheRepo, log)
	err = sched.AddJob("@daily", scheduler.JobFunc{
		JobName: "cache_cleanup",
		Fn: func() error {
			cleanupJob.Run()
			return nil
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache cleanup job")
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:                log,
		ConfigDB:           configDB,
		CacheDB:            cacheDB,
		Port:               cfg.Port,
		DevMode:            cfg.DevMode,
		SettingsHandler:    settingshandlers.NewHandler(settingsService, log),
		RebalancingHandler: rebalancinghandlers.NewHandler(rebalancingService, planStore, log),
		RebalanceJob:       rebalanceJob,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// Flush WAL so the next startup opens clean databases.
	for _, db := range []*database.DB{configDB, cacheDB} {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	log.Info().Msg("Shutdown complete")
}
