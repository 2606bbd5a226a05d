package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/api"
	"github.com/ellanlabs/ecobridge/internal/cache"
	"github.com/ellanlabs/ecobridge/internal/collector"
	"github.com/ellanlabs/ecobridge/internal/config"
	"github.com/ellanlabs/ecobridge/internal/economy"
	"github.com/ellanlabs/ecobridge/internal/engine"
	"github.com/ellanlabs/ecobridge/internal/holiday"
	"github.com/ellanlabs/ecobridge/internal/netsync"
	"github.com/ellanlabs/ecobridge/internal/pricing"
	"github.com/ellanlabs/ecobridge/internal/storage"
	"github.com/ellanlabs/ecobridge/internal/transfer"
	"github.com/ellanlabs/ecobridge/pkg/logger"
)

const (
	poolStatsInterval  = 30 * time.Second
	checkpointInterval = 5 * time.Minute
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	bootLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Load configuration
	cfgMgr := config.NewManager(bootLogger)
	cfgPath := os.Getenv("ECOBRIDGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	if err := cfgMgr.Load(cfgPath); err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	defer cfgMgr.Close()

	cfg := cfgMgr.Config()
	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
	}

	// Rebuild the logger with the configured level and format.
	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		bootLogger.Fatal("Failed to create logger", zap.Error(err))
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting EcoBridge",
		zap.String("server_id", cfg.ServerID),
		zap.String("environment", cfg.Environment),
		zap.Int("products", len(cfg.Pricing.Products)))

	// Storage
	db, err := storage.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to open database", zap.Error(err))
	}
	dao := storage.NewDAO(db, zapLogger)

	auditLogger := storage.NewAsyncLogger(db, cfg.Audit, zapLogger)
	if err := auditLogger.Start(); err != nil {
		zapLogger.Fatal("Failed to start audit logger", zap.Error(err))
	}

	profiles := cache.NewProfileCache(dao, cfg.Cache, zapLogger)
	if err := profiles.Start(); err != nil {
		zapLogger.Fatal("Failed to start profile cache", zap.Error(err))
	}

	// Presence and macro economy
	sessions := collector.New(zapLogger)

	econ := economy.NewManager(cfg.Economy, zapLogger)
	if err := econ.Start(); err != nil {
		zapLogger.Fatal("Failed to start economy manager", zap.Error(err))
	}
	states := economy.NewStateManager(dao, zapLogger)

	calendar, err := holiday.NewCalendar(cfg.Holiday.Dates, cfg.Holiday.Weekdays)
	if err != nil {
		zapLogger.Fatal("Invalid holiday calendar", zap.Error(err))
	}

	// Cross-server trade sync
	var syncer *netsync.Syncer
	switch {
	case cfg.Redis.Enabled:
		backend, err := netsync.NewRedisBackend(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		syncer = netsync.NewSyncer(backend, "redis", cfg.Redis.Channel, cfg.ServerID, zapLogger)
	case cfg.Kafka.Enabled:
		groupID := cfg.Kafka.GroupPrefix + "-" + cfg.ServerID
		backend := netsync.NewKafkaBackend(cfg.Kafka.Brokers, cfg.Kafka.Topic, groupID, zapLogger)
		syncer = netsync.NewSyncer(backend, "kafka", cfg.Kafka.Topic, cfg.ServerID, zapLogger)
	default:
		zapLogger.Info("Cross-server sync disabled")
	}

	// Pricing pipeline
	dispatcher := pricing.NewDispatcher(zapLogger)
	dispatcher.Register("LoyaltyTier", pricing.NewTierDiscountListener(sessions, cfg.Transfer.VeteranHours))
	dispatcher.Register("EmergencyFloor", pricing.NewEmergencyFloorListener(states))
	dispatcher.Register("HolidaySale", pricing.NewHolidayListener(calendar))

	var publisher pricing.TradePublisher
	if syncer != nil {
		publisher = syncer
	}
	market := pricing.NewManager(cfg, dispatcher, dao, econ, states, engine.NewPIDController(),
		calendar, sessions, auditLogger, publisher, zapLogger)

	if syncer != nil {
		syncer.OnTrade(func(p netsync.TradePacket) {
			market.OnRemoteTrade(p.ProductID, p.Amount, p.Timestamp)
		})
		if err := syncer.Start(); err != nil {
			zapLogger.Fatal("Failed to start trade sync", zap.Error(err))
		}
	}
	if err := market.Start(); err != nil {
		zapLogger.Fatal("Failed to start pricing manager", zap.Error(err))
	}

	transfers := transfer.NewManager(cfg, profiles, sessions, econ, auditLogger, publisher, zapLogger)

	// Config hot reload feeds the tunable halves.
	cfgMgr.OnReload(func(_, fresh *config.Config) {
		market.UpdateTuning(fresh)
		transfers.UpdateTuning(fresh)
	})

	// DB pool gauges
	poolTicker := time.NewTicker(poolStatsInterval)
	go func() {
		for range poolTicker.C {
			storage.PublishPoolStats(db, cfg.Database.Driver)
		}
	}()

	// Periodic play-time checkpoint so a crash loses minutes, not
	// sessions.
	checkpointTicker := time.NewTicker(checkpointInterval)
	go func() {
		for range checkpointTicker.C {
			checkpoint(sessions, profiles, zapLogger)
		}
	}()

	// HTTP API
	deps := api.Deps{
		Market:    market,
		Macro:     econ,
		Phases:    states,
		Transfers: transfers,
		Quota:     dao,
		Sessions:  sessions,
		Profiles:  profiles,
		Calendar:  calendar,
		Audit:     auditLogger,
		Config:    cfgMgr,
	}
	if syncer != nil {
		deps.Sync = syncer
	}
	server := api.NewServer(deps, zapLogger)
	serverErr := server.Start()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			zapLogger.Error("API server failed", zap.Error(err))
		}
	}
	zapLogger.Info("Shutting down...")

	poolTicker.Stop()
	checkpointTicker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}

	if err := market.Stop(); err != nil {
		zapLogger.Error("Failed to stop pricing manager", zap.Error(err))
	}
	if syncer != nil {
		if err := syncer.Stop(); err != nil {
			zapLogger.Error("Failed to stop trade sync", zap.Error(err))
		}
	}
	if err := econ.Stop(); err != nil {
		zapLogger.Error("Failed to stop economy manager", zap.Error(err))
	}

	// Fold open sessions into the cache, then flush it.
	checkpoint(sessions, profiles, zapLogger)
	if err := profiles.Stop(); err != nil {
		zapLogger.Error("Failed to stop profile cache", zap.Error(err))
	}
	if err := auditLogger.Stop(); err != nil {
		zapLogger.Error("Failed to stop audit logger", zap.Error(err))
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			zapLogger.Error("Failed to close database", zap.Error(err))
		}
	}

	zapLogger.Info("Shutdown complete")
}

func checkpoint(sessions *collector.Collector, profiles *cache.ProfileCache, zapLogger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions.Checkpoint(func(accountID uuid.UUID, playSeconds int64) {
		if err := profiles.Update(ctx, accountID, func(p *storage.AccountProfile) {
			p.PlaySeconds = playSeconds
			p.ActivityScore = collector.Score(playSeconds)
		}); err != nil {
			zapLogger.Warn("Failed to checkpoint play time",
				zap.String("account_id", accountID.String()),
				zap.Error(err))
		}
	})
}
