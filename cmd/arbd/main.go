package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dexarb/dexarb-go/internal/api"
	"github.com/dexarb/dexarb-go/internal/config"
	"github.com/dexarb/dexarb-go/internal/engine"
	"github.com/dexarb/dexarb-go/internal/logging"
	"github.com/dexarb/dexarb-go/internal/models"
	"github.com/dexarb/dexarb-go/internal/observability"
	"github.com/dexarb/dexarb-go/internal/pathfinder"
	"github.com/dexarb/dexarb-go/internal/planner"
	"github.com/dexarb/dexarb-go/internal/profit"
	"github.com/dexarb/dexarb-go/internal/risk"
	"github.com/dexarb/dexarb-go/internal/snapshot"
	"github.com/dexarb/dexarb-go/internal/store"
	"github.com/dexarb/dexarb-go/internal/strategy"
	"github.com/dexarb/dexarb-go/internal/submit"
	"github.com/dexarb/dexarb-go/internal/venue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// durable edges
	pool, err := store.NewPostgresPool(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	journal := store.NewJournal(pool, logger)
	if err := journal.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to migrate journal schema")
	}

	redisClient, err := store.NewRedisClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	lock := store.NewInstanceLock(redisClient, uuid.New().String(), 30*time.Second, logger)
	held, err := lock.Acquire(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to acquire instance lock")
	}
	if !held {
		logger.Fatal("Another engine instance is already running")
	}
	defer lock.Release(context.Background())

	// observability fan-out
	sinks := []observability.EventSink{
		observability.NewLogSink(logger),
		observability.NewRedisSink(redisClient, logger),
	}
	if cfg.Telegram.BotToken != "" {
		tg, err := observability.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.WithError(err).Warn("Telegram notifications disabled")
		} else {
			sinks = append(sinks, tg)
		}
	}
	sink := observability.NewMultiSink(sinks...)

	// venues
	registry := venue.NewRegistry()
	for _, vc := range cfg.Venues {
		if vc.Disabled {
			continue
		}
		registry.Register(venue.NewFeedAdapter(vc.Name, vc.FeedURL, vc.FeeBps, logger))
	}
	if len(registry.Names()) == 0 {
		logger.Fatal("No venues configured")
	}

	pairs := make([]models.TradingPair, 0, len(cfg.Pairs))
	for _, symbol := range cfg.Pairs {
		pair, err := models.ParsePair(symbol)
		if err != nil {
			logger.WithError(err).Fatal("Invalid trading pair in configuration")
		}
		pairs = append(pairs, pair)
	}

	// risk model
	riskMgr := risk.NewManager(risk.Config{
		MaxPositionPerTrade:  decimal.NewFromFloat(cfg.Risk.MaxPositionPerTrade),
		DailyLossLimit:       decimal.NewFromFloat(cfg.Risk.DailyLossLimit),
		SessionLossLimit:     decimal.NewFromFloat(cfg.Risk.SessionLossLimit),
		SessionLength:        config.Duration(cfg.Risk.SessionLength),
		VolatilityWindow:     cfg.Risk.VolatilityWindow,
		CorrelationThreshold: cfg.Risk.CorrelationThreshold,
		CorrelatedExposure:   decimal.NewFromFloat(cfg.Risk.CorrelatedExposure),
		VaRPercentile:        cfg.Risk.VaRPercentile,
		VaRBudget:            decimal.NewFromFloat(cfg.Risk.VaRBudget),
		Breakers: risk.BreakerConfig{
			FailureThreshold: cfg.Risk.Breakers.FailureThreshold,
			SuccessThreshold: cfg.Risk.Breakers.SuccessThreshold,
			Timeout:          config.Duration(cfg.Risk.Breakers.Timeout),
		},
	}, store.NewRiskStateStore(redisClient), logger, func(tier string, from, to risk.State) {
		sink.BreakerChanged(tier, from.String(), to.String())
	})
	if err := riskMgr.Restore(ctx); err != nil {
		logger.WithError(err).Warn("Could not restore risk state, starting fresh")
	}

	// detection
	snapStore := snapshot.NewStore()
	finder := pathfinder.NewFinder(pathfinder.Config{
		MaxHops:        cfg.Arbitrage.MaxHops,
		MinGrossBps:    cfg.Arbitrage.MinGrossBps,
		FreshnessBound: config.Duration(cfg.Arbitrage.FreshnessBound),
	}, registry, logger)

	calculator := profit.NewCalculator(profit.Config{
		MinProfitBps:   cfg.Arbitrage.MinProfitBps,
		FreshnessBound: config.Duration(cfg.Arbitrage.FreshnessBound),
		OpportunityTTL: config.Duration(cfg.Arbitrage.OpportunityTTL),
		ExecutionCost:  decimal.NewFromFloat(cfg.Arbitrage.ExecutionCost),
		DefaultDepth:   decimal.NewFromFloat(cfg.Arbitrage.DefaultDepth),
	}, registry, riskMgr.VenueReliability(), logger)

	probe := decimal.NewFromFloat(cfg.Risk.MaxPositionPerTrade)
	strategies := strategy.NewRegistry()
	strategies.Register(strategy.NewCycleStrategy(finder, calculator, probe, logger))
	strategies.Register(strategy.NewStatisticalStrategy(strategy.StatisticalConfig{}, calculator, probe, logger))

	// planning and submission
	var borrowProvider planner.BorrowProvider
	if cfg.Execution.EnableBorrowExecution {
		ceilings := make(map[string]decimal.Decimal)
		for _, pair := range pairs {
			ceilings[pair.Quote] = probe.Mul(decimal.NewFromInt(10))
			ceilings[pair.Base] = probe.Mul(decimal.NewFromInt(10))
		}
		borrowProvider = planner.NewPoolProvider("pool", cfg.Execution.BorrowFeeBps, ceilings)
	}
	balances := planner.StaticBalances{}
	for _, pair := range pairs {
		balances[pair.Quote] = probe
	}
	pl := planner.New(planner.Config{
		EnableBorrow:        cfg.Execution.EnableBorrowExecution,
		MaxSlippageBps:      50,
		FreshnessBound:      config.Duration(cfg.Arbitrage.FreshnessBound),
		UrgencyThresholdBps: 2 * cfg.Arbitrage.MinProfitBps,
	}, registry, borrowProvider, balances, logger)

	channels := []submit.Channel{submit.NewRPCChannel(cfg.Execution.RPCURL, nil)}
	if cfg.Execution.BundleURL != "" {
		channels = append(channels, submit.NewBundleChannel(cfg.Execution.BundleURL, cfg.Execution.BundleTip, nil))
	}
	pipeline := submit.NewPipeline(submit.Config{
		DryRun:          cfg.Execution.DryRun,
		MaxRetries:      cfg.Execution.MaxRetries,
		RetryBackoff:    config.Duration(cfg.Execution.RetryBackoff),
		ConfirmTimeout:  config.Duration(cfg.Execution.ConfirmTimeout),
		PriorityFee:     cfg.Execution.PriorityFee,
		PriorityFeeBump: cfg.Execution.PriorityFeeBump,
	}, submit.NewLocalSigner(signingKey(logger)), submit.NewRPCSimulator(cfg.Execution.RPCURL, nil),
		channels, submit.NewRPCConfirmer(cfg.Execution.RPCURL, nil, 0), logger)

	eng := engine.New(engine.Config{
		Pairs:              pairs,
		DetectionInterval:  config.Duration(cfg.Arbitrage.DetectionInterval),
		CheckpointInterval: config.Duration(cfg.Risk.CheckpointInterval),
	}, registry, snapStore, strategies, riskMgr, pl, pipeline, journal, sink, logger)

	server := api.NewServer(cfg.Server.Port, eng, journal, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return server.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := lock.Refresh(gctx); err != nil {
					logger.WithError(err).Warn("Instance lock refresh failed")
				}
			}
		}
	})

	logger.WithFields(logrus.Fields{
		"venues":  registry.Names(),
		"pairs":   cfg.Pairs,
		"dry_run": cfg.Execution.DryRun,
	}).Info("Engine starting")

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Engine stopped with error")
		os.Exit(1)
	}
	logger.Info("Engine stopped")
}

// signingKey loads the submission key from SIGNER_KEY or generates an
// ephemeral one, which only makes sense for dry runs.
func signingKey(logger *logrus.Logger) ed25519.PrivateKey {
	if seedHex := os.Getenv("SIGNER_KEY"); seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			logger.Fatal("SIGNER_KEY must be a hex-encoded 32-byte seed")
		}
		return ed25519.NewKeyFromSeed(seed)
	}
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		logger.WithError(err).Fatal("Failed to generate signing key")
	}
	logger.Warn("SIGNER_KEY not set, using an ephemeral signing key")
	return key
}
