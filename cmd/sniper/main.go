package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/dex"
	"github.com/Prosniperv2/V2.0/internal/discovery"
	"github.com/Prosniperv2/V2.0/internal/notification"
	"github.com/Prosniperv2/V2.0/internal/platform/aws"
	"github.com/Prosniperv2/V2.0/internal/platform/cache"
	"github.com/Prosniperv2/V2.0/internal/platform/config"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
	"github.com/Prosniperv2/V2.0/internal/platform/worker"
	"github.com/Prosniperv2/V2.0/internal/strategy"
	"github.com/Prosniperv2/V2.0/internal/swap"
	"github.com/Prosniperv2/V2.0/internal/wallet"
)

const serviceName = "sniper-bot"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad(os.Getenv("SNIPER_CONFIG"))

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics(serviceName, cfg.Observability.Metrics.Enabled,
		observability.WithOTLPExport(cfg.Observability.Metrics.OTLPEndpoint, cfg.Observability.Metrics.OTLPInsecure),
	)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		ServiceName: serviceName,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		Enabled:     cfg.Observability.Tracing.Enabled,
		Sampler:     cfg.Observability.Tracing.Sampler,
		SampleRatio: cfg.Observability.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer(serviceName)

	logger.Info("observability setup complete")

	// Shared RPC limiter: every chain call goes through the client pool
	rpcLimits := resilience.RPCRateLimits()
	rpcLimits.OnAcquire = func(waited time.Duration) { metrics.RecordRateLimitAcquire(ctx, rpcLimits.Name, waited) }
	rpcLimits.On429 = func(time.Duration) { metrics.RecordRateLimit429(ctx, rpcLimits.Name) }
	rpcLimiter := resilience.NewRateLimiter(rpcLimits)

	logger.Info("connecting to Base...", slog.String("rpc", cfg.Chain.RPCURL), slog.Int("backups", len(cfg.Chain.BackupRPCURLs)))
	clientPool, err := blockchain.NewClientPool(ctx, blockchain.ClientPoolConfig{
		PrimaryURL:          cfg.Chain.RPCURL,
		BackupURLs:          cfg.Chain.BackupRPCURLs,
		Limiter:             rpcLimiter,
		Logger:              logger,
		Metrics:             metrics,
		HealthCheckInterval: cfg.Chain.HealthCheckInterval,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create client pool", err)
		log.Fatalf("Failed to create client pool: %v", err)
	}
	defer clientPool.Close()

	// Caches: memory, layered over Redis when enabled
	memCache := cache.NewMemoryCache(cfg.Cache.L1MaxSize)
	var store cache.Cache = memCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create Redis cache", err)
			log.Fatalf("Failed to create Redis cache: %v", err)
		}
		store = cache.NewLayeredCache(memCache, redisCache)
	}
	defer store.Close()

	weth := common.HexToAddress(config.BaseTokens["WETH"].Address)
	usdc := common.HexToAddress(config.BaseTokens["USDC"].Address)
	usdt := common.HexToAddress(config.BaseTokens["USDT"].Address)

	// DEXes
	registry, err := dex.RegistryFromPresets(cfg.EnabledDEXes())
	if err != nil {
		log.Fatalf("Failed to build DEX registry: %v", err)
	}

	quoter := dex.NewQuoter(dex.QuoterConfig{
		Registry:              registry,
		Backend:               clientPool,
		Limiter:               rpcLimiter,
		WETH:                  weth,
		Intermediates:         []common.Address{usdc, usdt},
		FallbackDEX:           cfg.DEX.FallbackDEX,
		AllowUnpricedFallback: cfg.Trading.AllowUnpricedFallback,
		CallTimeout:           cfg.Chain.CallTimeout,
		Logger:                logger,
		Metrics:               metrics,
		Tracer:                tracer,
	})

	prober := dex.NewProber(dex.ProberConfig{
		Registry:   registry,
		Backend:    clientPool,
		WETH:       weth,
		ProbeToken: usdc,
		Logger:     logger,
	})
	for _, line := range dex.Summary(prober.CheckAll(ctx)) {
		logger.Info("DEX connectivity", slog.String("result", line))
	}

	// Wallet
	var expected common.Address
	if cfg.Wallet.Address != "" {
		expected = common.HexToAddress(cfg.Wallet.Address)
	}
	signer, err := wallet.NewSigner(cfg.Wallet.PrivateKey, cfg.Chain.ChainID, expected)
	if err != nil {
		log.Fatalf("Failed to load wallet: %v", err)
	}
	balances := wallet.NewBalances(wallet.BalancesConfig{
		Backend: clientPool,
		Cache:   wallet.NewBalanceCache(store, cfg.Cache.BalanceTTL, metrics),
		Wallet:  signer.Address(),
		WETH:    weth,
		Logger:  logger,
	})
	transactor := wallet.NewTransactor(clientPool, signer)
	logger.Info("wallet loaded", slog.String("address", signer.Address().Hex()))

	// Notifications
	notifier := buildNotifier(ctx, cfg, logger, metrics, tracer)

	// Swap execution
	gasOracle := swap.NewGasOracle(swap.GasOracleConfig{
		Source:      clientPool,
		MaxGasPrice: cfg.Trading.MaxGasPrice(),
		TTL:         cfg.Gas.PriceCacheTTL,
		Logger:      logger,
		Metrics:     metrics,
	})
	approver := swap.NewApprover(swap.ApproverConfig{
		Allowances: balances,
		Transactor: transactor,
		GasLimit:   cfg.Gas.ApprovalLimit,
		Logger:     logger,
	})
	unwrapper := swap.NewUnwrapper(swap.UnwrapperConfig{
		Balances:       balances,
		Transactor:     transactor,
		Gas:            gasOracle,
		WETH:           weth,
		MinGasBalance:  cfg.Trading.MinGasBalance(),
		MinUnwrap:      cfg.Trading.MinUnwrap(),
		GasLimit:       cfg.Gas.WithdrawLimit,
		ReceiptTimeout: cfg.Trading.ReceiptTimeout,
		Logger:         logger,
	})
	executor, err := swap.NewExecutor(swap.ExecutorConfig{
		Balances:                      balances,
		Transactor:                    transactor,
		Quoter:                        quoter,
		Gas:                           gasOracle,
		Unwrapper:                     unwrapper,
		Approver:                      approver,
		Notifier:                      notifier,
		WETH:                          weth,
		DefaultSlippage:               cfg.Trading.SlippageTolerance,
		MaxRetries:                    cfg.Trading.MaxRetries,
		RetryPause:                    cfg.Trading.RetryPause,
		ReceiptTimeout:                cfg.Trading.ReceiptTimeout,
		SwapGasLimit:                  cfg.Gas.SwapLimit,
		DefaultGasLimit:               cfg.Gas.DefaultLimit,
		AcceptAnyOutputOnQuoteFailure: cfg.Trading.AcceptAnyOutputOnQuoteFailure,
		Logger:                        logger,
		Metrics:                       metrics,
		Tracer:                        tracer,
	})
	if err != nil {
		log.Fatalf("Failed to create swap executor: %v", err)
	}

	// Strategy
	sc := cfg.Strategy
	sniper, err := strategy.New(strategy.Config{
		Scorer:   strategy.NewRandomScorer(0),
		Prices:   quoter,
		Executor: executor,
		Balances: balances,
		Thresholds: strategy.Thresholds{
			MinScore:          sc.MinScore,
			HighPriorityBonus: sc.HighPriorityBonus,
			MaxTokenAge:       sc.MaxTokenAge,
		},
		Sizer: strategy.Sizer{
			SizePercent:   sc.TradeSizePercent,
			MaxPercent:    sc.MaxTradePercent,
			StreakStep:    sc.StreakStep,
			MinMultiplier: sc.MinSizeMultiplier,
			MaxMultiplier: sc.MaxSizeMultiplier,
			Floor:         cfg.Trading.MinTradeAmount(),
		},
		Exits: strategy.ExitRules{
			QuickProfitPercent: sc.QuickProfitPercent,
			QuickProfitAfter:   sc.QuickProfitAfter,
			TakeProfitPercent:  sc.TakeProfitPercent,
			StopLossPercent:    sc.StopLossPercent,
			MaxHold:            sc.MaxHold,
		},
		MaxPositions:    sc.MaxPositions,
		MonitorInterval: sc.MonitorInterval,
		StaleAfter:      sc.StaleAfter,
		LossStreakPause: sc.LossStreakPause,
		PauseDuration:   sc.PauseDuration,
		Slippage:        cfg.Trading.SlippageTolerance,
		RealTrading:     cfg.Trading.RealTradingEnabled,
		Logger:          logger,
		Metrics:         metrics,
		Tracer:          tracer,
	})
	if err != nil {
		log.Fatalf("Failed to create strategy: %v", err)
	}

	// Warm the balance cache so the first buy does not wait on a cold read
	warmer := cache.NewWarmer(logger, cache.DefaultWarmupTimeout)
	warmer.Register(balances)
	if err := warmer.Warmup(ctx); err != nil {
		logger.LogWarn(ctx, "cache warmup incomplete", slog.Any("error", err))
	}

	// Discovery
	pool := worker.NewPool(ctx, cfg.Discovery.Workers, cfg.Discovery.QueueSize,
		worker.WithErrorHandler(func(task worker.Task, err error) {
			logger.LogWarn(ctx, "discovery task failed", slog.String("task", task.ID), slog.Any("error", err))
		}),
	)

	// Discovery polls every block; keep it off the limiter that guards trading calls
	discoveryBackend := clientPool.Unlimited()

	watcher, err := blockchain.NewPairWatcher(blockchain.PairWatcherConfig{
		Backend:      discoveryBackend,
		Factories:    registry.Factories(),
		PollInterval: cfg.Discovery.PollInterval,
		Logger:       logger,
		Tracer:       tracer,
	})
	if err != nil {
		log.Fatalf("Failed to create pair watcher: %v", err)
	}

	monitor, err := discovery.NewMonitor(discovery.MonitorConfig{
		Source:      watcher,
		Backend:     discoveryBackend,
		Seen:        store,
		SeenTTL:     cfg.Discovery.SeenTTL,
		MinCodeSize: cfg.Discovery.MinCodeSize,
		WETH:        weth,
		Skip:        []common.Address{usdc, usdt},
		Pool:        pool,
		Handler:     sniper.Handle,
		Notifier:    notifier,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		log.Fatalf("Failed to create discovery monitor: %v", err)
	}

	status := &statusServer{
		limiter:  rpcLimiter,
		pool:     clientPool,
		watcher:  watcher,
		monitor:  monitor,
		workers:  pool,
		sniper:   sniper,
		metrics:  metrics,
		logger:   logger,
		started:  time.Now(),
		discover: cfg.Discovery.Enabled,
	}

	// Run application
	logger.Info("starting sniper bot",
		slog.Bool("real_trading", cfg.Trading.RealTradingEnabled),
		slog.Bool("discovery", cfg.Discovery.Enabled),
		slog.Int("dexes", len(registry.All())),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return clientPool.Run(gctx) })
	g.Go(func() error { return sniper.Run(gctx) })
	if cfg.Discovery.Enabled {
		g.Go(func() error { return watcher.Run(gctx) })
		g.Go(func() error { return monitor.Run(gctx) })
	}
	g.Go(func() error { return status.serve(gctx, cfg.HTTP.Port) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.LogError(ctx, "sniper bot stopped with error", err)
	}
	logger.Info("shutdown signal received, gracefully stopping...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.LogWarn(shutdownCtx, "discovery tasks abandoned", slog.Any("error", err))
	}
	logger.Info("application stopped")
}

// buildNotifier fans trade events out to the log and to Telegram and SNS
// when they are configured
func buildNotifier(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, tracer observability.Tracer) notification.Notifier {
	notifiers := notification.Multi{notification.NewLogNotifier(logger)}

	if cfg.Telegram.Enabled() {
		bot, err := notification.NewTelegramBot(cfg.Telegram.BotToken)
		if err != nil {
			logger.LogError(ctx, "telegram disabled", err)
		} else {
			tg, err := notification.NewTelegramNotifier(notification.TelegramConfig{
				Bot:     bot,
				ChatID:  cfg.Telegram.ChatID,
				Logger:  logger,
				Metrics: metrics,
			})
			if err != nil {
				logger.LogError(ctx, "telegram disabled", err)
			} else {
				notifiers = append(notifiers, tg)
			}
		}
	}

	if cfg.AWS.Enabled {
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{
			Region:   cfg.AWS.Region,
			Endpoint: cfg.AWS.Endpoint,
		})
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		publisher, err := notification.NewPublisher(notification.PublisherConfig{
			Client: aws.NewSNSClient(aws.SNSClientConfig{
				AWSConfig: awsCfg,
				Logger:    logger,
				Metrics:   metrics,
			}),
			TopicARN: cfg.AWS.SNSTopicARN,
			Logger:   logger,
			Tracer:   tracer,
		})
		if err != nil {
			log.Fatalf("Failed to create publisher: %v", err)
		}
		notifiers = append(notifiers, publisher)
	}

	return notifiers
}
