package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custody-engine/config"
	"custody-engine/internal/adapter/chain/evm"
	"custody-engine/internal/adapter/events/rabbitmq"
	httpHandler "custody-engine/internal/adapter/http/handler"
	"custody-engine/internal/adapter/http/middleware"
	"custody-engine/internal/adapter/kms"
	"custody-engine/internal/adapter/market"
	pgStorage "custody-engine/internal/adapter/storage/postgres"
	redisStorage "custody-engine/internal/adapter/storage/redis"
	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/internal/service"
	"custody-engine/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(os.Getenv("CUSTODY_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting custody engine")

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	secretRepo := pgStorage.NewWalletSecretRepo(pool)
	policyRepo := pgStorage.NewPolicyRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateCache := redisStorage.NewRateCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Root key and envelope encryption
	keys, closeKeys, err := newKeyManager(ctx, cfg.KMS, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize key manager")
	}
	defer closeKeys()

	auditSvc := service.NewAuditService(auditRepo, log)
	envelopeSvc := service.NewEnvelopeService(keys)
	custodySvc := service.NewCustodyService(secretRepo, transactor, envelopeSvc, auditSvc, log)

	// Ledger events
	var publisher ports.EventPublisher = rabbitmq.NewNopPublisher(log)
	if cfg.RabbitMQ.URL != "" {
		p, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unavailable, ledger events will not be published")
		} else {
			defer p.Close()
			publisher = p
		}
	}
	ledgerSvc := service.NewLedgerService(ledgerRepo, publisher, log)

	// Chain client
	chain, err := evm.Dial(ctx, evm.Config{
		RPCURL:        cfg.Chain.RPCURL,
		ServiceRouter: common.HexToAddress(cfg.Chain.ServiceRouter),
		FeeGasPerTx:   cfg.Chain.FeeGasPerTx,
		GasBufferPct:  cfg.Chain.GasBufferPct,
		PollInterval:  cfg.Chain.PollInterval,
		RPCRateLimit:  cfg.Chain.RPCRPS,
		RPCBurst:      cfg.Chain.RPCBurst,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chain RPC")
	}
	defer chain.Close()

	assets, err := newAssetRegistry(cfg.Chain)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid asset configuration")
	}

	// Market data
	rates := market.NewCachedRates(
		market.NewRateClient(market.RateConfig{
			BaseURL: cfg.Market.RateURL,
			APIKey:  cfg.Market.APIKey,
			Timeout: cfg.Market.Timeout,
			MaxAge:  cfg.Market.RateMaxAge,
		}, log),
		rateCache,
		cfg.Market.RateCacheTTL,
		log,
	)
	quotes := market.NewQuoteClient(market.QuoteConfig{
		BaseURL: cfg.Market.QuoteURL,
		APIKey:  cfg.Market.APIKey,
		Timeout: cfg.Market.Timeout,
		Router:  common.HexToAddress(cfg.Orchestrator.SwapRouter),
	}, log)

	// Policy engine
	loc, err := time.LoadLocation(cfg.Policy.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Policy.Timezone).Msg("Invalid policy timezone")
	}
	policySvc := service.NewPolicyService(policyRepo, ledgerSvc, rates, auditSvc, loc, log)

	// Per-signer serialization and gas relay
	locker := newSignerLocker(cfg.Lock, rdb, log)

	topUp, maxTopUp, err := parseRelayAmounts(cfg.GasRelay)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid gas relay configuration")
	}
	relaySvc := service.NewGasRelayService(chain, custodySvc, locker, ledgerSvc, auditSvc, assets.Native(), service.GasRelayConfig{
		TopUpAmount:    topUp,
		MaxTopUp:       maxTopUp,
		ConfirmTimeout: cfg.Orchestrator.ConfirmTimeout,
	}, log)

	orchestratorSvc := service.NewOrchestratorService(service.OrchestratorDeps{
		Policy:      policySvc,
		Custody:     custodySvc,
		Relay:       relaySvc,
		Chain:       chain,
		Quotes:      quotes,
		Ledger:      ledgerSvc,
		Locker:      locker,
		Idempotency: idempotencyCache,
		Assets:      assets,
	}, service.OrchestratorConfig{
		ConfirmTimeout:    cfg.Orchestrator.ConfirmTimeout,
		SwapRouter:        common.HexToAddress(cfg.Orchestrator.SwapRouter),
		ServiceRouter:     common.HexToAddress(cfg.Chain.ServiceRouter),
		PlatformAddress:   common.HexToAddress(cfg.Orchestrator.PlatformAddress),
		PlatformFeeBps:    cfg.Orchestrator.PlatformFeeBps,
		ApprovalBufferBps: cfg.Orchestrator.ApprovalBufferBps,
		IdempotencyTTL:    cfg.Orchestrator.IdempotencyTTL,
	}, log)

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Pending-entry reconciliation
	var scheduler *service.ReconcileScheduler
	if cfg.Reconciler.Enabled {
		reconciler := service.NewReconciler(ledgerSvc, chain, cfg.Reconciler.StaleAfter, cfg.Reconciler.Batch, log)
		scheduler = service.NewReconcileScheduler(reconciler, cfg.Reconciler.Schedule, cfg.Reconciler.Timeout, log)
		if err := scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reconciler")
		}
	}

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Custody:        custodySvc,
		Policy:         policySvc,
		Orchestrator:   orchestratorSvc,
		Ledger:         ledgerSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		RateLimits: map[string]middleware.RateLimitRule{
			httpHandler.GroupIntents: {Limit: cfg.RateLimit.Intents.Limit, Window: cfg.RateLimit.Intents.Window},
			httpHandler.GroupWallets: {Limit: cfg.RateLimit.Wallets.Limit, Window: cfg.RateLimit.Wallets.Window},
			httpHandler.GroupReads:   {Limit: cfg.RateLimit.Reads.Limit, Window: cfg.RateLimit.Reads.Window},
		},
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth, chain},
		AuditSvc:       auditSvc,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn().Msg("Reconciler did not stop in time")
		}
	}

	log.Info().Msg("Server exited")
}

// newKeyManager selects the root key provider. The returned close func is
// always non-nil.
func newKeyManager(ctx context.Context, cfg config.KMSConfig, log zerolog.Logger) (ports.KeyManager, func(), error) {
	switch cfg.Provider {
	case "cloud":
		k, err := kms.NewCloudKMS(ctx, cfg.KeyName, cfg.CredentialsFile, log)
		if err != nil {
			return nil, nil, err
		}
		return k, func() {
			if err := k.Close(); err != nil {
				log.Warn().Err(err).Msg("closing kms client")
			}
		}, nil
	default:
		log.Warn().Msg("Using local root key; do not use in production")
		k, err := kms.NewLocalKeyManager(cfg.LocalKey, cfg.KeyName)
		if err != nil {
			return nil, nil, err
		}
		return k, func() {}, nil
	}
}

func newSignerLocker(cfg config.LockConfig, rdb goredis.UniversalClient, log zerolog.Logger) ports.SignerLocker {
	if cfg.Backend == "memory" {
		log.Warn().Msg("Using in-process signer lock; run a single replica only")
		return service.NewKeyedMutex()
	}
	return redisStorage.NewSignerLock(rdb, cfg.Lease, cfg.PollInterval, log)
}

func newAssetRegistry(cfg config.ChainConfig) (*domain.AssetRegistry, error) {
	tokens := make([]domain.Asset, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		if !common.IsHexAddress(t.Contract) {
			return nil, fmt.Errorf("token %s: invalid contract address %q", t.Symbol, t.Contract)
		}
		tokens = append(tokens, domain.Asset{
			Symbol:   t.Symbol,
			Contract: common.HexToAddress(t.Contract),
			Decimals: t.Decimals,
		})
	}
	return domain.NewAssetRegistry(domain.Asset{
		Symbol:   cfg.NativeSymbol,
		Decimals: cfg.NativeDecimals,
	}, tokens)
}

func parseRelayAmounts(cfg config.GasRelayConfig) (topUp, maxTopUp *big.Int, err error) {
	topUp, ok := new(big.Int).SetString(cfg.TopUpWei, 10)
	if !ok || topUp.Sign() < 0 {
		return nil, nil, fmt.Errorf("top_up_wei: invalid amount %q", cfg.TopUpWei)
	}
	if cfg.MaxTopUpWei == "" {
		return topUp, nil, nil
	}
	maxTopUp, ok = new(big.Int).SetString(cfg.MaxTopUpWei, 10)
	if !ok || maxTopUp.Sign() <= 0 {
		return nil, nil, fmt.Errorf("max_top_up_wei: invalid amount %q", cfg.MaxTopUpWei)
	}
	return topUp, maxTopUp, nil
}
