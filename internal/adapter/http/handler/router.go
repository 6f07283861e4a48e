package handler

import (
	"custody-engine/internal/adapter/http/middleware"
	redisStore "custody-engine/internal/adapter/storage/redis"
	"custody-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Rate limit groups.
const (
	GroupWallets = "wallets"
	GroupIntents = "intents"
	GroupReads   = "reads"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Custody        ports.KeyCustody
	Policy         ports.PolicyEngine
	Orchestrator   ports.Orchestrator
	Ledger         ports.Ledger
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	RateLimits     map[string]middleware.RateLimitRule
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = intent audit disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Health check (deep: verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		rule, ok := deps.RateLimits[group]
		if deps.RateLimitStore == nil || !ok || rule.Limit <= 0 {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	walletHandler := NewWalletHandler(deps.Custody)
	wallets := v1.Group("/wallets", middleware.RequireScope(middleware.ScopeWallets))
	{
		wallets.POST("/:owner_id", rl(GroupWallets), walletHandler.Create)
		wallets.GET("/:owner_id/address", rl(GroupReads), walletHandler.Address)
		wallets.POST("/:owner_id/rotate", rl(GroupWallets), walletHandler.Rotate)
	}

	policyHandler := NewPolicyHandler(deps.Policy)
	policies := v1.Group("/policies", middleware.RequireScope(middleware.ScopePolicies))
	{
		policies.GET("/:dependent_id", rl(GroupReads), policyHandler.Get)
		policies.PUT("/:dependent_id", rl(GroupWallets), policyHandler.Put)
		policies.POST("/:dependent_id/authorize", rl(GroupReads), policyHandler.Authorize)
	}

	intentHandler := NewIntentHandler(deps.Orchestrator)
	intents := v1.Group("/intents", middleware.RequireScope(middleware.ScopeIntents), rl(GroupIntents))
	{
		intents.POST("/transfer", intentHandler.Transfer)
		intents.POST("/swap", intentHandler.Swap)
		intents.POST("/service", intentHandler.Service)
		intents.POST("/reward", intentHandler.Reward)
	}

	ledgerHandler := NewLedgerHandler(deps.Ledger)
	ledger := v1.Group("/ledger", middleware.RequireScope(middleware.ScopeLedger), rl(GroupReads))
	{
		ledger.GET("", ledgerHandler.List)
		ledger.GET("/:id", ledgerHandler.Get)
	}

	return r
}
