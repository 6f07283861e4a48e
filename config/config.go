package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	KMS          KMSConfig          `mapstructure:"kms"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Market       MarketConfig       `mapstructure:"market"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	GasRelay     GasRelayConfig     `mapstructure:"gas_relay"`
	Policy       PolicyConfig       `mapstructure:"policy"`
	Reconciler   ReconcilerConfig   `mapstructure:"reconciler"`
	RabbitMQ     RabbitMQConfig     `mapstructure:"rabbitmq"`
	Lock         LockConfig         `mapstructure:"lock"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// KMSConfig selects the root key provider.
type KMSConfig struct {
	Provider        string `mapstructure:"provider"` // local, cloud
	KeyName         string `mapstructure:"key_name"`
	LocalKey        string `mapstructure:"local_key"` // 32-byte hex, local provider only
	CredentialsFile string `mapstructure:"credentials_file"`
}

// TokenConfig registers an ERC-20 asset.
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Contract string `mapstructure:"contract"`
	Decimals uint8  `mapstructure:"decimals"`
}

type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	ServiceRouter  string        `mapstructure:"service_router"`
	FeeGasPerTx    uint64        `mapstructure:"fee_gas_per_tx"`
	GasBufferPct   uint64        `mapstructure:"gas_buffer_pct"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RPCRPS         float64       `mapstructure:"rpc_rps"`
	RPCBurst       int           `mapstructure:"rpc_burst"`
	NativeSymbol   string        `mapstructure:"native_symbol"`
	NativeDecimals uint8         `mapstructure:"native_decimals"`
	Tokens         []TokenConfig `mapstructure:"tokens"`
}

type MarketConfig struct {
	RateURL      string        `mapstructure:"rate_url"`
	QuoteURL     string        `mapstructure:"quote_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateMaxAge   time.Duration `mapstructure:"rate_max_age"`
	RateCacheTTL time.Duration `mapstructure:"rate_cache_ttl"`
}

type OrchestratorConfig struct {
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	SwapRouter        string        `mapstructure:"swap_router"`
	PlatformAddress   string        `mapstructure:"platform_address"`
	PlatformFeeBps    int64         `mapstructure:"platform_fee_bps"`
	ApprovalBufferBps int64         `mapstructure:"approval_buffer_bps"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`
}

// GasRelayConfig amounts are decimal strings in wei.
type GasRelayConfig struct {
	TopUpWei    string `mapstructure:"top_up_wei"`
	MaxTopUpWei string `mapstructure:"max_top_up_wei"` // empty means uncapped
}

type PolicyConfig struct {
	// Timezone is the IANA zone whose midnight resets daily limits.
	Timezone string `mapstructure:"timezone"`
}

type ReconcilerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Schedule   string        `mapstructure:"schedule"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Batch      int           `mapstructure:"batch"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"` // empty disables publishing
	Exchange string `mapstructure:"exchange"`
}

type LockConfig struct {
	Backend      string        `mapstructure:"backend"` // redis, memory
	Lease        time.Duration `mapstructure:"lease"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RateLimitRule caps requests per caller in a fixed window.
type RateLimitRule struct {
	Limit  int64         `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Intents RateLimitRule `mapstructure:"intents"`
	Wallets RateLimitRule `mapstructure:"wallets"`
	Reads   RateLimitRule `mapstructure:"reads"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CUSTODY_.
// Nested keys use underscore: CUSTODY_DATABASE_HOST, CUSTODY_CHAIN_RPC_URL, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "custody")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("jwt.issuer", "custody-engine")
	v.SetDefault("kms.provider", "local")
	v.SetDefault("kms.key_name", "local/root")
	v.SetDefault("kms.local_key", "")
	v.SetDefault("kms.credentials_file", "")
	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.service_router", "")
	v.SetDefault("chain.fee_gas_per_tx", 100000)
	v.SetDefault("chain.gas_buffer_pct", 20)
	v.SetDefault("chain.poll_interval", "2s")
	v.SetDefault("chain.rpc_rps", 20)
	v.SetDefault("chain.rpc_burst", 10)
	v.SetDefault("chain.native_symbol", "ETH")
	v.SetDefault("chain.native_decimals", 18)
	v.SetDefault("market.rate_url", "")
	v.SetDefault("market.quote_url", "")
	v.SetDefault("market.api_key", "")
	v.SetDefault("market.timeout", "10s")
	v.SetDefault("market.rate_max_age", "5m")
	v.SetDefault("market.rate_cache_ttl", "1m")
	v.SetDefault("orchestrator.confirm_timeout", "2m")
	v.SetDefault("orchestrator.swap_router", "")
	v.SetDefault("orchestrator.platform_address", "")
	v.SetDefault("orchestrator.platform_fee_bps", 200)
	v.SetDefault("orchestrator.approval_buffer_bps", 0)
	v.SetDefault("orchestrator.idempotency_ttl", "24h")
	v.SetDefault("gas_relay.top_up_wei", "10000000000000000")
	v.SetDefault("gas_relay.max_top_up_wei", "100000000000000000")
	v.SetDefault("policy.timezone", "UTC")
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.schedule", "@every 5m")
	v.SetDefault("reconciler.stale_after", "15m")
	v.SetDefault("reconciler.batch", 100)
	v.SetDefault("reconciler.timeout", "2m")
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "ledger_events")
	v.SetDefault("lock.backend", "redis")
	v.SetDefault("lock.lease", "30s")
	v.SetDefault("lock.poll_interval", "50ms")
	v.SetDefault("rate_limit.intents.limit", 30)
	v.SetDefault("rate_limit.intents.window", "1m")
	v.SetDefault("rate_limit.wallets.limit", 10)
	v.SetDefault("rate_limit.wallets.window", "1m")
	v.SetDefault("rate_limit.reads.limit", 120)
	v.SetDefault("rate_limit.reads.window", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CUSTODY_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CUSTODY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.KMS.Provider {
	case "local":
		if c.KMS.LocalKey == "" {
			return fmt.Errorf("kms.local_key is required for the local provider")
		}
	case "cloud":
		if c.KMS.KeyName == "" {
			return fmt.Errorf("kms.key_name is required for the cloud provider")
		}
	default:
		return fmt.Errorf("unknown kms.provider %q", c.KMS.Provider)
	}
	switch c.Lock.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}
	if c.Orchestrator.PlatformFeeBps < 0 || c.Orchestrator.PlatformFeeBps >= 10000 {
		return fmt.Errorf("orchestrator.platform_fee_bps must be in [0, 10000)")
	}
	if c.Reconciler.Enabled {
		// a swap can wait on approval, swap and fee confirmations in turn
		if longest := 3 * c.Orchestrator.ConfirmTimeout; c.Reconciler.StaleAfter <= longest {
			return fmt.Errorf("reconciler.stale_after must exceed %s, three orchestrator.confirm_timeout waits", longest)
		}
	}
	return nil
}
