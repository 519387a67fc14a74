// Package config provides configuration management for the portfolio valuator.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Indexer   IndexerConfig
	Pricing   PricingConfig
	Engine    EngineConfig
	Registry  RegistryConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection string used by pgx and golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds snapshot cache configuration
type CacheConfig struct {
	Enabled     bool
	SnapshotTTL time.Duration
	CatalogTTL  time.Duration
}

// IndexerConfig holds chain indexer endpoints
type IndexerConfig struct {
	GraphQLURL string
	RESTURL    string
	// RESTFallbackURL is tried when the primary node keeps failing
	RESTFallbackURL string
	// APIKey is sent as a bearer credential; empty means unauthenticated
	APIKey    string
	Timeout   time.Duration
	PageSize  int
	RateLimit float64
	// BudgetTotal and BudgetReserved size the shared per-second request
	// budget; BudgetReserved units are kept for interactive snapshots
	BudgetTotal    int
	BudgetReserved int
}

// PricingConfig holds price provider endpoints
type PricingConfig struct {
	PrimaryURL    string
	PrimaryAPIKey string
	SecondaryURL  string
	Timeout       time.Duration
}

// EngineConfig tunes snapshot construction
type EngineConfig struct {
	BranchTimeout      time.Duration
	DustThresholdUSD   float64
	HistoryDays        int
	// RefreshWallets have their history rebuilt and stored once a day
	RefreshWallets     []string
	RefreshConcurrency int
}

// RegistryConfig selects where the protocol registry is loaded from
type RegistryConfig struct {
	// Path to a YAML file; empty uses the embedded default
	Path string
	// FromDatabase loads protocols from Postgres on top of the YAML tables
	FromDatabase bool
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_valuator"),
				User:           getEnv("POSTGRES_USER", "valuator"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio_valuator"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Cache: CacheConfig{
			Enabled:     getEnvAsBool("CACHE_ENABLED", true),
			SnapshotTTL: getEnvAsDuration("CACHE_SNAPSHOT_TTL", 60*time.Second),
			CatalogTTL:  getEnvAsDuration("CACHE_CATALOG_TTL", 5*time.Minute),
		},
		Indexer: IndexerConfig{
			GraphQLURL:      getEnv("INDEXER_GRAPHQL_URL", "https://api.mainnet.aptoslabs.com/v1/graphql"),
			RESTURL:         getEnv("INDEXER_REST_URL", "https://fullnode.mainnet.aptoslabs.com/v1"),
			RESTFallbackURL: getEnv("INDEXER_REST_FALLBACK_URL", ""),
			APIKey:          getEnv("INDEXER_API_KEY", ""),
			Timeout:         getEnvAsDuration("INDEXER_TIMEOUT", 10*time.Second),
			PageSize:        getEnvAsInt("INDEXER_PAGE_SIZE", 100),
			RateLimit:       getEnvAsFloat("INDEXER_RATE_LIMIT", 10),
			BudgetTotal:     getEnvAsInt("INDEXER_BUDGET_TOTAL", 50),
			BudgetReserved:  getEnvAsInt("INDEXER_BUDGET_RESERVED", 30),
		},
		Pricing: PricingConfig{
			PrimaryURL:    getEnv("PRICE_PRIMARY_URL", "https://api.panora.exchange/prices"),
			PrimaryAPIKey: getEnv("PRICE_PRIMARY_API_KEY", ""),
			SecondaryURL:  getEnv("PRICE_SECONDARY_URL", "https://api.coingecko.com/api/v3/simple/price"),
			Timeout:       getEnvAsDuration("PRICE_TIMEOUT", 8*time.Second),
		},
		Engine: EngineConfig{
			BranchTimeout:      getEnvAsDuration("ENGINE_BRANCH_TIMEOUT", 15*time.Second),
			DustThresholdUSD:   getEnvAsFloat("ENGINE_DUST_THRESHOLD_USD", 0.10),
			HistoryDays:        getEnvAsInt("ENGINE_HISTORY_DAYS", 30),
			RefreshWallets:     getEnvAsList("ENGINE_REFRESH_WALLETS"),
			RefreshConcurrency: getEnvAsInt("ENGINE_REFRESH_CONCURRENCY", 4),
		},
		Registry: RegistryConfig{
			Path:         getEnv("REGISTRY_PATH", ""),
			FromDatabase: getEnvAsBool("REGISTRY_FROM_DATABASE", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var problems []string
	if c.Indexer.BudgetTotal < 1 {
		problems = append(problems, "INDEXER_BUDGET_TOTAL must be positive")
	}
	if c.Indexer.BudgetReserved < 0 || c.Indexer.BudgetReserved > c.Indexer.BudgetTotal {
		problems = append(problems, "INDEXER_BUDGET_RESERVED must be between 0 and INDEXER_BUDGET_TOTAL")
	}
	if c.Engine.DustThresholdUSD < 0 {
		problems = append(problems, "ENGINE_DUST_THRESHOLD_USD must not be negative")
	}
	if c.Engine.HistoryDays < 1 || c.Engine.HistoryDays > 365 {
		problems = append(problems, "ENGINE_HISTORY_DAYS must be between 1 and 365")
	}
	if c.Engine.RefreshConcurrency < 1 {
		problems = append(problems, "ENGINE_REFRESH_CONCURRENCY must be positive")
	}
	if c.Engine.BranchTimeout <= 0 {
		problems = append(problems, "ENGINE_BRANCH_TIMEOUT must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// lookup returns parse(value) for a set variable, and def when the
// variable is unset or does not parse
func lookup[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, defaultValue string) string {
	return lookup(key, defaultValue, func(s string) (string, error) { return s, nil })
}

func getEnvAsInt(key string, defaultValue int) int {
	return lookup(key, defaultValue, strconv.Atoi)
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	return lookup(key, defaultValue, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	return lookup(key, defaultValue, time.ParseDuration)
}

// getEnvAsBool accepts 1/0, true/false, yes/no
func getEnvAsBool(key string, defaultValue bool) bool {
	return lookup(key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "1", "true", "yes":
			return true, nil
		case "0", "false", "no":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	})
}

// getEnvAsList splits a comma-separated variable, dropping blanks
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
