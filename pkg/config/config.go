// Copyright 2025 Certen Protocol
//
// Configuration loader for the bundler service.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the bundler service.
type Config struct {
	// Server Configuration
	ListenAddr   string
	MetricsAddr  string
	PublicBaseURL string

	// Database Configuration
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool

	// Redis / Queue Configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Object Store Configuration
	GCSBucketRaw    string
	GCSBucketBackup string
	GCSCredentials  string // path to service-account JSON, empty = ADC

	// Chain gateway (external collaborator; out of scope per spec)
	ChainGatewayURL  string
	ChainGatewayURLs []string // fallback gateways, tried in order after ChainGatewayURL

	// Wallet key material (external loader owns the secret; this is a path)
	ServiceWalletKeyPath string
	ServiceWalletAddress string

	// Local disk tiers
	DataDir               string
	FilesystemCleanupDays int
	MinioCleanupDays      int
	CleanupCron           string
	CleanupBatchSize      int
	PlanBundleInterval    time.Duration

	// Fee / limits defaults (spec §6)
	MaxBundleByteCount      int64
	MaxItemsPerBundle       int
	MaxSingleItemBytes      int64
	FreeUploadLimitBytes    int64
	DeadlineHeightIncrement int64
	X402FraudTolerancePct   float64
	X402FeePct              float64
	X402PaymentTimeoutMs    int
	OverdueThreshold        time.Duration
	ConfirmationDepth       int
	VerifyTimeout           time.Duration

	// Admission policy
	AllowListedOwners     []string
	BlockListedOwners     []string
	SpammerExactByteSize  int64
	OpticalBridgeEnabled  bool
	OpticalSkipListOwners []string

	// Bundle Packer (C8)
	PremiumFeatureClasses []string

	// Optical bridge sinks (C10)
	OpticalPrimarySinkURL    string
	OpticalOptionalSinkURLs  []string
	OpticalCanarySinkURL     string
	OpticalCanarySampleRate  float64
	OpticalLocalMode         bool

	// Networks for the x402 payment engine
	NetworksConfigPath string

	LogLevel string
}

// Load reads configuration from environment variables, applying the same
// defaults the service ships with. Call Validate() before starting.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr:   getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", true),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GCSBucketRaw:    getEnv("GCS_BUCKET_RAW", ""),
		GCSBucketBackup: getEnv("GCS_BUCKET_BACKUP", ""),
		GCSCredentials:  getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		ChainGatewayURL:  getEnv("CHAIN_GATEWAY_URL", ""),
		ChainGatewayURLs: splitCSV(getEnv("CHAIN_GATEWAY_URLS", "")),

		ServiceWalletKeyPath: getEnv("SERVICE_WALLET_KEY_PATH", ""),
		ServiceWalletAddress: getEnv("SERVICE_WALLET_ADDRESS", ""),

		DataDir:               getEnv("DATA_DIR", "./data"),
		FilesystemCleanupDays: getEnvInt("FS_CLEANUP_DAYS", 7),
		MinioCleanupDays:      getEnvInt("OBJECTSTORE_CLEANUP_DAYS", 90),
		CleanupCron:           getEnv("CLEANUP_CRON", "0 2 * * *"),
		CleanupBatchSize:      getEnvInt("CLEANUP_BATCH_SIZE", 500),
		PlanBundleInterval:    getEnvDuration("PLAN_BUNDLE_INTERVAL", 10*time.Second),

		PremiumFeatureClasses: splitCSV(getEnv("PREMIUM_FEATURE_CLASSES", "")),

		MaxBundleByteCount:      getEnvInt64("MAX_BUNDLE_BYTE_COUNT", 2<<30),
		MaxItemsPerBundle:       getEnvInt("MAX_ITEMS_PER_BUNDLE", 10_000),
		MaxSingleItemBytes:      getEnvInt64("MAX_SINGLE_ITEM_BYTES", 4<<30),
		FreeUploadLimitBytes:    getEnvInt64("FREE_UPLOAD_LIMIT_BYTES", 0),
		DeadlineHeightIncrement: getEnvInt64("DEADLINE_HEIGHT_INCREMENT", 200),
		X402FraudTolerancePct:   getEnvFloat("X402_FRAUD_TOLERANCE_PCT", 5.0),
		X402FeePct:              getEnvFloat("X402_FEE_PCT", 30.0),
		X402PaymentTimeoutMs:    getEnvInt("X402_PAYMENT_TIMEOUT_MS", 300_000),
		OverdueThreshold:        getEnvDuration("OVERDUE_THRESHOLD", 10*time.Minute),
		ConfirmationDepth:       getEnvInt("CONFIRMATION_DEPTH", 18),
		VerifyTimeout:           getEnvDuration("VERIFY_TIMEOUT", 6*time.Hour),

		AllowListedOwners:     splitCSV(getEnv("ALLOWLISTED_OWNERS", "")),
		BlockListedOwners:     splitCSV(getEnv("BLOCKLISTED_OWNERS", "")),
		SpammerExactByteSize:  getEnvInt64("SPAMMER_EXACT_BYTE_SIZE", 0),
		OpticalBridgeEnabled:  getEnvBool("OPTICAL_BRIDGE_ENABLED", true),
		OpticalSkipListOwners: splitCSV(getEnv("OPTICAL_SKIP_LIST_OWNERS", "")),

		OpticalPrimarySinkURL:   getEnv("OPTICAL_PRIMARY_SINK_URL", ""),
		OpticalOptionalSinkURLs: splitCSV(getEnv("OPTICAL_OPTIONAL_SINK_URLS", "")),
		OpticalCanarySinkURL:    getEnv("OPTICAL_CANARY_SINK_URL", ""),
		OpticalCanarySampleRate: getEnvFloat("OPTICAL_CANARY_SAMPLE_RATE", 0.05),
		OpticalLocalMode:        getEnvBool("OPTICAL_LOCAL_MODE", false),

		NetworksConfigPath: getEnv("NETWORKS_CONFIG_PATH", "./config/networks.yaml"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.ChainGatewayURL == "" {
		errs = append(errs, "CHAIN_GATEWAY_URL is required but not set")
	}
	if c.ServiceWalletKeyPath == "" {
		errs = append(errs, "SERVICE_WALLET_KEY_PATH is required but not set")
	}
	if c.GCSBucketRaw == "" {
		errs = append(errs, "GCS_BUCKET_RAW is required but not set")
	}
	if c.MaxBundleByteCount <= 0 {
		errs = append(errs, "MAX_BUNDLE_BYTE_COUNT must be positive")
	}
	if c.X402FraudTolerancePct < 0 || c.X402FraudTolerancePct > 100 {
		errs = append(errs, "X402_FRAUD_TOLERANCE_PCT must be in [0,100]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
