// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the bridge coordinator
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Chains   []ChainConfig  `mapstructure:"chains"`
	NodePool NodePoolConfig `mapstructure:"nodepool"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Security SecurityConfig `mapstructure:"security"`
	Relayer  RelayerConfig  `mapstructure:"relayer"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig describes one monitored chain and its bridge deployment
type ChainConfig struct {
	ChainID            uint64   `mapstructure:"chain_id"`
	Name               string   `mapstructure:"name"`
	RPCEndpoints       []string `mapstructure:"rpc_endpoints"`
	BridgeContract     string   `mapstructure:"bridge_contract"`
	ConfirmationBlocks uint64   `mapstructure:"confirmation_blocks"`
	Layer2             bool     `mapstructure:"layer2"`
}

// NodePoolConfig contains RPC endpoint health checking configuration
type NodePoolConfig struct {
	HealthInterval time.Duration `mapstructure:"health_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	MaxFailures    int           `mapstructure:"max_failures"`
}

// BridgeConfig contains orchestrator fee and confirmation settings
type BridgeConfig struct {
	BaseFeeWei     string `mapstructure:"base_fee_wei"`
	FeeBasisPoints int64  `mapstructure:"fee_basis_points"`
	L1DataFeeWei   string `mapstructure:"l1_data_fee_wei"`
}

// SecurityConfig contains the security gate rule thresholds
type SecurityConfig struct {
	MaxTransfersPerHour       int           `mapstructure:"max_transfers_per_hour"`
	MaxAmountPerTransfer      string        `mapstructure:"max_amount_per_transfer"`
	MaxDailyVolume            string        `mapstructure:"max_daily_volume"`
	SuspiciousAmountThreshold string        `mapstructure:"suspicious_amount_threshold"`
	MaxRapidTransfers         int           `mapstructure:"max_rapid_transfers"`
	RapidWindow               time.Duration `mapstructure:"rapid_window"`
	MinSignaturesRequired     int           `mapstructure:"min_signatures_required"`
	SignatureTimeout          time.Duration `mapstructure:"signature_timeout"`
	Signers                   []string      `mapstructure:"signers"`
	CleanupInterval           time.Duration `mapstructure:"cleanup_interval"`
}

// RelayerConfig contains scanning and retry configuration
type RelayerConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ConfirmationBlocks uint64        `mapstructure:"confirmation_blocks"`
	MaxBlocksPerScan   uint64        `mapstructure:"max_blocks_per_scan"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	ExponentialBackoff bool          `mapstructure:"exponential_backoff"`
	QueueSize          int           `mapstructure:"queue_size"`
	FeeBasisPoints     int64         `mapstructure:"fee_basis_points"`
	MinFeeWei          string        `mapstructure:"min_fee_wei"`
	MaxGasPriceWei     string        `mapstructure:"max_gas_price_wei"`
	GasPriceMultiplier float64       `mapstructure:"gas_price_multiplier"`
	WalletID           string        `mapstructure:"wallet_id"`
}

// WalletConfig contains signing key storage configuration
type WalletConfig struct {
	KeystoreDir string `mapstructure:"keystore_dir"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	viper.SetEnvPrefix("BRIDGE_COORDINATOR")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if keystore := os.Getenv("BRIDGE_KEYSTORE_DIR"); keystore != "" {
		config.Wallet.KeystoreDir = keystore
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "bridge-coordinator")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Node pool defaults
	viper.SetDefault("nodepool.health_interval", "60s")
	viper.SetDefault("nodepool.probe_timeout", "5s")
	viper.SetDefault("nodepool.max_failures", 3)

	// Bridge fee defaults
	viper.SetDefault("bridge.base_fee_wei", "1000000000000000") // 0.001 ether
	viper.SetDefault("bridge.fee_basis_points", 10)
	viper.SetDefault("bridge.l1_data_fee_wei", "500000000000000")

	// Security gate defaults
	viper.SetDefault("security.max_transfers_per_hour", 10)
	viper.SetDefault("security.max_amount_per_transfer", "100000000000000000000") // 100 ether
	viper.SetDefault("security.max_daily_volume", "500000000000000000000")        // 500 ether
	viper.SetDefault("security.suspicious_amount_threshold", "50000000000000000000")
	viper.SetDefault("security.max_rapid_transfers", 5)
	viper.SetDefault("security.rapid_window", "5m")
	viper.SetDefault("security.min_signatures_required", 2)
	viper.SetDefault("security.signature_timeout", "1h")
	viper.SetDefault("security.cleanup_interval", "1h")

	// Relayer defaults
	viper.SetDefault("relayer.poll_interval", "12s")
	viper.SetDefault("relayer.confirmation_blocks", 6)
	viper.SetDefault("relayer.max_blocks_per_scan", 1000)
	viper.SetDefault("relayer.max_retries", 3)
	viper.SetDefault("relayer.retry_delay", "30s")
	viper.SetDefault("relayer.exponential_backoff", true)
	viper.SetDefault("relayer.queue_size", 256)
	viper.SetDefault("relayer.fee_basis_points", 10)
	viper.SetDefault("relayer.min_fee_wei", "1000000000000000")
	viper.SetDefault("relayer.max_gas_price_wei", "500000000000") // 500 gwei
	viper.SetDefault("relayer.gas_price_multiplier", 1.1)

	// Wallet defaults
	viper.SetDefault("wallet.keystore_dir", "./data/keystore")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/bridge.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Chains) < 2 {
		return fmt.Errorf("at least two chains are required for bridging")
	}
	seen := make(map[uint64]bool)
	for _, chain := range c.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chain ID is required")
		}
		if seen[chain.ChainID] {
			return fmt.Errorf("duplicate chain ID %d", chain.ChainID)
		}
		seen[chain.ChainID] = true
		if len(chain.RPCEndpoints) == 0 {
			return fmt.Errorf("chain %d: at least one RPC endpoint is required", chain.ChainID)
		}
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Relayer.PollInterval <= 0 {
		return fmt.Errorf("relayer poll interval must be positive")
	}
	if c.Relayer.MaxRetries < 0 {
		return fmt.Errorf("relayer max retries must not be negative")
	}
	if c.Security.MinSignaturesRequired <= 0 {
		return fmt.Errorf("min signatures required must be positive")
	}
	if c.Relayer.GasPriceMultiplier < 1.0 {
		return fmt.Errorf("gas price multiplier must be at least 1.0")
	}
	return nil
}
