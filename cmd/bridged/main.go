// File: cmd/bridged/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crosslane/bridge-coordinator/internal/bridge"
	"github.com/crosslane/bridge-coordinator/internal/chains"
	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
	"github.com/crosslane/bridge-coordinator/internal/metrics"
	"github.com/crosslane/bridge-coordinator/internal/relayer"
	"github.com/crosslane/bridge-coordinator/internal/security"
	"github.com/crosslane/bridge-coordinator/internal/server"
	"github.com/crosslane/bridge-coordinator/internal/storage"
	"github.com/crosslane/bridge-coordinator/internal/wallet"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the coordinator components together
type Application struct {
	config       *config.Config
	storage      storage.Storage
	bus          *events.Bus
	metrics      *metrics.Metrics
	registry     *chains.Registry
	gate         *security.Gate
	multisig     *security.MultiSigManager
	orchestrator *bridge.Orchestrator
	wallets      *wallet.KeystoreManager
	relayer      *relayer.Relayer
	server       *server.Server
	ctx          context.Context
	cancel       context.CancelFunc

	relayerAutoStart bool
}

// NewApplication creates and initializes the application
func NewApplication(cfg *config.Config, relayerPassword string) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(relayerPassword); err != nil {
		cancel()
		return nil, err
	}
	return app, nil
}

func (app *Application) initializeComponents(relayerPassword string) error {
	logger := utils.GetLogger()
	logger.Info("Initializing bridge coordinator", "version", AppVersion, "environment", app.config.App.Environment)

	// Storage
	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}
	app.storage = store

	// Event bus and metrics. Metrics consume bus events, so they
	// subscribe before any producer starts.
	app.bus = events.NewBus(1024)
	app.metrics = metrics.NewMetrics()
	app.metrics.Start(app.bus)

	// Chain registry and node pools
	app.registry, err = chains.NewRegistry(app.config.Chains, &app.config.NodePool, app.bus, nil)
	if err != nil {
		return fmt.Errorf("failed to create chain registry: %w", err)
	}
	if err := app.registry.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start chain registry: %w", err)
	}

	// Security gate and multi-signature manager
	app.gate, err = security.NewGate(&app.config.Security, app.storage, app.bus)
	if err != nil {
		return fmt.Errorf("failed to create security gate: %w", err)
	}
	if err := app.gate.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start security gate: %w", err)
	}
	app.multisig, err = security.NewMultiSigManager(&app.config.Security, app.storage, app.bus)
	if err != nil {
		return fmt.Errorf("failed to create multisig manager: %w", err)
	}

	// Orchestrator
	app.orchestrator, err = bridge.NewOrchestrator(&app.config.Bridge, app.registry, app.gate, app.multisig, app.storage, app.bus)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// Wallets
	app.wallets, err = wallet.NewKeystoreManager(app.config.Wallet.KeystoreDir)
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	// Relayer. The signer is unlocked here and injected; without a
	// configured wallet the relayer stays idle until started over the
	// API, and every mint it attempts fails with a wallet error.
	var signer wallet.Signer
	if app.config.Relayer.WalletID != "" {
		if relayerPassword == "" {
			return fmt.Errorf("relayer wallet %s is configured but no password file was given (use --relayer-password-file)", app.config.Relayer.WalletID)
		}
		signer, err = app.wallets.Unlock(app.config.Relayer.WalletID, relayerPassword)
		if err != nil {
			return fmt.Errorf("failed to unlock relayer wallet: %w", err)
		}
		app.relayerAutoStart = true
	}
	app.relayer, err = relayer.NewRelayer(&app.config.Relayer, app.registry, app.storage, app.bus, signer)
	if err != nil {
		return fmt.Errorf("failed to create relayer: %w", err)
	}

	// HTTP server
	app.server = server.NewServer(&app.config.Server, AppVersion, app.orchestrator, app.relayer,
		app.gate, app.multisig, app.storage, app.wallets, app.metrics)

	logger.Info("All components initialized")
	return nil
}

// Start launches the relayer and the HTTP server
func (app *Application) Start() error {
	logger := utils.GetLogger()

	if app.relayerAutoStart {
		if err := app.relayer.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start relayer: %w", err)
		}
	}

	go func() {
		if err := app.server.Start(); err != nil {
			logger.Error("HTTP server exited", "error", err)
		}
	}()

	logger.Info("Bridge coordinator started",
		"server_address", fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"chains", len(app.config.Chains),
		"relayer_running", app.relayer.IsRunning())
	return nil
}

// Stop shuts components down in reverse dependency order
func (app *Application) Stop() {
	logger := utils.GetLogger()
	logger.Info("Stopping bridge coordinator")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.server.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop HTTP server", "error", err)
	}

	app.relayer.Stop()
	app.gate.Stop()
	app.registry.Stop()
	app.cancel()

	// Closing the bus lets the metrics loop drain and exit
	app.bus.Close()
	app.metrics.Wait()

	if err := app.storage.Close(); err != nil {
		logger.Error("Failed to close storage", "error", err)
	}

	logger.Info("Bridge coordinator stopped")
}

// readPasswordFile loads a wallet password from a file, trimming the
// trailing newline editors leave behind
func readPasswordFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read password file: %w", err)
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}

// CLI commands

var rootCmd = &cobra.Command{
	Use:     "bridged",
	Short:   "Cross-chain bridge coordinator",
	Long:    `Coordinates lock-and-mint asset transfers between EVM chains: orchestration, lock event relaying, security controls and multi-signature approval.`,
	Version: AppVersion,
	RunE:    runCoordinator,
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	relayerPassword, err := readPasswordFile(viper.GetString("relayer-password-file"))
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg, relayerPassword)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping...")
	app.Stop()
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bridged %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Println("Configuration is valid!")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Chains: %d\n", len(cfg.Chains))
		for _, chain := range cfg.Chains {
			fmt.Printf("  %d %s (bridge %s, %d confirmations)\n",
				chain.ChainID, chain.Name, chain.BridgeContract, chain.ConfirmationBlocks)
		}
		return nil
	},
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Wallet management commands",
}

var createWalletCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new wallet in the keystore",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		password, err := readPasswordFile(viper.GetString("password-file"))
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("a password file is required (use --password-file)")
		}

		manager, err := wallet.NewKeystoreManager(cfg.Wallet.KeystoreDir)
		if err != nil {
			return fmt.Errorf("failed to open keystore: %w", err)
		}
		walletID, err := manager.CreateWallet(password)
		if err != nil {
			return fmt.Errorf("failed to create wallet: %w", err)
		}

		fmt.Printf("Wallet created: %s\n", walletID)
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test storage and chain connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&storage.StorageConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
			MaxConnections:   cfg.Storage.MaxConnections,
			MaxIdleTime:      cfg.Storage.MaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("Storage connection OK")

		bus := events.NewBus(16)
		defer bus.Close()
		registry, err := chains.NewRegistry(cfg.Chains, &cfg.NodePool, bus, nil)
		if err != nil {
			return fmt.Errorf("failed to create chain registry: %w", err)
		}
		defer registry.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, chainCfg := range cfg.Chains {
			fmt.Printf("Testing chain %d (%s)...\n", chainCfg.ChainID, chainCfg.Name)
			chain, err := registry.Get(chainCfg.ChainID)
			if err != nil {
				return err
			}
			head, err := chain.Backend.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("chain %d unreachable: %w", chainCfg.ChainID, err)
			}
			fmt.Printf("Chain %d OK, head block %d\n", chainCfg.ChainID, head)
		}

		fmt.Println("\nAll connectivity tests passed")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("relayer-password-file", "", "file holding the relayer wallet password")
	createWalletCmd.Flags().String("password-file", "", "file holding the new wallet password")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("relayer-password-file", rootCmd.PersistentFlags().Lookup("relayer-password-file"))
	viper.BindPFlag("password-file", createWalletCmd.Flags().Lookup("password-file"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
	walletCmd.AddCommand(createWalletCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
