// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/crosslane/bridge-coordinator/internal/models"
)

// Storage defines the persistence interface for bridge state. Persisted
// rows are the single source of truth on restart: the relayer and the
// security gate rebuild their in-memory indices from here.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Transfer operations
	SaveTransfer(ctx context.Context, transfer *models.BridgeTransfer) error
	UpdateTransfer(ctx context.Context, transfer *models.BridgeTransfer) error
	GetTransfer(ctx context.Context, id string) (*models.BridgeTransfer, error)
	GetTransfers(ctx context.Context, filter models.TransferFilter) ([]*models.BridgeTransfer, error)

	// Relay task operations
	SaveRelayTask(ctx context.Context, task *models.RelayTask) error
	UpdateRelayTask(ctx context.Context, task *models.RelayTask) error
	GetRelayTask(ctx context.Context, requestID string) (*models.RelayTask, error)
	GetRelayTasks(ctx context.Context, filter models.RelayTaskFilter) ([]*models.RelayTask, error)

	// Security audit operations
	SaveSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	GetSecurityEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)

	// Blacklist operations
	AddBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error
	RemoveBlacklistEntry(ctx context.Context, address string) error
	GetBlacklist(ctx context.Context) ([]*models.BlacklistEntry, error)

	// Multi-signature operations
	SaveMultiSigTransaction(ctx context.Context, tx *models.MultiSigTransaction) error
	UpdateMultiSigTransaction(ctx context.Context, tx *models.MultiSigTransaction) error
	GetMultiSigTransaction(ctx context.Context, txID string) (*models.MultiSigTransaction, error)
	ExpireMultiSigTransactions(ctx context.Context, now time.Time) (int, error)

	// Relayer scan cursor operations
	GetScanCursor(ctx context.Context, chainID uint64) (uint64, error)
	SetScanCursor(ctx context.Context, chainID uint64, block uint64) error

	// Statistics
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalTransfers      int64 `json:"total_transfers"`
	CompletedTransfers  int64 `json:"completed_transfers"`
	FailedTransfers     int64 `json:"failed_transfers"`
	TotalRelayTasks     int64 `json:"total_relay_tasks"`
	PendingRelayTasks   int64 `json:"pending_relay_tasks"`
	TotalSecurityEvents int64 `json:"total_security_events"`
	BlacklistedCount    int64 `json:"blacklisted_count"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
