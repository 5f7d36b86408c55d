package models

import (
	"math/big"
	"time"
)

// RelayTaskStatus is the lifecycle state of a relay task
type RelayTaskStatus string

const (
	RelayTaskStatusPending    RelayTaskStatus = "pending"
	RelayTaskStatusProcessing RelayTaskStatus = "processing"
	RelayTaskStatusCompleted  RelayTaskStatus = "completed"
	RelayTaskStatusFailed     RelayTaskStatus = "failed"
)

// RelayTask represents one autonomously-discovered lock event awaiting a
// mint on the destination chain. The request ID is derived from the lock
// event and is globally unique: a request ID is relayed to completion at
// most once.
type RelayTask struct {
	RequestID     string          `json:"request_id" db:"request_id"`
	SourceChainID uint64          `json:"source_chain_id" db:"source_chain_id"`
	DestChainID   uint64          `json:"dest_chain_id" db:"dest_chain_id"`
	SourceTxHash  string          `json:"source_tx_hash" db:"source_tx_hash"`
	DestTxHash    string          `json:"dest_tx_hash,omitempty" db:"dest_tx_hash"`
	AssetAddress  string          `json:"asset_address" db:"asset_address"`
	Recipient     string          `json:"recipient" db:"recipient"`
	Amount        *big.Int        `json:"amount" db:"amount"`
	Status        RelayTaskStatus `json:"status" db:"status"`
	RetryCount    int             `json:"retry_count" db:"retry_count"`
	RelayerFee    *big.Int        `json:"relayer_fee" db:"relayer_fee"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage  string          `json:"error_message,omitempty" db:"error_message"`
}

// RelayTaskFilter for querying relay tasks
type RelayTaskFilter struct {
	SourceChainID *uint64          `json:"source_chain_id,omitempty"`
	DestChainID   *uint64          `json:"dest_chain_id,omitempty"`
	Status        *RelayTaskStatus `json:"status,omitempty"`
	Limit         int              `json:"limit,omitempty"`
	Offset        int              `json:"offset,omitempty"`
}
