package models

import (
	"math/big"
	"time"
)

// TransferStatus is the lifecycle state of a bridge transfer
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusLocked    TransferStatus = "locked"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
)

// BridgeTransfer represents one user-initiated cross-chain move. Rows are
// never deleted; failed transfers keep their error message for audit.
type BridgeTransfer struct {
	ID               string         `json:"id" db:"id"`
	SourceChainID    uint64         `json:"source_chain_id" db:"source_chain_id"`
	DestChainID      uint64         `json:"dest_chain_id" db:"dest_chain_id"`
	SourceTxHash     string         `json:"source_tx_hash" db:"source_tx_hash"`
	DestTxHash       string         `json:"dest_tx_hash,omitempty" db:"dest_tx_hash"`
	AssetID          string         `json:"asset_id" db:"asset_id"`
	AssetAddress     string         `json:"asset_address" db:"asset_address"`
	Amount           *big.Int       `json:"amount" db:"amount"`
	SenderAddress    string         `json:"sender_address" db:"sender_address"`
	RecipientAddress string         `json:"recipient_address" db:"recipient_address"`
	Status           TransferStatus `json:"status" db:"status"`
	LockTimestamp    *time.Time     `json:"lock_timestamp,omitempty" db:"lock_timestamp"`
	MintTimestamp    *time.Time     `json:"mint_timestamp,omitempty" db:"mint_timestamp"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage     string         `json:"error_message,omitempty" db:"error_message"`
}

// CanTransition reports whether a status change is legal: pending→locked→
// completed forward only, failed reachable from any non-terminal state.
func (t *BridgeTransfer) CanTransition(next TransferStatus) bool {
	if next == TransferStatusFailed {
		return t.Status != TransferStatusCompleted
	}
	switch t.Status {
	case TransferStatusPending:
		return next == TransferStatusLocked
	case TransferStatusLocked:
		return next == TransferStatusCompleted
	default:
		return false
	}
}

// TransferFilter for querying transfers
type TransferFilter struct {
	SourceChainID *uint64         `json:"source_chain_id,omitempty"`
	DestChainID   *uint64         `json:"dest_chain_id,omitempty"`
	Sender        *string         `json:"sender,omitempty"`
	Status        *TransferStatus `json:"status,omitempty"`
	FromTime      *time.Time      `json:"from_time,omitempty"`
	ToTime        *time.Time      `json:"to_time,omitempty"`
	Limit         int             `json:"limit,omitempty"`
	Offset        int             `json:"offset,omitempty"`
}
