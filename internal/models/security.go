package models

import (
	"math/big"
	"time"
)

// SecuritySeverity classifies security events
type SecuritySeverity string

const (
	SeverityInfo     SecuritySeverity = "info"
	SeverityMedium   SecuritySeverity = "medium"
	SeverityHigh     SecuritySeverity = "high"
	SeverityCritical SecuritySeverity = "critical"
)

// SecurityEvent is an immutable audit record of a gate decision or anomaly
type SecurityEvent struct {
	ID        string           `json:"id" db:"id"`
	EventType string           `json:"event_type" db:"event_type"`
	Severity  SecuritySeverity `json:"severity" db:"severity"`
	Address   string           `json:"address" db:"address"`
	Amount    *big.Int         `json:"amount,omitempty" db:"amount"`
	ChainID   uint64           `json:"chain_id" db:"chain_id"`
	Details   string           `json:"details" db:"details"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// SecurityEventFilter for querying security events
type SecurityEventFilter struct {
	EventType *string           `json:"event_type,omitempty"`
	Severity  *SecuritySeverity `json:"severity,omitempty"`
	Address   *string           `json:"address,omitempty"`
	FromTime  *time.Time        `json:"from_time,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
}

// BlacklistEntry is one blocked address
type BlacklistEntry struct {
	Address string    `json:"address" db:"address"`
	Reason  string    `json:"reason" db:"reason"`
	AddedAt time.Time `json:"added_at" db:"added_at"`
}

// MultiSigStatus is the lifecycle state of a multi-signature transaction
type MultiSigStatus string

const (
	MultiSigStatusPending  MultiSigStatus = "pending"
	MultiSigStatusApproved MultiSigStatus = "approved"
	MultiSigStatusExpired  MultiSigStatus = "expired"
)

// MultiSigSignature is one collected, verified signature
type MultiSigSignature struct {
	Signer    string    `json:"signer" db:"signer"`
	Signature string    `json:"signature" db:"signature"` // hex
	SignedAt  time.Time `json:"signed_at" db:"signed_at"`
}

// MultiSigTransaction is a transfer that exceeded the auto-approve
// threshold and is waiting for operator signatures.
type MultiSigTransaction struct {
	TxID               string              `json:"tx_id" db:"tx_id"`
	Payload            string              `json:"payload" db:"payload"` // serialized transfer request, JSON
	RequiredSignatures int                 `json:"required_signatures" db:"required_signatures"`
	Signatures         []MultiSigSignature `json:"signatures" db:"signatures"`
	Status             MultiSigStatus      `json:"status" db:"status"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
	ExpiresAt          time.Time           `json:"expires_at" db:"expires_at"`
}

// HasSigner reports whether the signer already contributed a signature
func (m *MultiSigTransaction) HasSigner(address string) bool {
	for _, sig := range m.Signatures {
		if sig.Signer == address {
			return true
		}
	}
	return false
}
