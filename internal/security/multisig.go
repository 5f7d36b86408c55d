// File: internal/security/multisig.go
package security

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
	"github.com/crosslane/bridge-coordinator/internal/models"
	"github.com/crosslane/bridge-coordinator/internal/storage"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// MultiSigPayload is the serialized transfer request signers approve.
// Reference carries the caller's identifier for the work gated behind
// this round, typically a transfer ID.
type MultiSigPayload struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    string    `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DecodeMultiSigPayload parses the payload of a multisig transaction
func DecodeMultiSigPayload(tx *models.MultiSigTransaction) (*MultiSigPayload, error) {
	var payload MultiSigPayload
	if err := json.Unmarshal([]byte(tx.Payload), &payload); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Corrupt multisig payload", err.Error())
	}
	return &payload, nil
}

// MultiSigManager collects operator signatures for large transfers.
// Signatures are EIP-191 personal signatures over the transaction ID;
// the signer is recovered from the signature itself, never trusted
// from the request.
type MultiSigManager struct {
	config  *config.SecurityConfig
	storage storage.Storage
	bus     *events.Bus
	logger  *utils.Logger

	signers map[string]bool

	mu sync.Mutex
}

// NewMultiSigManager creates a multi-signature manager
func NewMultiSigManager(cfg *config.SecurityConfig, store storage.Storage, bus *events.Bus) (*MultiSigManager, error) {
	if len(cfg.Signers) < cfg.MinSignaturesRequired {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Fewer configured signers than required signatures")
	}

	signers := make(map[string]bool, len(cfg.Signers))
	for _, signer := range cfg.Signers {
		if !utils.IsValidAddress(signer) {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid signer address", signer)
		}
		signers[utils.NormalizeAddress(signer)] = true
	}

	return &MultiSigManager{
		config:  cfg,
		storage: store,
		bus:     bus,
		logger:  utils.GetLogger(),
		signers: signers,
	}, nil
}

// CreateTransaction opens a signature round for a transfer. The ID is
// deterministic over the payload and creation time, so retrying a
// create produces a fresh round rather than colliding with an old one.
func (m *MultiSigManager) CreateTransaction(ctx context.Context, sender, recipient string, amount *big.Int, reference string) (*models.MultiSigTransaction, error) {
	now := time.Now().UTC()
	txID := utils.MultiSigTxID(sender, recipient, amount, now.UnixNano())

	payload, err := json.Marshal(MultiSigPayload{
		Sender:    utils.NormalizeAddress(sender),
		Recipient: utils.NormalizeAddress(recipient),
		Amount:    amount.String(),
		Reference: reference,
		CreatedAt: now,
	})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal multisig payload", err.Error())
	}

	timeout := m.config.SignatureTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}

	tx := &models.MultiSigTransaction{
		TxID:               txID,
		Payload:            string(payload),
		RequiredSignatures: m.config.MinSignaturesRequired,
		Signatures:         []models.MultiSigSignature{},
		Status:             models.MultiSigStatusPending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(timeout),
	}

	if err := m.storage.SaveMultiSigTransaction(ctx, tx); err != nil {
		return nil, err
	}

	m.logger.Info("Multisig transaction created",
		"tx_id", txID, "required_signatures", tx.RequiredSignatures, "expires_at", tx.ExpiresAt)
	return tx, nil
}

// AddSignature verifies and records one operator signature. When the
// required count is reached the transaction flips to approved and a
// single approval event is published.
func (m *MultiSigManager) AddSignature(ctx context.Context, txID string, signature []byte) (*models.MultiSigTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.storage.GetMultiSigTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if tx.Status == models.MultiSigStatusPending && now.After(tx.ExpiresAt) {
		tx.Status = models.MultiSigStatusExpired
		if err := m.storage.UpdateMultiSigTransaction(ctx, tx); err != nil {
			return nil, err
		}
	}
	if tx.Status != models.MultiSigStatusPending {
		return nil, utils.NewAppError(utils.ErrCodeValidation,
			"Multisig transaction is not pending", string(tx.Status))
	}

	recovered, err := utils.RecoverSigner(txID, signature)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeIntegrity, "Signature recovery failed", err.Error())
	}

	signer := utils.NormalizeAddress(recovered.Hex())
	if !m.signers[signer] {
		m.logger.Warn("Signature from unauthorized signer", "tx_id", txID, "signer", signer)
		return nil, utils.NewAppError(utils.ErrCodeIntegrity, "Signer is not authorized", signer)
	}
	if tx.HasSigner(signer) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Signer already signed", signer)
	}

	tx.Signatures = append(tx.Signatures, models.MultiSigSignature{
		Signer:    signer,
		Signature: hexutil.Encode(signature),
		SignedAt:  now,
	})

	approved := len(tx.Signatures) >= tx.RequiredSignatures
	if approved {
		tx.Status = models.MultiSigStatusApproved
	}

	if err := m.storage.UpdateMultiSigTransaction(ctx, tx); err != nil {
		return nil, err
	}

	m.logger.Info("Multisig signature recorded",
		"tx_id", txID, "signer", signer, "collected", len(tx.Signatures), "required", tx.RequiredSignatures)

	if approved {
		m.bus.Publish(events.TypeMultiSigApproved, map[string]interface{}{
			"tx_id":      txID,
			"signatures": len(tx.Signatures),
		})
	}
	return tx, nil
}

// GetTransaction returns a multisig transaction by ID
func (m *MultiSigManager) GetTransaction(ctx context.Context, txID string) (*models.MultiSigTransaction, error) {
	return m.storage.GetMultiSigTransaction(ctx, txID)
}

// IsApproved reports whether a transaction has collected enough
// signatures.
func (m *MultiSigManager) IsApproved(ctx context.Context, txID string) (bool, error) {
	tx, err := m.storage.GetMultiSigTransaction(ctx, txID)
	if err != nil {
		return false, err
	}
	return tx.Status == models.MultiSigStatusApproved, nil
}
