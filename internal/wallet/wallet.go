// File: internal/wallet/wallet.go
package wallet

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// Signer is an unlocked signing identity. Components receive a Signer by
// injection; no password or key material ever travels through process
// environment.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Manager resolves wallet IDs to signers
type Manager interface {
	Unlock(walletID, password string) (Signer, error)
}

// KeystoreManager implements Manager over a go-ethereum keystore directory.
// Wallet IDs are hex account addresses.
type KeystoreManager struct {
	ks     *keystore.KeyStore
	logger *utils.Logger
}

// NewKeystoreManager opens (or creates) a keystore directory
func NewKeystoreManager(dir string) (*KeystoreManager, error) {
	if err := os.MkdirAll(filepath.Clean(dir), 0700); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Failed to create keystore directory", err.Error())
	}

	return &KeystoreManager{
		ks:     keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP),
		logger: utils.GetLogger(),
	}, nil
}

// CreateWallet generates a new key in the keystore and returns its
// address as the wallet ID
func (m *KeystoreManager) CreateWallet(password string) (string, error) {
	account, err := m.ks.NewAccount(password)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeWallet, "Failed to create wallet", err.Error())
	}

	m.logger.Info("Wallet created", "address", account.Address.Hex())
	return account.Address.Hex(), nil
}

// Unlock resolves a wallet ID to a signer after verifying the password
func (m *KeystoreManager) Unlock(walletID, password string) (Signer, error) {
	if !common.IsHexAddress(walletID) {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Invalid wallet ID", walletID)
	}
	address := common.HexToAddress(walletID)

	var account accounts.Account
	found := false
	for _, a := range m.ks.Accounts() {
		if strings.EqualFold(a.Address.Hex(), address.Hex()) {
			account = a
			found = true
			break
		}
	}
	if !found {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Wallet not found", walletID)
	}

	if err := m.ks.Unlock(account, password); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Failed to unlock wallet", err.Error())
	}

	m.logger.Info("Wallet unlocked", "address", account.Address.Hex())
	return &keystoreSigner{ks: m.ks, account: account}, nil
}

type keystoreSigner struct {
	ks      *keystore.KeyStore
	account accounts.Account
}

func (s *keystoreSigner) Address() common.Address {
	return s.account.Address
}

func (s *keystoreSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := s.ks.SignTx(s.account, tx, chainID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Failed to sign transaction", err.Error())
	}
	return signed, nil
}
