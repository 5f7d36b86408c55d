package wallet

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// SimulatedManager keeps private keys in memory. Test and simulation use
// only; the coordinator binary always wires the keystore manager.
type SimulatedManager struct {
	keys      map[string]*ecdsa.PrivateKey
	passwords map[string]string
}

// NewSimulatedManager creates an empty in-memory wallet manager
func NewSimulatedManager() *SimulatedManager {
	return &SimulatedManager{
		keys:      make(map[string]*ecdsa.PrivateKey),
		passwords: make(map[string]string),
	}
}

// CreateWallet generates a key and returns the wallet ID (its address)
func (m *SimulatedManager) CreateWallet(password string) (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	id := crypto.PubkeyToAddress(key.PublicKey).Hex()
	m.keys[utils.NormalizeAddress(id)] = key
	m.passwords[utils.NormalizeAddress(id)] = password
	return id, nil
}

// Unlock resolves a wallet ID to an in-memory signer
func (m *SimulatedManager) Unlock(walletID, password string) (Signer, error) {
	id := utils.NormalizeAddress(walletID)
	key, ok := m.keys[id]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Wallet not found", walletID)
	}
	if m.passwords[id] != password {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Invalid password", walletID)
	}
	return &simulatedSigner{key: key}, nil
}

type simulatedSigner struct {
	key *ecdsa.PrivateKey
}

func (s *simulatedSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *simulatedSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
