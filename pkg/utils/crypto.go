package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress normalizes an address to lowercase with 0x prefix
func NormalizeAddress(address string) string {
	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	return strings.ToLower(address)
}

// MultiSigTxID computes the deterministic identifier of a multi-signature
// request from the transfer payload and creation time.
func MultiSigTxID(sender, recipient string, amount *big.Int, timestampNano int64) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		NormalizeAddress(sender), NormalizeAddress(recipient), amount.String(), timestampNano)
	return crypto.Keccak256Hash([]byte(data)).Hex()
}

// SignableHash returns the EIP-191 text hash signers commit to for a
// multi-signature transaction ID.
func SignableHash(txID string) []byte {
	return accounts.TextHash([]byte(txID))
}

// RecoverSigner recovers the address that produced signature over the
// canonical hash of txID. The 65-byte signature may carry a legacy V of
// 27/28.
func RecoverSigner(txID string, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(SignableHash(txID), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ParseAmount parses a decimal-string amount into a big integer. Amounts
// are carried as decimal strings end to end; floats are never accepted.
func ParseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	return amount, nil
}
