// File: internal/bridge/fees.go
package bridge

import (
	"math/big"

	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// FeeCalculator prices a bridge transfer: a flat base fee plus a
// proportional component, with an extra data fee when the destination
// is a rollup that posts calldata to its parent chain.
type FeeCalculator struct {
	baseFee     *big.Int
	l1DataFee   *big.Int
	basisPoints int64
}

// NewFeeCalculator parses the configured fee components
func NewFeeCalculator(cfg *config.BridgeConfig) (*FeeCalculator, error) {
	baseFee, err := utils.ParseAmount(cfg.BaseFeeWei)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid base fee", err.Error())
	}
	l1DataFee, err := utils.ParseAmount(cfg.L1DataFeeWei)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid L1 data fee", err.Error())
	}
	if cfg.FeeBasisPoints < 0 || cfg.FeeBasisPoints > 10_000 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Fee basis points out of range")
	}

	return &FeeCalculator{
		baseFee:     baseFee,
		l1DataFee:   l1DataFee,
		basisPoints: cfg.FeeBasisPoints,
	}, nil
}

// Estimate returns the total fee for an amount
func (f *FeeCalculator) Estimate(amount *big.Int, destLayer2 bool) *big.Int {
	fee := new(big.Int).Set(f.baseFee)

	proportional := new(big.Int).Mul(amount, big.NewInt(f.basisPoints))
	proportional.Div(proportional, big.NewInt(10_000))
	fee.Add(fee, proportional)

	if destLayer2 {
		fee.Add(fee, f.l1DataFee)
	}
	return fee
}
