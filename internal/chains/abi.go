// File: internal/chains/abi.go
package chains

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// bridgeABIJSON is the on-chain bridge contract surface the coordinator
// drives: the AssetLocked event plus the lock/mint/balance entry points.
const bridgeABIJSON = `[
	{"type":"event","name":"AssetLocked","inputs":[
		{"name":"requestId","type":"bytes32","indexed":true},
		{"name":"sender","type":"address","indexed":true},
		{"name":"asset","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"targetChainId","type":"uint256","indexed":false}]},
	{"type":"function","name":"lockAsset","stateMutability":"payable","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"targetChainId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"mintAsset","stateMutability":"nonpayable","inputs":[
		{"name":"requestId","type":"bytes32"},
		{"name":"recipient","type":"address"},
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"sourceChainId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getLockedBalance","stateMutability":"view","inputs":[
		{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	bridgeABI abi.ABI
	erc20ABI  abi.ABI

	// assetLockedTopic is the indexed event signature used in log filters
	assetLockedTopic common.Hash
)

func init() {
	var err error
	bridgeABI, err = abi.JSON(strings.NewReader(bridgeABIJSON))
	if err != nil {
		panic("chains: invalid bridge ABI: " + err.Error())
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("chains: invalid erc20 ABI: " + err.Error())
	}
	assetLockedTopic = bridgeABI.Events["AssetLocked"].ID
}
