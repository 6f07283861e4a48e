package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// serviceRouterABIJSON covers the fulfilment router's two payment entry points.
const serviceRouterABIJSON = `[
	{"type":"function","name":"requestService","stateMutability":"payable","inputs":[{"name":"serviceRef","type":"string"},{"name":"fiatAmountMinor","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"requestERC20Service","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"serviceRef","type":"string"},{"name":"fiatAmountMinor","type":"uint256"}],"outputs":[]}
]`

var (
	erc20ABI         = mustParseABI(erc20ABIJSON)
	serviceRouterABI = mustParseABI(serviceRouterABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("evm: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
