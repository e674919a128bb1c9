package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func formatAmount(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.Dec()
}

func zeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}
