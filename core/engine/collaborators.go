package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LicenseAsset is the non-fungible license registry the engine takes custody
// from.
type LicenseAsset interface {
	OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error)
	IsApprovedForTransfer(ctx context.Context, tokenID uint64, operator common.Address) (bool, error)
	TransferCustody(ctx context.Context, from, to common.Address, tokenID uint64) error
}

// RewardAsset is the fungible token rewards are paid in. Payouts are drawn
// from the engine's own balance.
type RewardAsset interface {
	PayOut(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error)
}

// AdminGate answers administrative and pause queries.
type AdminGate interface {
	IsAdmin(ctx context.Context, principal common.Address) bool
	IsPaused(ctx context.Context) bool
}
