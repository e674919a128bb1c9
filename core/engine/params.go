package engine

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"licensestake/core/epoch"
	"licensestake/core/rewards"
)

// Params configures a new engine.
type Params struct {
	// Address is the principal that holds licenses in custody and funds
	// reward payouts.
	Address common.Address
	Epoch   epoch.Config
	Rewards rewards.Config
	// InitialPool is the reward pool emitted when the first epoch closes.
	InitialPool *uint256.Int
	// Start opens the first epoch. The zero value means the time New is
	// called.
	Start time.Time
}

// Validate ensures the parameters describe a usable engine.
func (p Params) Validate() error {
	if p.Address == (common.Address{}) {
		return fmt.Errorf("engine: custody address must not be zero")
	}
	if err := p.Epoch.Validate(); err != nil {
		return err
	}
	if err := p.Rewards.Validate(); err != nil {
		return err
	}
	return nil
}
