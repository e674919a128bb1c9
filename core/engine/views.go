package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"licensestake/core/epoch"
	stakeerrors "licensestake/core/errors"
	"licensestake/core/fixedpoint"
	"licensestake/core/types"
)

// Health returns nil while the persisted state matches the engine and the
// collaborators. Once a rollback fails to persist it reports
// ErrStateDiverged and every mutation is refused until restart.
func (e *Engine) Health() error {
	if e.diverged != nil {
		return fmt.Errorf("%w: %v", stakeerrors.ErrStateDiverged, e.diverged)
	}
	return nil
}

// Address returns the custody principal.
func (e *Engine) Address() common.Address { return e.params.Address }

// Params returns the engine parameters in effect.
func (e *Engine) Params() Params { return e.params }

// Clock returns the epoch clock.
func (e *Engine) Clock() epoch.Clock { return e.clock }

// CurrentEpoch returns the index of the open epoch.
func (e *Engine) CurrentEpoch() uint64 { return e.clock.Index }

// Pool returns the pool the open epoch will emit.
func (e *Engine) Pool() *uint256.Int { return fixedpoint.Copy(e.pool) }

// TotalStaked returns the units currently staked.
func (e *Engine) TotalStaked() uint64 { return e.ledger.Total() }

// TotalStakedAt returns the units staked at the end of epoch.
func (e *Engine) TotalStakedAt(epoch uint64) uint64 { return e.ledger.TotalAsOf(epoch) }

// StakeAt returns participant's units at the end of epoch.
func (e *Engine) StakeAt(participant common.Address, epoch uint64) uint64 {
	return e.ledger.StakeAsOf(participant, epoch)
}

// Account returns a copy of participant's account, or nil.
func (e *Engine) Account(participant common.Address) *types.StakeAccount {
	return e.ledger.Account(participant)
}

// Position returns a copy of the position for tokenID, or nil.
func (e *Engine) Position(tokenID uint64) *types.Position {
	return e.ledger.Position(tokenID)
}

// AccumulatorAt returns the accumulated reward per unit, scaled by 10^18, as
// of the end of epoch.
func (e *Engine) AccumulatorAt(epoch uint64) *uint256.Int {
	return e.acc.ValueAt(epoch)
}

// Settlements returns the retained epoch settlements, oldest first.
func (e *Engine) Settlements() []types.EpochSettlement {
	return e.history.Records()
}

// Settlement returns the settlement for epoch when it is still retained.
func (e *Engine) Settlement(epoch uint64) (types.EpochSettlement, bool) {
	return e.history.Get(epoch)
}

// RewardBalance returns the reward tokens available for payouts.
func (e *Engine) RewardBalance(ctx context.Context) (*uint256.Int, error) {
	return e.rewards.BalanceOf(ctx, e.params.Address)
}

// Verify checks the ledger's internal consistency. It walks every record.
func (e *Engine) Verify() error {
	return e.ledger.Verify()
}

// Snapshot returns the complete engine state in persisted form.
func (e *Engine) Snapshot() *Snapshot {
	meta := e.meta()
	snap := &Snapshot{
		Meta:        &meta,
		Totals:      e.ledger.TotalHistory(),
		Accumulator: e.acc.Entries(),
		Settlements: e.history.Records(),
	}
	snap.Accounts, snap.Positions = e.ledger.Records()
	return snap
}
