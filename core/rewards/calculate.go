package rewards

import (
	"fmt"

	"github.com/holiman/uint256"

	stakeerrors "licensestake/core/errors"
	"licensestake/core/fixedpoint"
	"licensestake/core/types"
)

// CalculateReward returns the part of pool owed to stakedInEpoch units out of
// totalEpochUnits: share = staked*S/total, reward = pool*share/S.
func CalculateReward(pool *uint256.Int, stakedInEpoch, totalEpochUnits uint64) (*uint256.Int, error) {
	if totalEpochUnits == 0 {
		return nil, stakeerrors.ErrNoStakeInEpoch
	}
	share, err := fixedpoint.Share(stakedInEpoch, totalEpochUnits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
	}
	reward, err := fixedpoint.ApplyShare(pool, share)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
	}
	return reward, nil
}

// NewSettlement summarises an epoch closed with the per-unit increase delta.
func NewSettlement(epoch, closedAt uint64, pool *uint256.Int, totalStaked uint64, delta *uint256.Int) (types.EpochSettlement, error) {
	scaled, err := fixedpoint.Mul(delta, uint256.NewInt(totalStaked))
	if err != nil {
		return types.EpochSettlement{}, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
	}
	distributed := fixedpoint.Descale(scaled)
	dust, err := fixedpoint.Sub(pool, distributed)
	if err != nil {
		return types.EpochSettlement{}, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
	}
	return types.EpochSettlement{
		Epoch:         epoch,
		ClosedAt:      closedAt,
		Pool:          fixedpoint.Copy(pool),
		TotalStaked:   totalStaked,
		RewardPerUnit: fixedpoint.Copy(delta),
		Distributed:   distributed,
		Dust:          dust,
	}, nil
}

// TotalEmission returns the sum of every epoch pool a schedule starting at
// pool pays out as it decays by decayRate percent per epoch. Each decay
// step rounds down and removes at least one unit, so the pool reaches zero
// after finitely many epochs. A zero decay rate never exhausts the pool and
// is rejected.
func TotalEmission(pool *uint256.Int, decayRate uint8) (*uint256.Int, error) {
	if decayRate == 0 {
		return nil, fmt.Errorf("rewards: emission is unbounded without decay")
	}
	total := new(uint256.Int)
	current := fixedpoint.Copy(pool)
	for !current.IsZero() {
		var err error
		if total, err = fixedpoint.Add(total, current); err != nil {
			return nil, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
		}
		if current, err = fixedpoint.Decay(current, decayRate); err != nil {
			return nil, err
		}
	}
	return total, nil
}
