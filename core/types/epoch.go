package types

import (
	"github.com/holiman/uint256"
)

// AccumulatorEntry is the running reward-per-unit total, scaled by 10^18, as
// recorded when Epoch closed.
type AccumulatorEntry struct {
	Epoch uint64
	Value *uint256.Int
}

// EpochSettlement summarises how an epoch's pool was converted into per-unit
// rewards.
type EpochSettlement struct {
	Epoch       uint64       `json:"epoch"`
	ClosedAt    uint64       `json:"closedAt"`
	Pool        *uint256.Int `json:"pool"`
	TotalStaked uint64       `json:"totalStaked"`
	// RewardPerUnit is the accumulator increase for the epoch, scaled by 10^18.
	RewardPerUnit *uint256.Int `json:"rewardPerUnit"`
	// Distributed is the amount claimable by all stakers combined.
	Distributed *uint256.Int `json:"distributed"`
	// Dust is the part of the pool lost to truncation or left unallocated
	// because nothing was staked.
	Dust *uint256.Int `json:"dust"`
}

// Clone returns a deep copy of the settlement.
func (s EpochSettlement) Clone() EpochSettlement {
	return EpochSettlement{
		Epoch:         s.Epoch,
		ClosedAt:      s.ClosedAt,
		Pool:          copyUint(s.Pool),
		TotalStaked:   s.TotalStaked,
		RewardPerUnit: copyUint(s.RewardPerUnit),
		Distributed:   copyUint(s.Distributed),
		Dust:          copyUint(s.Dust),
	}
}

// EngineMeta is the global scalar state of the reward engine. EpochDuration
// and DecayRatePercent are fixed when the engine is first created.
type EngineMeta struct {
	Epoch            uint64
	EpochStartedAt   uint64
	EpochDuration    uint64
	DecayRatePercent uint8
	Pool             *uint256.Int
}

// Clone returns a deep copy of the metadata.
func (m EngineMeta) Clone() EngineMeta {
	out := m
	out.Pool = copyUint(m.Pool)
	return out
}

func copyUint(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
