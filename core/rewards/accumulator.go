package rewards

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	stakeerrors "licensestake/core/errors"
	"licensestake/core/fixedpoint"
	"licensestake/core/ledger"
	"licensestake/core/types"
)

// Accumulator tracks the running reward-per-unit total across epochs. Entries
// are only written for epochs that closed with a non-zero stake; every other
// epoch carries the previous value forward.
type Accumulator struct {
	entries []types.AccumulatorEntry
}

// NewAccumulator returns an accumulator whose value is zero for every epoch.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// LoadAccumulator rebuilds an accumulator from persisted entries.
func LoadAccumulator(entries []types.AccumulatorEntry) (*Accumulator, error) {
	acc := &Accumulator{entries: make([]types.AccumulatorEntry, 0, len(entries))}
	prevEpoch := uint64(0)
	prevValue := new(uint256.Int)
	for i, entry := range entries {
		if entry.Epoch == 0 || (i > 0 && entry.Epoch <= prevEpoch) {
			return nil, fmt.Errorf("accumulator entry %d: epoch %d out of order", i, entry.Epoch)
		}
		value := fixedpoint.Copy(entry.Value)
		if value.Lt(prevValue) {
			return nil, fmt.Errorf("accumulator entry %d: value decreases at epoch %d", i, entry.Epoch)
		}
		acc.entries = append(acc.entries, types.AccumulatorEntry{Epoch: entry.Epoch, Value: value})
		prevEpoch, prevValue = entry.Epoch, value
	}
	return acc, nil
}

// Entries returns a copy of the stored entries.
func (a *Accumulator) Entries() []types.AccumulatorEntry {
	out := make([]types.AccumulatorEntry, len(a.entries))
	for i, entry := range a.entries {
		out[i] = types.AccumulatorEntry{Epoch: entry.Epoch, Value: fixedpoint.Copy(entry.Value)}
	}
	return out
}

// Entry returns the entry written for exactly epoch.
func (a *Accumulator) Entry(epoch uint64) (types.AccumulatorEntry, bool) {
	idx := sort.Search(len(a.entries), func(i int) bool { return a.entries[i].Epoch >= epoch })
	if idx < len(a.entries) && a.entries[idx].Epoch == epoch {
		entry := a.entries[idx]
		return types.AccumulatorEntry{Epoch: entry.Epoch, Value: fixedpoint.Copy(entry.Value)}, true
	}
	return types.AccumulatorEntry{}, false
}

// Len returns the number of stored entries.
func (a *Accumulator) Len() int {
	return len(a.entries)
}

// Truncate drops every entry past the first n.
func (a *Accumulator) Truncate(n int) {
	if n < len(a.entries) {
		a.entries = a.entries[:n]
	}
}

// ValueAt returns the accumulated reward per unit as of the end of epoch.
func (a *Accumulator) ValueAt(epoch uint64) *uint256.Int {
	idx := sort.Search(len(a.entries), func(i int) bool { return a.entries[i].Epoch > epoch })
	if idx == 0 {
		return new(uint256.Int)
	}
	return fixedpoint.Copy(a.entries[idx-1].Value)
}

// RewardBetween returns the scaled reward a single unit earned over epochs
// (from, to].
func (a *Accumulator) RewardBetween(from, to uint64) (*uint256.Int, error) {
	if to <= from {
		return new(uint256.Int), nil
	}
	return fixedpoint.Sub(a.ValueAt(to), a.ValueAt(from))
}

// CloseEpoch records the distribution of pool across totalStaked units for
// epoch and returns the per-unit increase. Nothing is written when no units
// are staked.
func (a *Accumulator) CloseEpoch(epoch uint64, totalStaked uint64, pool *uint256.Int) (*uint256.Int, error) {
	if n := len(a.entries); n > 0 && a.entries[n-1].Epoch >= epoch {
		return nil, fmt.Errorf("accumulator: epoch %d already closed", epoch)
	}
	if totalStaked == 0 {
		return new(uint256.Int), nil
	}
	delta, err := fixedpoint.PerUnit(pool, totalStaked)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
	}
	value, err := fixedpoint.Add(a.ValueAt(epoch), delta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
	}
	a.entries = append(a.entries, types.AccumulatorEntry{Epoch: epoch, Value: value})
	return delta, nil
}

// Settle returns the reward owed for the supplied stake segments. The scaled
// products are summed before the single division by the scale, which matches
// summing each epoch separately.
func (a *Accumulator) Settle(segments []ledger.Segment) (*uint256.Int, error) {
	sum := new(uint256.Int)
	for _, seg := range segments {
		perUnit, err := a.RewardBetween(seg.From, seg.To)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
		}
		owed, err := fixedpoint.Mul(perUnit, uint256.NewInt(seg.Units))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
		}
		if sum, err = fixedpoint.Add(sum, owed); err != nil {
			return nil, fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
		}
	}
	return fixedpoint.Descale(sum), nil
}
