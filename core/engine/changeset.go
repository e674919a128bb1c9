package engine

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"licensestake/core/types"
)

// Changeset lists every persisted record an operation wrote or removed. Each
// changeset is applied atomically by the Store.
type Changeset struct {
	Meta *types.EngineMeta

	// Accounts carry no History; checkpoints travel in AccountHistory.
	Accounts        []*types.StakeAccount
	DeletedAccounts []common.Address

	AccountHistory        []AccountCheckpoint
	DeletedAccountHistory []AccountEpoch

	Positions        []*types.Position
	DeletedPositions []uint64

	Totals        []types.Checkpoint
	DeletedTotals []uint64

	Accumulator        []types.AccumulatorEntry
	DeletedAccumulator []uint64

	Settlements        []types.EpochSettlement
	DeletedSettlements []uint64
}

// Empty reports whether the changeset carries no writes.
func (c *Changeset) Empty() bool {
	return c == nil || (c.Meta == nil &&
		len(c.Accounts) == 0 && len(c.DeletedAccounts) == 0 &&
		len(c.AccountHistory) == 0 && len(c.DeletedAccountHistory) == 0 &&
		len(c.Positions) == 0 && len(c.DeletedPositions) == 0 &&
		len(c.Totals) == 0 && len(c.DeletedTotals) == 0 &&
		len(c.Accumulator) == 0 && len(c.DeletedAccumulator) == 0 &&
		len(c.Settlements) == 0 && len(c.DeletedSettlements) == 0)
}

// AccountEpoch identifies one checkpoint of a participant's stake log.
type AccountEpoch struct {
	Address common.Address
	Epoch   uint64
}

// AccountCheckpoint is one persisted entry of a participant's stake log.
type AccountCheckpoint struct {
	Address common.Address
	types.Checkpoint
}

// Snapshot is the complete persisted engine state.
type Snapshot struct {
	Meta        *types.EngineMeta
	Accounts    []*types.StakeAccount
	Positions   []*types.Position
	Totals      []types.Checkpoint
	Accumulator []types.AccumulatorEntry
	Settlements []types.EpochSettlement
}

// Store persists engine changesets.
type Store interface {
	Apply(*Changeset) error
}

// changeset reads the current value of every key in set.
func (e *Engine) changeset(set *dirtySet) *Changeset {
	cs := &Changeset{}
	if set.meta {
		meta := e.meta()
		cs.Meta = &meta
	}
	for _, addr := range sortedAddresses(set.accounts) {
		if acc := e.ledger.AccountSummary(addr); acc != nil {
			cs.Accounts = append(cs.Accounts, acc)
		} else {
			cs.DeletedAccounts = append(cs.DeletedAccounts, addr)
		}
	}
	for _, key := range sortedAccountEpochs(set.checkpoints) {
		if cp, ok := e.ledger.AccountCheckpoint(key.Address, key.Epoch); ok {
			cs.AccountHistory = append(cs.AccountHistory, AccountCheckpoint{Address: key.Address, Checkpoint: cp})
		} else {
			cs.DeletedAccountHistory = append(cs.DeletedAccountHistory, key)
		}
	}
	for _, id := range sortedKeys(set.positions) {
		if pos := e.ledger.Position(id); pos != nil {
			cs.Positions = append(cs.Positions, pos)
		} else {
			cs.DeletedPositions = append(cs.DeletedPositions, id)
		}
	}
	for _, epoch := range sortedKeys(set.totals) {
		if cp, ok := e.ledger.TotalCheckpoint(epoch); ok {
			cs.Totals = append(cs.Totals, cp)
		} else {
			cs.DeletedTotals = append(cs.DeletedTotals, epoch)
		}
	}
	for _, epoch := range sortedKeys(set.accumulator) {
		if entry, ok := e.acc.Entry(epoch); ok {
			cs.Accumulator = append(cs.Accumulator, entry)
		} else {
			cs.DeletedAccumulator = append(cs.DeletedAccumulator, epoch)
		}
	}
	settlements := make(map[uint64]struct{}, len(set.settlements)+len(set.evicted))
	for epoch := range set.settlements {
		settlements[epoch] = struct{}{}
	}
	for epoch := range set.evicted {
		settlements[epoch] = struct{}{}
	}
	for _, epoch := range sortedKeys(settlements) {
		if record, ok := e.history.Get(epoch); ok {
			cs.Settlements = append(cs.Settlements, record)
		} else {
			cs.DeletedSettlements = append(cs.DeletedSettlements, epoch)
		}
	}
	return cs
}

func sortedKeys(set map[uint64]struct{}) []uint64 {
	keys := make([]uint64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedAddresses(set map[common.Address]struct{}) []common.Address {
	keys := make([]common.Address, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}

func sortedAccountEpochs(set map[AccountEpoch]struct{}) []AccountEpoch {
	keys := make([]AccountEpoch, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := bytes.Compare(keys[i].Address[:], keys[j].Address[:]); c != 0 {
			return c < 0
		}
		return keys[i].Epoch < keys[j].Epoch
	})
	return keys
}
