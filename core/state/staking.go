package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"licensestake/core/engine"
	"licensestake/core/types"
	"licensestake/storage"
)

type storedMeta struct {
	Epoch            uint64
	EpochStartedAt   uint64
	EpochDuration    uint64
	DecayRatePercent uint64
	Pool             *big.Int
}

type storedAccount struct {
	Address              common.Address
	Staked               uint64
	LastStakeUpdateEpoch uint64
	LastClaimedEpoch     uint64
}

type storedPosition struct {
	TokenID  uint64
	Owner    common.Address
	LockedAt uint64
}

type storedSettlement struct {
	Epoch         uint64
	ClosedAt      uint64
	Pool          *big.Int
	TotalStaked   uint64
	RewardPerUnit *big.Int
	Distributed   *big.Int
	Dust          *big.Int
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: stored amount %s exceeds 256 bits", v)
	}
	return out, nil
}

func newStoredMeta(meta *types.EngineMeta) *storedMeta {
	return &storedMeta{
		Epoch:            meta.Epoch,
		EpochStartedAt:   meta.EpochStartedAt,
		EpochDuration:    meta.EpochDuration,
		DecayRatePercent: uint64(meta.DecayRatePercent),
		Pool:             toBig(meta.Pool),
	}
}

func (s *storedMeta) toMeta() (*types.EngineMeta, error) {
	if s.DecayRatePercent > 100 {
		return nil, fmt.Errorf("state: stored decay rate %d out of range", s.DecayRatePercent)
	}
	pool, err := fromBig(s.Pool)
	if err != nil {
		return nil, err
	}
	return &types.EngineMeta{
		Epoch:            s.Epoch,
		EpochStartedAt:   s.EpochStartedAt,
		EpochDuration:    s.EpochDuration,
		DecayRatePercent: uint8(s.DecayRatePercent),
		Pool:             pool,
	}, nil
}

func newStoredAccount(acc *types.StakeAccount) *storedAccount {
	return &storedAccount{
		Address:              acc.Address,
		Staked:               acc.Staked,
		LastStakeUpdateEpoch: acc.LastStakeUpdateEpoch,
		LastClaimedEpoch:     acc.LastClaimedEpoch,
	}
}

func (s *storedAccount) toAccount() *types.StakeAccount {
	return &types.StakeAccount{
		Address:              s.Address,
		Staked:               s.Staked,
		LastStakeUpdateEpoch: s.LastStakeUpdateEpoch,
		LastClaimedEpoch:     s.LastClaimedEpoch,
	}
}

func newStoredSettlement(s types.EpochSettlement) *storedSettlement {
	return &storedSettlement{
		Epoch:         s.Epoch,
		ClosedAt:      s.ClosedAt,
		Pool:          toBig(s.Pool),
		TotalStaked:   s.TotalStaked,
		RewardPerUnit: toBig(s.RewardPerUnit),
		Distributed:   toBig(s.Distributed),
		Dust:          toBig(s.Dust),
	}
}

func (s *storedSettlement) toSettlement() (types.EpochSettlement, error) {
	out := types.EpochSettlement{Epoch: s.Epoch, ClosedAt: s.ClosedAt, TotalStaked: s.TotalStaked}
	var err error
	if out.Pool, err = fromBig(s.Pool); err != nil {
		return types.EpochSettlement{}, err
	}
	if out.RewardPerUnit, err = fromBig(s.RewardPerUnit); err != nil {
		return types.EpochSettlement{}, err
	}
	if out.Distributed, err = fromBig(s.Distributed); err != nil {
		return types.EpochSettlement{}, err
	}
	if out.Dust, err = fromBig(s.Dust); err != nil {
		return types.EpochSettlement{}, err
	}
	return out, nil
}

// Apply writes every record of cs in one atomic batch.
func (m *Manager) Apply(cs *engine.Changeset) error {
	if cs.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.newWriter()
	if cs.Meta != nil {
		if err := w.put(stakeMetaKey, newStoredMeta(cs.Meta)); err != nil {
			return err
		}
	}
	for _, acc := range cs.Accounts {
		if err := w.put(StakeAccountKey(acc.Address), newStoredAccount(acc)); err != nil {
			return err
		}
	}
	for _, addr := range cs.DeletedAccounts {
		w.delete(StakeAccountKey(addr))
	}
	for _, cp := range cs.AccountHistory {
		if err := w.put(StakeCheckpointKey(cp.Address, cp.Epoch), cp.Units); err != nil {
			return err
		}
	}
	for _, key := range cs.DeletedAccountHistory {
		w.delete(StakeCheckpointKey(key.Address, key.Epoch))
	}
	for _, pos := range cs.Positions {
		stored := &storedPosition{TokenID: pos.TokenID, Owner: pos.Owner, LockedAt: pos.LockedAt}
		if err := w.put(StakePositionKey(pos.TokenID), stored); err != nil {
			return err
		}
	}
	for _, id := range cs.DeletedPositions {
		w.delete(StakePositionKey(id))
	}
	for _, cp := range cs.Totals {
		if err := w.put(StakeTotalKey(cp.Epoch), cp.Units); err != nil {
			return err
		}
	}
	for _, epoch := range cs.DeletedTotals {
		w.delete(StakeTotalKey(epoch))
	}
	for _, entry := range cs.Accumulator {
		if err := w.put(StakeAccumulatorKey(entry.Epoch), toBig(entry.Value)); err != nil {
			return err
		}
	}
	for _, epoch := range cs.DeletedAccumulator {
		w.delete(StakeAccumulatorKey(epoch))
	}
	for _, record := range cs.Settlements {
		if err := w.put(StakeSettlementKey(record.Epoch), newStoredSettlement(record)); err != nil {
			return err
		}
	}
	for _, epoch := range cs.DeletedSettlements {
		w.delete(StakeSettlementKey(epoch))
	}
	return m.commit(w)
}

// LoadSnapshot reads the complete engine state. A database that never held
// engine state yields a snapshot with nil Meta.
func (m *Manager) LoadSnapshot() (*engine.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &engine.Snapshot{}

	raw, err := m.db.Get(stakeMetaKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("state: load meta: %w", err)
	default:
		var stored storedMeta
		if err := rlp.DecodeBytes(raw, &stored); err != nil {
			return nil, fmt.Errorf("state: decode meta: %w", err)
		}
		if snap.Meta, err = stored.toMeta(); err != nil {
			return nil, err
		}
	}

	byAddress := make(map[common.Address]*types.StakeAccount)
	err = m.db.Iterate(stakeAccountPrefix, func(key, value []byte) error {
		var stored storedAccount
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return fmt.Errorf("state: decode account %x: %w", key, err)
		}
		if !bytes.Equal(key[len(stakeAccountPrefix):], stored.Address.Bytes()) {
			return fmt.Errorf("state: account key %x holds record for %s", key, stored.Address.Hex())
		}
		acc := stored.toAccount()
		byAddress[acc.Address] = acc
		snap.Accounts = append(snap.Accounts, acc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = m.db.Iterate(stakeCheckpointPrefix, func(key, value []byte) error {
		if len(key) != len(stakeCheckpointPrefix)+common.AddressLength+8 {
			return fmt.Errorf("state: malformed checkpoint key %x", key)
		}
		addr := common.BytesToAddress(key[len(stakeCheckpointPrefix) : len(stakeCheckpointPrefix)+common.AddressLength])
		acc, ok := byAddress[addr]
		if !ok {
			return fmt.Errorf("state: checkpoint for unknown account %s", addr.Hex())
		}
		var units uint64
		if err := rlp.DecodeBytes(value, &units); err != nil {
			return fmt.Errorf("state: decode checkpoint %x: %w", key, err)
		}
		epoch := binary.BigEndian.Uint64(key[len(key)-8:])
		acc.History = append(acc.History, types.Checkpoint{Epoch: epoch, Units: units})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = m.db.Iterate(stakePositionPrefix, func(key, value []byte) error {
		var stored storedPosition
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return fmt.Errorf("state: decode position %x: %w", key, err)
		}
		snap.Positions = append(snap.Positions, &types.Position{TokenID: stored.TokenID, Owner: stored.Owner, LockedAt: stored.LockedAt})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = m.db.Iterate(stakeTotalPrefix, func(key, value []byte) error {
		epoch, err := keyEpoch(stakeTotalPrefix, key)
		if err != nil {
			return err
		}
		var units uint64
		if err := rlp.DecodeBytes(value, &units); err != nil {
			return fmt.Errorf("state: decode total %d: %w", epoch, err)
		}
		snap.Totals = append(snap.Totals, types.Checkpoint{Epoch: epoch, Units: units})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = m.db.Iterate(stakeAccumulatorPrefix, func(key, value []byte) error {
		epoch, err := keyEpoch(stakeAccumulatorPrefix, key)
		if err != nil {
			return err
		}
		stored := new(big.Int)
		if err := rlp.DecodeBytes(value, stored); err != nil {
			return fmt.Errorf("state: decode accumulator %d: %w", epoch, err)
		}
		v, err := fromBig(stored)
		if err != nil {
			return err
		}
		snap.Accumulator = append(snap.Accumulator, types.AccumulatorEntry{Epoch: epoch, Value: v})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = m.db.Iterate(stakeSettlementPrefix, func(key, value []byte) error {
		var stored storedSettlement
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return fmt.Errorf("state: decode settlement %x: %w", key, err)
		}
		record, err := stored.toSettlement()
		if err != nil {
			return err
		}
		snap.Settlements = append(snap.Settlements, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func keyEpoch(prefix, key []byte) (uint64, error) {
	if len(key) != len(prefix)+8 {
		return 0, fmt.Errorf("state: malformed key %x", key)
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), nil
}
