package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"licensestake/core/engine"
	"licensestake/core/types"
	"licensestake/storage"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(storage.NewMemDB())
	require.NoError(t, err)
	return m
}

func sampleChangeset() *engine.Changeset {
	return &engine.Changeset{
		Meta: &types.EngineMeta{Epoch: 3, EpochStartedAt: 7200, EpochDuration: 3600, DecayRatePercent: 10, Pool: uint256.NewInt(810)},
		Accounts: []*types.StakeAccount{
			{Address: alice, Staked: 2, LastStakeUpdateEpoch: 2, LastClaimedEpoch: 1},
			{Address: bob, Staked: 1, LastStakeUpdateEpoch: 1},
		},
		AccountHistory: []engine.AccountCheckpoint{
			{Address: alice, Checkpoint: types.Checkpoint{Epoch: 2, Units: 2}},
			{Address: alice, Checkpoint: types.Checkpoint{Epoch: 1, Units: 1}},
		},
		Positions: []*types.Position{
			{TokenID: 300, Owner: alice, LockedAt: 10},
			{TokenID: 2, Owner: bob, LockedAt: 20},
		},
		Totals: []types.Checkpoint{{Epoch: 2, Units: 3}, {Epoch: 1, Units: 2}},
		Accumulator: []types.AccumulatorEntry{
			{Epoch: 1, Value: uint256.NewInt(500)},
			{Epoch: 2, Value: uint256.NewInt(800)},
		},
		Settlements: []types.EpochSettlement{{
			Epoch:         1,
			ClosedAt:      3600,
			Pool:          uint256.NewInt(1000),
			TotalStaked:   2,
			RewardPerUnit: uint256.NewInt(500),
			Distributed:   uint256.NewInt(1000),
			Dust:          new(uint256.Int),
		}},
	}
}

func TestApplyAndLoadSnapshot(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Apply(sampleChangeset()))

	snap, err := m.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, snap.Meta)
	require.Equal(t, uint64(3), snap.Meta.Epoch)
	require.Equal(t, uint8(10), snap.Meta.DecayRatePercent)
	require.Equal(t, uint64(810), snap.Meta.Pool.Uint64())

	require.Len(t, snap.Accounts, 2)
	byAddr := map[common.Address]*types.StakeAccount{}
	for _, acc := range snap.Accounts {
		byAddr[acc.Address] = acc
	}
	require.Equal(t, []types.Checkpoint{{Epoch: 1, Units: 1}, {Epoch: 2, Units: 2}}, byAddr[alice].History)
	require.Equal(t, uint64(1), byAddr[alice].LastClaimedEpoch)
	require.Nil(t, byAddr[bob].History)

	require.Len(t, snap.Positions, 2)
	require.Equal(t, uint64(2), snap.Positions[0].TokenID, "positions load in token order")
	require.Equal(t, uint64(300), snap.Positions[1].TokenID)

	require.Equal(t, []types.Checkpoint{{Epoch: 1, Units: 2}, {Epoch: 2, Units: 3}}, snap.Totals)
	require.Len(t, snap.Accumulator, 2)
	require.Equal(t, uint64(800), snap.Accumulator[1].Value.Uint64())
	require.Len(t, snap.Settlements, 1)
	require.Equal(t, uint64(1000), snap.Settlements[0].Distributed.Uint64())
	require.True(t, snap.Settlements[0].Dust.IsZero())
}

func TestApplyDeletes(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Apply(sampleChangeset()))
	require.NoError(t, m.Apply(&engine.Changeset{
		DeletedAccounts:       []common.Address{bob},
		DeletedAccountHistory: []engine.AccountEpoch{{Address: alice, Epoch: 2}},
		DeletedPositions:      []uint64{2},
		DeletedTotals:         []uint64{2},
		DeletedAccumulator:    []uint64{2},
		DeletedSettlements:    []uint64{1},
	}))

	snap, err := m.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, snap.Accounts, 1)
	require.Equal(t, alice, snap.Accounts[0].Address)
	require.Equal(t, []types.Checkpoint{{Epoch: 1, Units: 1}}, snap.Accounts[0].History)
	require.Len(t, snap.Positions, 1)
	require.Equal(t, []types.Checkpoint{{Epoch: 1, Units: 2}}, snap.Totals)
	require.Len(t, snap.Accumulator, 1)
	require.Empty(t, snap.Settlements)
}

func TestEmptyDatabaseSnapshot(t *testing.T) {
	m := newTestManager(t)
	snap, err := m.LoadSnapshot()
	require.NoError(t, err)
	require.Nil(t, snap.Meta)
	require.Empty(t, snap.Accounts)
	require.Equal(t, common.Hash{}, m.Root())

	require.NoError(t, m.Apply(&engine.Changeset{}))
	require.Equal(t, common.Hash{}, m.Root(), "empty changesets do not move the root")
}

func TestRootIsDeterministicAndPersisted(t *testing.T) {
	first := newTestManager(t)
	second := newTestManager(t)
	require.NoError(t, first.Apply(sampleChangeset()))
	require.NoError(t, second.Apply(sampleChangeset()))
	require.NotEqual(t, common.Hash{}, first.Root())
	require.Equal(t, first.Root(), second.Root())

	require.NoError(t, second.KVPut([]byte("extra"), uint64(1)))
	require.NotEqual(t, first.Root(), second.Root())

	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	m, err := NewManager(db)
	require.NoError(t, err)
	require.NoError(t, m.Apply(sampleChangeset()))
	root := m.Root()
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	m, err = NewManager(reopened)
	require.NoError(t, err)
	require.Equal(t, root, m.Root())
	snap, err := m.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, snap.Accounts, 2)
}

func TestKV(t *testing.T) {
	m := newTestManager(t)
	_, err := m.KVGet(nil, nil)
	require.Error(t, err)
	require.Error(t, m.KVPut(nil, uint64(1)))

	var value uint64
	ok, err := m.KVGet([]byte("counter"), &value)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.KVPut([]byte("counter"), uint64(42)))
	ok, err = m.KVGet([]byte("counter"), &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), value)

	require.NoError(t, m.KVDelete([]byte("counter")))
	ok, err = m.KVGet([]byte("counter"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsureStateVersion(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureStateVersion(false))
	version, ok, err := m.StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)

	require.NoError(t, m.SetStateVersion(StateVersion+1))
	require.ErrorIs(t, m.EnsureStateVersion(false), ErrStateVersionMismatch)
	require.NoError(t, m.EnsureStateVersion(true))
}

func TestStoredMetaRejectsBadDecay(t *testing.T) {
	_, err := (&storedMeta{DecayRatePercent: 101}).toMeta()
	require.Error(t, err)
}

func TestCheckpointsStoredPerEpoch(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Apply(sampleChangeset()))
	before := m.Root()

	// A later stake change writes one checkpoint key and leaves earlier ones
	// untouched.
	require.NoError(t, m.Apply(&engine.Changeset{
		Accounts:       []*types.StakeAccount{{Address: alice, Staked: 3, LastStakeUpdateEpoch: 5, LastClaimedEpoch: 1}},
		AccountHistory: []engine.AccountCheckpoint{{Address: alice, Checkpoint: types.Checkpoint{Epoch: 5, Units: 3}}},
	}))
	require.NotEqual(t, before, m.Root())

	var units uint64
	raw, err := m.db.Get(StakeCheckpointKey(alice, 1))
	require.NoError(t, err)
	require.NoError(t, rlp.DecodeBytes(raw, &units))
	require.Equal(t, uint64(1), units)

	snap, err := m.LoadSnapshot()
	require.NoError(t, err)
	for _, acc := range snap.Accounts {
		if acc.Address == alice {
			require.Equal(t, []types.Checkpoint{{Epoch: 1, Units: 1}, {Epoch: 2, Units: 2}, {Epoch: 5, Units: 3}}, acc.History)
		}
	}
}

func TestCheckpointWithoutAccountRejected(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Apply(&engine.Changeset{
		AccountHistory: []engine.AccountCheckpoint{{Address: bob, Checkpoint: types.Checkpoint{Epoch: 1, Units: 1}}},
	}))
	_, err := m.LoadSnapshot()
	require.ErrorContains(t, err, "unknown account")
}
