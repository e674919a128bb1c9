package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/big"
	"math/rand"
	"runtime"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"licensestake/core/epoch"
	stakeerrors "licensestake/core/errors"
	"licensestake/core/events"
	"licensestake/core/rewards"
	"licensestake/core/types"
)

func TestNewRejectsInvalidParams(t *testing.T) {
	deps := Dependencies{Licenses: newFakeLicenses(), Rewards: newFakeRewards(0), Gate: &fakeGate{admin: admin}}
	base := Params{Address: custody, Epoch: epoch.Config{Duration: time.Hour, DecayRatePercent: 10}, InitialPool: uint256.NewInt(1)}

	zeroDuration := base
	zeroDuration.Epoch.Duration = 0
	if _, err := New(zeroDuration, deps); !errors.Is(err, stakeerrors.ErrZeroEpochDuration) {
		t.Fatalf("expected zero duration error, got %v", err)
	}
	badDecay := base
	badDecay.Epoch.DecayRatePercent = 101
	if _, err := New(badDecay, deps); !errors.Is(err, stakeerrors.ErrInvalidDecayRate) {
		t.Fatalf("expected decay rate error, got %v", err)
	}
	if _, err := New(base, Dependencies{Licenses: deps.Licenses, Gate: deps.Gate}); !errors.Is(err, stakeerrors.ErrNilCollaborator) {
		t.Fatalf("expected nil collaborator error, got %v", err)
	}
	noAddress := base
	noAddress.Address = common.Address{}
	if _, err := New(noAddress, deps); err == nil {
		t.Fatalf("expected zero custody address to fail")
	}
}

func TestSixFourNineScenario(t *testing.T) {
	h := newHarness(t)
	if h.engine.CurrentEpoch() != 1 {
		t.Fatalf("engine must start in epoch 1, got %d", h.engine.CurrentEpoch())
	}
	h.lock(alice, tokenRange(1, 6)...)
	h.lock(bob, tokenRange(101, 4)...)
	h.lock(carol, tokenRange(201, 9)...)
	if h.engine.TotalStaked() != 19 {
		t.Fatalf("expected 19 units staked, got %d", h.engine.TotalStaked())
	}

	for _, tc := range []struct {
		units uint64
		want  uint64
	}{{6, 315}, {4, 210}, {9, 473}} {
		direct, err := h.engine.CalculateReward(tc.units, 19)
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		if direct.Uint64() != tc.want {
			t.Fatalf("direct reward for %d units: got %s want %d", tc.units, direct.Dec(), tc.want)
		}
	}
	if _, err := h.engine.CalculateReward(1, 0); !errors.Is(err, stakeerrors.ErrNoStakeInEpoch) {
		t.Fatalf("expected no stake error, got %v", err)
	}

	h.closeEpoch()
	if h.engine.Pool().Uint64() != 900 {
		t.Fatalf("expected pool 900, got %s", h.engine.Pool().Dec())
	}
	if h.engine.CurrentEpoch() != 2 {
		t.Fatalf("expected epoch 2, got %d", h.engine.CurrentEpoch())
	}

	for _, tc := range []struct {
		who  common.Address
		want uint64
	}{{alice, 315}, {bob, 210}, {carol, 473}} {
		pending, err := h.engine.PendingReward(tc.who)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if got := h.claim(tc.who); got != tc.want {
			t.Fatalf("claim for %s: got %d want %d", tc.who.Hex(), got, tc.want)
		}
		if pending.Amount.Uint64() != tc.want {
			t.Fatalf("pending for %s: got %s want %d", tc.who.Hex(), pending.Amount.Dec(), tc.want)
		}
		if h.rewards.balance(tc.who) != tc.want {
			t.Fatalf("payout for %s: got %d", tc.who.Hex(), h.rewards.balance(tc.who))
		}
		if acc := h.engine.Account(tc.who); acc.LastClaimedEpoch != 1 {
			t.Fatalf("expected last claimed epoch 1, got %d", acc.LastClaimedEpoch)
		}
	}

	settlement, ok := h.engine.Settlement(1)
	if !ok {
		t.Fatalf("settlement for epoch 1 missing")
	}
	if settlement.Distributed.Uint64() != 999 || settlement.Dust.Uint64() != 1 || settlement.TotalStaked != 19 {
		t.Fatalf("unexpected settlement %+v", settlement)
	}
}

func TestCloseEpochGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.advance(epochLength)
	if _, err := h.engine.CloseEpoch(ctx, alice, h.now); !errors.Is(err, stakeerrors.ErrNotAdmin) {
		t.Fatalf("expected not admin, got %v", err)
	}
	if _, err := h.engine.CloseEpoch(ctx, admin, h.now.Add(-time.Second)); !errors.Is(err, stakeerrors.ErrEpochNotFinishedYet) {
		t.Fatalf("expected epoch not finished, got %v", err)
	}
	h.gate.paused = true
	if _, err := h.engine.CloseEpoch(ctx, admin, h.now); !errors.Is(err, stakeerrors.ErrStakingPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	h.gate.paused = false
	if h.engine.CurrentEpoch() != 1 || h.engine.Pool().Uint64() != 1000 {
		t.Fatalf("rejected closes must not change state")
	}
	if _, err := h.engine.CloseEpoch(ctx, admin, h.now); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.engine.CloseEpoch(ctx, admin, h.now); !errors.Is(err, stakeerrors.ErrEpochNotFinishedYet) {
		t.Fatalf("expected the new epoch to start at the close time, got %v", err)
	}
}

func TestPoolDecaysUntilEmpty(t *testing.T) {
	h := newHarness(t, withPool(1000), withDecay(10))
	h.lock(alice, 1)
	prev := h.engine.Pool().Uint64()
	closes := 0
	for {
		h.advance(epochLength)
		_, err := h.engine.CloseEpoch(context.Background(), admin, h.now)
		if errors.Is(err, stakeerrors.ErrNoRewardsInPool) {
			break
		}
		if err != nil {
			t.Fatalf("close %d: %v", closes, err)
		}
		closes++
		next := h.engine.Pool().Uint64()
		want := prev * 90 / 100
		if next != want {
			t.Fatalf("close %d: pool %d, want %d", closes, next, want)
		}
		if next >= prev {
			t.Fatalf("pool must strictly decrease: %d -> %d", prev, next)
		}
		prev = next
		if closes > 200 {
			t.Fatalf("pool did not empty in bounded time")
		}
	}
	if !h.engine.Pool().IsZero() {
		t.Fatalf("expected empty pool, got %s", h.engine.Pool().Dec())
	}
}

func TestZeroStakeEpochOnlyDecays(t *testing.T) {
	h := newHarness(t)
	h.lock(alice, 1)
	h.closeEpoch()
	before := h.engine.AccumulatorAt(1)

	h.unlock(alice, 1)
	if h.engine.TotalStaked() != 0 {
		t.Fatalf("expected nothing staked")
	}
	h.closeEpoch()
	if !h.engine.AccumulatorAt(2).Eq(before) {
		t.Fatalf("no accumulator delta may be recorded for an empty epoch")
	}
	if h.engine.Pool().Uint64() != 810 {
		t.Fatalf("pool must still decay, got %s", h.engine.Pool().Dec())
	}
	settlement, ok := h.engine.Settlement(2)
	if !ok || !settlement.RewardPerUnit.IsZero() || settlement.Dust.Uint64() != 900 {
		t.Fatalf("unexpected settlement %+v", settlement)
	}
	if got := h.claim(alice); got != 1000 {
		t.Fatalf("expected only epoch 1 rewards, got %d", got)
	}
}

func TestZeroStakeParticipantEarnsNothing(t *testing.T) {
	h := newHarness(t)
	h.lock(alice, 1)
	h.lock(bob, 2)
	h.closeEpoch()
	h.unlock(bob, 2)
	h.closeEpoch()
	h.closeEpoch()
	if got := h.claim(bob); got != 500 {
		t.Fatalf("bob must only earn epoch 1, got %d", got)
	}
	if got := h.claim(alice); got != 500+900+810 {
		t.Fatalf("alice must earn every epoch, got %d", got)
	}
}

func TestDoubleClaimFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.engine.Claim(ctx, alice, h.now); !errors.Is(err, stakeerrors.ErrNoRewardsToClaim) {
		t.Fatalf("expected unknown participant to have nothing, got %v", err)
	}
	h.lock(alice, 1)
	if _, err := h.engine.Claim(ctx, alice, h.now); !errors.Is(err, stakeerrors.ErrNoRewardsToClaim) {
		t.Fatalf("expected nothing before the first close, got %v", err)
	}
	h.closeEpoch()
	h.claim(alice)
	applied := len(h.store.applied)
	if _, err := h.engine.Claim(ctx, alice, h.now); !errors.Is(err, stakeerrors.ErrNoRewardsToClaim) {
		t.Fatalf("expected second claim to fail, got %v", err)
	}
	if len(h.store.applied) != applied {
		t.Fatalf("failed claim must not persist anything")
	}
	if acc := h.engine.Account(alice); acc.LastClaimedEpoch >= h.engine.CurrentEpoch() {
		t.Fatalf("last claimed epoch %d must stay below current %d", acc.LastClaimedEpoch, h.engine.CurrentEpoch())
	}
}

func TestSteadyStakeMatchesAccumulatorDeltas(t *testing.T) {
	h := newHarness(t, withPool(1_000_003), withDecay(7))
	h.lock(alice, tokenRange(1, 3)...)
	h.lock(bob, tokenRange(10, 8)...)
	const epochs = 12
	for i := 0; i < epochs; i++ {
		h.closeEpoch()
	}
	scaled := new(uint256.Int)
	for _, settlement := range h.engine.Settlements() {
		scaled.Add(scaled, new(uint256.Int).Mul(settlement.RewardPerUnit, uint256.NewInt(3)))
	}
	want := new(uint256.Int).Div(scaled, uint256.NewInt(1_000_000_000_000_000_000))
	if got := h.claim(alice); got != want.Uint64() {
		t.Fatalf("claim %d differs from recomputation %s", got, want.Dec())
	}
}

func TestUnlockRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lock(alice, 1)

	h.advance(epochLength - time.Second)
	if err := h.engine.Unlock(ctx, alice, 1, h.now); !errors.Is(err, stakeerrors.ErrEpochDidNotPassYet) {
		t.Fatalf("expected early unlock to fail, got %v", err)
	}
	if err := h.engine.Unlock(ctx, bob, 1, h.now); !errors.Is(err, stakeerrors.ErrEpochDidNotPassYet) {
		t.Fatalf("expected early unlock by another caller to report the lock period, got %v", err)
	}
	h.advance(time.Second)
	if err := h.engine.Unlock(ctx, bob, 1, h.now); !errors.Is(err, stakeerrors.ErrNotOwner) {
		t.Fatalf("expected non-owner unlock to fail, got %v", err)
	}
	if err := h.engine.Unlock(ctx, alice, 99, h.now); !errors.Is(err, stakeerrors.ErrNotOwner) {
		t.Fatalf("expected unknown token unlock to fail, got %v", err)
	}
	h.unlock(alice, 1)
	if h.licenses.owners[1] != alice {
		t.Fatalf("license must return to its owner")
	}
	if h.engine.Position(1) != nil || h.engine.TotalStaked() != 0 {
		t.Fatalf("position must be released")
	}
	evts := h.recorder.Events()
	if len(evts) != 2 || evts[1].EventType() != events.TypeLicenseUnlocked {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestLockChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.licenses.mint(alice, 1)

	if err := h.engine.Lock(ctx, bob, 1, h.now); !errors.Is(err, stakeerrors.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	delete(h.licenses.approvals, 1)
	if err := h.engine.Lock(ctx, alice, 1, h.now); !errors.Is(err, stakeerrors.ErrNotApproved) {
		t.Fatalf("expected not approved, got %v", err)
	}
	h.licenses.approvals[1] = custody
	h.gate.paused = true
	if err := h.engine.Lock(ctx, alice, 1, h.now); !errors.Is(err, stakeerrors.ErrStakingPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	h.gate.paused = false
	if err := h.engine.Lock(ctx, alice, 1, h.now); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if h.licenses.owners[1] != custody {
		t.Fatalf("engine must hold custody")
	}
	if err := h.engine.Lock(ctx, alice, 1, h.now); !errors.Is(err, stakeerrors.ErrAlreadyLocked) {
		t.Fatalf("expected already locked, got %v", err)
	}
	evts := h.recorder.Events()
	if len(evts) != 1 {
		t.Fatalf("expected one event, got %d", len(evts))
	}
	locked, ok := evts[0].(events.LicenseLocked)
	if !ok || locked.Participant != alice || locked.TokenID != 1 {
		t.Fatalf("unexpected event %+v", evts[0])
	}
}

func TestTotalMatchesSumOfStakes(t *testing.T) {
	h := newHarness(t, withPool(1_000_000), withDecay(1))
	rng := rand.New(rand.NewSource(7))
	participants := []common.Address{alice, bob, carol}
	held := make(map[uint64]common.Address)
	lockedAt := make(map[uint64]time.Time)
	next := uint64(1)
	for step := 0; step < 400; step++ {
		who := participants[rng.Intn(len(participants))]
		switch rng.Intn(4) {
		case 0, 1:
			h.lock(who, next)
			held[next] = who
			lockedAt[next] = h.now
			next++
		case 2:
			for id, owner := range held {
				if !h.now.Before(lockedAt[id].Add(epochLength)) {
					h.unlock(owner, id)
					delete(held, id)
					break
				}
			}
		default:
			h.advance(time.Duration(rng.Intn(90)) * time.Minute)
			if h.engine.Clock().HasElapsed(h.now) {
				if _, err := h.engine.CloseEpoch(context.Background(), admin, h.now); err != nil {
					t.Fatalf("close: %v", err)
				}
			}
		}
		var sum uint64
		for _, p := range participants {
			if acc := h.engine.Account(p); acc != nil {
				sum += acc.Staked
			}
		}
		if sum != h.engine.TotalStaked() || sum != h.engine.TotalStakedAt(h.engine.CurrentEpoch()) {
			t.Fatalf("step %d: stakes sum to %d, total %d", step, sum, h.engine.TotalStaked())
		}
	}
	if err := h.engine.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestMultipleUpdatesWithinEpochUseEndOfEpochStake(t *testing.T) {
	h := newHarness(t)
	h.lock(alice, 1)
	h.lock(bob, 2)
	h.closeEpoch()

	// Epoch 2: alice goes 1 -> 3 -> 2 units, bob stays at 1.
	h.lock(alice, 3, 4)
	h.unlock(alice, 1)
	if h.engine.StakeAt(alice, 2) != 2 {
		t.Fatalf("expected end-of-epoch stake 2, got %d", h.engine.StakeAt(alice, 2))
	}
	h.closeEpoch()

	// Epoch 1: 1000 split 1:1. Epoch 2: 900 split 2:1.
	if got := h.claim(alice); got != 500+600 {
		t.Fatalf("alice: got %d want 1100", got)
	}
	if got := h.claim(bob); got != 500+300 {
		t.Fatalf("bob: got %d want 800", got)
	}
}

func TestPayoutFailureReverts(t *testing.T) {
	h := newHarness(t)
	h.lock(alice, 1)
	h.closeEpoch()
	h.rewards.failPayout = true
	applied := len(h.store.applied)
	if _, err := h.engine.Claim(context.Background(), alice, h.now); !errors.Is(err, errInjected) {
		t.Fatalf("expected payout failure, got %v", err)
	}
	if acc := h.engine.Account(alice); acc.LastClaimedEpoch != 0 {
		t.Fatalf("claim must be rolled back, last claimed %d", acc.LastClaimedEpoch)
	}
	if len(h.store.applied) != applied+2 {
		t.Fatalf("expected commit and rollback to be persisted, got %d writes", len(h.store.applied)-applied)
	}
	if rolled := h.store.last(); len(rolled.Accounts) != 1 || rolled.Accounts[0].LastClaimedEpoch != 0 {
		t.Fatalf("rollback must persist the original account")
	}
	h.rewards.failPayout = false
	if got := h.claim(alice); got != 1000 {
		t.Fatalf("retry must pay the full reward, got %d", got)
	}
}

func TestCustodyFailureReverts(t *testing.T) {
	h := newHarness(t)
	h.licenses.mint(alice, 1)
	h.licenses.failTransfer = true
	if err := h.engine.Lock(context.Background(), alice, 1, h.now); !errors.Is(err, errInjected) {
		t.Fatalf("expected custody failure, got %v", err)
	}
	if h.engine.Position(1) != nil || h.engine.Account(alice) != nil || h.engine.TotalStaked() != 0 {
		t.Fatalf("failed lock must leave no trace")
	}
	rolled := h.store.last()
	if len(rolled.DeletedAccounts) != 1 || len(rolled.DeletedPositions) != 1 || len(rolled.DeletedTotals) != 1 || len(rolled.DeletedAccountHistory) != 1 {
		t.Fatalf("rollback must delete the persisted records: %+v", rolled)
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("failed lock must not emit")
	}
}

func TestStoreFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.licenses.mint(alice, 1)
	h.store.fail = true
	if err := h.engine.Lock(context.Background(), alice, 1, h.now); !errors.Is(err, errInjected) {
		t.Fatalf("expected store failure, got %v", err)
	}
	if h.licenses.owners[1] != alice {
		t.Fatalf("custody must not move when persistence fails")
	}
	if h.engine.TotalStaked() != 0 {
		t.Fatalf("failed lock must be rolled back")
	}
}

func TestReentrantCallRejected(t *testing.T) {
	h := newHarness(t)
	h.licenses.mint(alice, 1, 2)
	var reentrant error
	h.licenses.onTransfer = func() {
		h.licenses.onTransfer = nil
		reentrant = h.engine.Lock(context.Background(), alice, 2, h.now)
	}
	h.lock(alice, 1)
	if !errors.Is(reentrant, stakeerrors.ErrReentrantCall) {
		t.Fatalf("expected reentrant lock to fail, got %v", reentrant)
	}
	if h.engine.Position(2) != nil {
		t.Fatalf("reentrant lock must not apply")
	}

	h.closeEpoch()
	var reclaim error
	h.rewards.onPayout = func() {
		h.rewards.onPayout = nil
		_, reclaim = h.engine.Claim(context.Background(), alice, h.now)
	}
	if got := h.claim(alice); got != 1000 {
		t.Fatalf("unexpected claim %d", got)
	}
	if !errors.Is(reclaim, stakeerrors.ErrReentrantCall) {
		t.Fatalf("expected reentrant claim to fail, got %v", reclaim)
	}
}

func TestClaimWindowSettlesInSteps(t *testing.T) {
	h := newHarness(t, withClaimWindow(1))
	h.lock(alice, 1)
	h.lock(bob, 2)
	h.closeEpoch()
	h.lock(alice, 3)
	h.closeEpoch()

	first := h.claim(alice)
	if first != 500 {
		t.Fatalf("first claim must settle epoch 1 only, got %d", first)
	}
	if acc := h.engine.Account(alice); acc.LastClaimedEpoch != 1 {
		t.Fatalf("expected last claimed epoch 1, got %d", acc.LastClaimedEpoch)
	}
	if second := h.claim(alice); second != 600 {
		t.Fatalf("second claim must settle epoch 2, got %d", second)
	}
}

func TestBoundedDriftOverLongSequences(t *testing.T) {
	h := newHarness(t, withPool(999_983), withDecay(3))
	h.lock(alice, tokenRange(1, 3)...)
	h.lock(bob, tokenRange(10, 5)...)
	h.lock(carol, tokenRange(20, 11)...)
	const epochs = 60
	emitted := new(uint256.Int)
	for i := 0; i < epochs; i++ {
		emitted.Add(emitted, h.engine.Pool())
		h.closeEpoch()
	}
	paid := h.claim(alice) + h.claim(bob) + h.claim(carol)
	if paid > emitted.Uint64() {
		t.Fatalf("paid %d exceeds emitted %s", paid, emitted.Dec())
	}
	// Settlements lose a fraction of a token each and every claim truncates
	// once.
	if drift := emitted.Uint64() - paid; drift > epochs+3 {
		t.Fatalf("drift %d exceeds bound", drift)
	}
}

func TestRestoreFromSnapshot(t *testing.T) {
	h := newHarness(t)
	h.lock(alice, 1, 2)
	h.lock(bob, 3)
	h.closeEpoch()
	h.claim(bob)

	restored, err := Restore(h.engine.Params(), Dependencies{
		Licenses: h.licenses,
		Rewards:  h.rewards,
		Gate:     h.gate,
	}, h.engine.Snapshot())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.CurrentEpoch() != 2 || restored.Pool().Uint64() != 900 || restored.TotalStaked() != 3 {
		t.Fatalf("unexpected restored state epoch=%d pool=%s total=%d", restored.CurrentEpoch(), restored.Pool().Dec(), restored.TotalStaked())
	}
	pending, err := restored.PendingReward(alice)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending.Amount.Uint64() != 666 {
		t.Fatalf("unexpected pending reward %s", pending.Amount.Dec())
	}
	bobPending, err := restored.PendingReward(bob)
	if err != nil || !bobPending.Amount.IsZero() {
		t.Fatalf("bob already claimed, got %v %v", bobPending.Amount, err)
	}

	changed := h.engine.Params()
	changed.Epoch.DecayRatePercent = 50
	again, err := Restore(changed, Dependencies{Licenses: h.licenses, Rewards: h.rewards, Gate: h.gate}, h.engine.Snapshot())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if again.Params().Epoch.DecayRatePercent != 10 {
		t.Fatalf("stored decay rate must win over configuration")
	}
}

func TestHistoryEvictionIsPersisted(t *testing.T) {
	h := newHarness(t)
	h.engine.params.Rewards = rewards.Config{HistoryLength: 2}
	h.engine.history = rewards.NewHistory(2)
	for i := 0; i < 3; i++ {
		h.closeEpoch()
	}
	last := h.store.last()
	if len(last.DeletedSettlements) != 1 || last.DeletedSettlements[0] != 1 {
		t.Fatalf("expected epoch 1 settlement to be evicted, got %+v", last.DeletedSettlements)
	}
	if len(h.engine.Settlements()) != 2 {
		t.Fatalf("expected 2 retained settlements")
	}
}

type discardStore struct{}

func (discardStore) Apply(*Changeset) error { return nil }

// runToggledEpochs closes epochs while alice alternates between locking and
// unlocking token 1, so both her checkpoint log and the total log gain one
// entry per epoch. It ends with the token unlocked.
func runToggledEpochs(t *testing.T, epochs int) *harness {
	t.Helper()
	h := newHarness(t, withPool(1_000_000), withDecay(0))
	h.engine.store = discardStore{}
	h.engine.emitter = events.NoopEmitter{}
	h.engine.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	locked := false
	for i := 0; i < epochs; i++ {
		if locked {
			h.unlock(alice, 1)
		} else {
			h.lock(alice, 1)
		}
		locked = !locked
		h.closeEpoch()
	}
	if locked {
		h.unlock(alice, 1)
	}
	return h
}

// lockBytes returns the fewest bytes allocated by a single Lock from a
// new participant over rounds attempts.
func lockBytes(t *testing.T, h *harness, rounds int) uint64 {
	t.Helper()
	best := uint64(math.MaxUint64)
	for i := 0; i < rounds; i++ {
		participant := common.BigToAddress(new(big.Int).SetUint64(0x5000 + uint64(i)))
		id := uint64(10_000 + i)
		h.licenses.mint(participant, id)
		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		err := h.engine.Lock(context.Background(), participant, id, h.now)
		runtime.ReadMemStats(&after)
		if err != nil {
			t.Fatalf("lock %d: %v", id, err)
		}
		if n := after.TotalAlloc - before.TotalAlloc; n < best {
			best = n
		}
	}
	return best
}

func TestLockCostIndependentOfEpochCount(t *testing.T) {
	short := runToggledEpochs(t, 10)
	long := runToggledEpochs(t, 1000)
	if long.engine.CurrentEpoch() != 1001 || len(long.engine.ledger.TotalHistory()) < 1000 {
		t.Fatalf("expected a long checkpoint log, epoch %d", long.engine.CurrentEpoch())
	}

	shortBytes := lockBytes(t, short, 8)
	longBytes := lockBytes(t, long, 8)
	t.Logf("lock allocates %d bytes after 10 epochs, %d after 1000", shortBytes, longBytes)
	if longBytes > shortBytes+1024 {
		t.Fatalf("lock cost grows with epoch count: %d bytes after 10 epochs, %d after 1000", shortBytes, longBytes)
	}
}

func TestUnlockRollbackRestoresCheckpointTail(t *testing.T) {
	h := newHarness(t)
	h.lock(alice, 1, 2)
	h.closeEpoch()
	h.lock(alice, 3)
	h.licenses.failTransfer = true
	if err := h.engine.Unlock(context.Background(), alice, 1, h.now); !errors.Is(err, errInjected) {
		t.Fatalf("expected custody failure, got %v", err)
	}
	acc := h.engine.Account(alice)
	want := []types.Checkpoint{{Epoch: 1, Units: 2}, {Epoch: 2, Units: 3}}
	if acc.Staked != 3 || len(acc.History) != 2 || acc.History[0] != want[0] || acc.History[1] != want[1] {
		t.Fatalf("overwritten checkpoint must be restored, got %+v", acc)
	}
	if h.engine.TotalStakedAt(2) != 3 || h.engine.TotalStakedAt(1) != 2 {
		t.Fatalf("total log must be restored")
	}
	rolled := h.store.last()
	if len(rolled.AccountHistory) != 1 || rolled.AccountHistory[0].Units != 3 || rolled.AccountHistory[0].Epoch != 2 {
		t.Fatalf("rollback must persist the restored checkpoint: %+v", rolled.AccountHistory)
	}
	if len(rolled.Accounts) != 1 || rolled.Accounts[0].History != nil {
		t.Fatalf("persisted accounts must not carry their log: %+v", rolled.Accounts)
	}
}

func TestRollbackPersistFailureIsSurfaced(t *testing.T) {
	h := newHarness(t)
	h.lock(alice, 1)
	h.closeEpoch()
	h.rewards.failPayout = true
	h.rewards.onPayout = func() { h.store.fail = true }

	_, err := h.engine.Claim(context.Background(), alice, h.now)
	if !errors.Is(err, stakeerrors.ErrStateDiverged) || !errors.Is(err, errInjected) {
		t.Fatalf("expected diverged state wrapping the payout failure, got %v", err)
	}
	if acc := h.engine.Account(alice); acc.LastClaimedEpoch != 0 {
		t.Fatalf("in-memory state must still be rolled back, last claimed %d", acc.LastClaimedEpoch)
	}
	if err := h.engine.Health(); !errors.Is(err, stakeerrors.ErrStateDiverged) {
		t.Fatalf("engine must report itself unhealthy, got %v", err)
	}

	h.store.fail = false
	h.rewards.failPayout = false
	h.licenses.mint(bob, 2)
	if err := h.engine.Lock(context.Background(), bob, 2, h.now); !errors.Is(err, stakeerrors.ErrStateDiverged) {
		t.Fatalf("mutations must be refused after divergence, got %v", err)
	}
	if _, err := h.engine.Claim(context.Background(), alice, h.now); !errors.Is(err, stakeerrors.ErrStateDiverged) {
		t.Fatalf("claims must be refused after divergence, got %v", err)
	}
	if pending, err := h.engine.PendingReward(alice); err != nil || pending.Amount.Uint64() != 1000 {
		t.Fatalf("reads keep working, got %v %v", pending, err)
	}
}
