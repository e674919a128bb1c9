package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"licensestake/core/epoch"
	"licensestake/core/events"
	"licensestake/core/rewards"
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000c0575")
	admin   = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000ca201")

	genesis = time.Unix(1_700_000_000, 0)
)

const epochLength = time.Hour

var errInjected = errors.New("injected failure")

type fakeLicenses struct {
	owners       map[uint64]common.Address
	approvals    map[uint64]common.Address
	failTransfer bool
	onTransfer   func()
}

func newFakeLicenses() *fakeLicenses {
	return &fakeLicenses{owners: make(map[uint64]common.Address), approvals: make(map[uint64]common.Address)}
}

func (f *fakeLicenses) mint(owner common.Address, ids ...uint64) {
	for _, id := range ids {
		f.owners[id] = owner
		f.approvals[id] = custody
	}
}

func (f *fakeLicenses) OwnerOf(_ context.Context, tokenID uint64) (common.Address, error) {
	owner, ok := f.owners[tokenID]
	if !ok {
		return common.Address{}, errors.New("unknown token")
	}
	return owner, nil
}

func (f *fakeLicenses) IsApprovedForTransfer(_ context.Context, tokenID uint64, operator common.Address) (bool, error) {
	return f.approvals[tokenID] == operator, nil
}

func (f *fakeLicenses) TransferCustody(_ context.Context, from, to common.Address, tokenID uint64) error {
	if f.onTransfer != nil {
		f.onTransfer()
	}
	if f.failTransfer {
		return errInjected
	}
	if f.owners[tokenID] != from {
		return errors.New("transfer from non-owner")
	}
	f.owners[tokenID] = to
	delete(f.approvals, tokenID)
	return nil
}

type fakeRewards struct {
	balances   map[common.Address]*uint256.Int
	failPayout bool
	onPayout   func()
}

func newFakeRewards(funded uint64) *fakeRewards {
	return &fakeRewards{balances: map[common.Address]*uint256.Int{custody: uint256.NewInt(funded)}}
}

func (f *fakeRewards) balance(addr common.Address) uint64 {
	if v, ok := f.balances[addr]; ok {
		return v.Uint64()
	}
	return 0
}

func (f *fakeRewards) PayOut(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	if f.onPayout != nil {
		f.onPayout()
	}
	if f.failPayout {
		return errInjected
	}
	src := f.balances[from]
	if src == nil || src.Lt(amount) {
		return errors.New("insufficient balance")
	}
	src.Sub(src, amount)
	dst := f.balances[to]
	if dst == nil {
		dst = new(uint256.Int)
		f.balances[to] = dst
	}
	dst.Add(dst, amount)
	return nil
}

func (f *fakeRewards) BalanceOf(_ context.Context, addr common.Address) (*uint256.Int, error) {
	if v, ok := f.balances[addr]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return new(uint256.Int), nil
}

type fakeGate struct {
	admin  common.Address
	paused bool
}

func (g *fakeGate) IsAdmin(_ context.Context, principal common.Address) bool {
	return principal == g.admin
}

func (g *fakeGate) IsPaused(context.Context) bool { return g.paused }

type recordingStore struct {
	applied []*Changeset
	fail    bool
}

func (s *recordingStore) Apply(cs *Changeset) error {
	if s.fail {
		return errInjected
	}
	s.applied = append(s.applied, cs)
	return nil
}

func (s *recordingStore) last() *Changeset {
	if len(s.applied) == 0 {
		return nil
	}
	return s.applied[len(s.applied)-1]
}

type harness struct {
	t        *testing.T
	engine   *Engine
	licenses *fakeLicenses
	rewards  *fakeRewards
	gate     *fakeGate
	store    *recordingStore
	recorder *events.Recorder
	now      time.Time
}

type harnessOption func(*Params)

func withPool(pool uint64) harnessOption {
	return func(p *Params) { p.InitialPool = uint256.NewInt(pool) }
}

func withDecay(rate uint8) harnessOption {
	return func(p *Params) { p.Epoch.DecayRatePercent = rate }
}

func withClaimWindow(window uint64) harnessOption {
	return func(p *Params) { p.Rewards.ClaimWindow = window }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	params := Params{
		Address:     custody,
		Epoch:       epoch.Config{Duration: epochLength, DecayRatePercent: 10},
		Rewards:     rewards.Config{HistoryLength: 16},
		InitialPool: uint256.NewInt(1000),
		Start:       genesis,
	}
	for _, opt := range opts {
		opt(&params)
	}
	h := &harness{
		t:        t,
		licenses: newFakeLicenses(),
		rewards:  newFakeRewards(1_000_000_000),
		gate:     &fakeGate{admin: admin},
		store:    &recordingStore{},
		recorder: events.NewRecorder(0),
		now:      genesis,
	}
	engine, err := New(params, Dependencies{
		Licenses: h.licenses,
		Rewards:  h.rewards,
		Gate:     h.gate,
		Store:    h.store,
		Emitter:  h.recorder,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine
	return h
}

func (h *harness) lock(participant common.Address, ids ...uint64) {
	h.t.Helper()
	h.licenses.mint(participant, ids...)
	for _, id := range ids {
		if err := h.engine.Lock(context.Background(), participant, id, h.now); err != nil {
			h.t.Fatalf("lock %d: %v", id, err)
		}
	}
}

func (h *harness) unlock(participant common.Address, ids ...uint64) {
	h.t.Helper()
	for _, id := range ids {
		if err := h.engine.Unlock(context.Background(), participant, id, h.now); err != nil {
			h.t.Fatalf("unlock %d: %v", id, err)
		}
	}
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

// closeEpoch advances the clock past the open epoch and closes it.
func (h *harness) closeEpoch() {
	h.t.Helper()
	h.advance(epochLength)
	if _, err := h.engine.CloseEpoch(context.Background(), admin, h.now); err != nil {
		h.t.Fatalf("close epoch: %v", err)
	}
}

func (h *harness) claim(participant common.Address) uint64 {
	h.t.Helper()
	amount, err := h.engine.Claim(context.Background(), participant, h.now)
	if err != nil {
		h.t.Fatalf("claim for %s: %v", participant.Hex(), err)
	}
	return amount.Uint64()
}

func tokenRange(start, count uint64) []uint64 {
	ids := make([]uint64, count)
	for i := range ids {
		ids[i] = start + uint64(i)
	}
	return ids
}
