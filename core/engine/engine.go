// Package engine coordinates license custody, the staking ledger and the
// reward accumulator. Every operation journals the state it touches, persists
// it, and only then calls out to the license or reward asset. A failed call
// rolls the journal back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"licensestake/core/epoch"
	stakeerrors "licensestake/core/errors"
	"licensestake/core/events"
	"licensestake/core/fixedpoint"
	"licensestake/core/ledger"
	"licensestake/core/rewards"
	"licensestake/core/types"
	"licensestake/observability/metrics"
)

// Dependencies are the collaborators an engine calls into.
type Dependencies struct {
	Licenses LicenseAsset
	Rewards  RewardAsset
	Gate     AdminGate
	// Store is optional. Without it the engine keeps state in memory only.
	Store   Store
	Emitter events.Emitter
	Logger  *slog.Logger
}

// Engine is the license staking engine. It is not safe for concurrent use;
// callers serialise access.
type Engine struct {
	params   Params
	licenses LicenseAsset
	rewards  RewardAsset
	gate     AdminGate
	store    Store
	emitter  events.Emitter
	logger   *slog.Logger

	telemetry *metrics.StakingMetrics

	ledger  *ledger.Ledger
	acc     *rewards.Accumulator
	history *rewards.History
	clock   epoch.Clock
	pool    *uint256.Int

	journal  journal
	busy     bool
	diverged error
}

// New constructs an engine with empty state and persists its metadata.
func New(params Params, deps Dependencies) (*Engine, error) {
	e, err := newEngine(params, deps)
	if err != nil {
		return nil, err
	}
	start := params.Start
	if start.IsZero() {
		start = time.Now()
	}
	e.clock = epoch.NewClock(params.Epoch, start)
	e.pool = fixedpoint.Copy(params.InitialPool)
	e.ledger = ledger.New()
	e.acc = rewards.NewAccumulator()
	e.history = rewards.NewHistory(params.Rewards.HistoryLength)
	if e.store != nil {
		meta := e.meta()
		if err := e.store.Apply(&Changeset{Meta: &meta}); err != nil {
			return nil, fmt.Errorf("engine: persist initial state: %w", err)
		}
	}
	e.observeState()
	return e, nil
}

// Restore rebuilds an engine from a persisted snapshot. Epoch duration and
// decay rate are taken from the snapshot. A snapshot without metadata yields
// a fresh engine.
func Restore(params Params, deps Dependencies, snap *Snapshot) (*Engine, error) {
	if snap == nil || snap.Meta == nil {
		return New(params, deps)
	}
	meta := snap.Meta.Clone()
	if meta.EpochDuration != params.Epoch.DurationSeconds() || meta.DecayRatePercent != params.Epoch.DecayRatePercent {
		logger := deps.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("stored epoch parameters differ from configuration, keeping stored values",
			"stored_duration", meta.EpochDuration,
			"stored_decay", meta.DecayRatePercent,
			"configured_duration", params.Epoch.DurationSeconds(),
			"configured_decay", params.Epoch.DecayRatePercent)
	}
	params.Epoch.Duration = time.Duration(meta.EpochDuration) * time.Second
	params.Epoch.DecayRatePercent = meta.DecayRatePercent
	e, err := newEngine(params, deps)
	if err != nil {
		return nil, err
	}
	book, err := ledger.Load(snap.Accounts, snap.Positions, snap.Totals)
	if err != nil {
		return nil, fmt.Errorf("engine: restore ledger: %w", err)
	}
	acc, err := rewards.LoadAccumulator(snap.Accumulator)
	if err != nil {
		return nil, fmt.Errorf("engine: restore accumulator: %w", err)
	}
	e.ledger = book
	e.acc = acc
	e.history = rewards.LoadHistory(params.Rewards.HistoryLength, snap.Settlements)
	e.clock = epoch.Clock{Index: meta.Epoch, StartedAt: meta.EpochStartedAt, Duration: meta.EpochDuration}
	e.pool = fixedpoint.Copy(meta.Pool)
	e.observeState()
	return e, nil
}

func newEngine(params Params, deps Dependencies) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if deps.Licenses == nil || deps.Rewards == nil || deps.Gate == nil {
		return nil, stakeerrors.ErrNilCollaborator
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		params:    params,
		licenses:  deps.Licenses,
		rewards:   deps.Rewards,
		gate:      deps.Gate,
		store:     deps.Store,
		emitter:   emitter,
		logger:    logger.With("component", "engine"),
		telemetry: metrics.Staking(),
	}, nil
}

// Lock takes custody of tokenID from participant and stakes one unit in the
// open epoch.
func (e *Engine) Lock(ctx context.Context, participant common.Address, tokenID uint64, now time.Time) (err error) {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer func() { e.telemetry.ObserveOperation("lock", err) }()

	if e.gate.IsPaused(ctx) {
		return stakeerrors.ErrStakingPaused
	}
	if participant == (common.Address{}) {
		return stakeerrors.ErrZeroParticipant
	}
	if e.ledger.Position(tokenID) != nil {
		return fmt.Errorf("%w: token %d", stakeerrors.ErrAlreadyLocked, tokenID)
	}
	owner, err := e.licenses.OwnerOf(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("engine: owner of token %d: %w", tokenID, err)
	}
	if owner != participant {
		return fmt.Errorf("%w: token %d", stakeerrors.ErrNotOwner, tokenID)
	}
	approved, err := e.licenses.IsApprovedForTransfer(ctx, tokenID, e.params.Address)
	if err != nil {
		return fmt.Errorf("engine: approval of token %d: %w", tokenID, err)
	}
	if !approved {
		return fmt.Errorf("%w: token %d", stakeerrors.ErrNotApproved, tokenID)
	}

	current := e.clock.Index
	lockedAt := epoch.Unix(now)
	err = e.apply("lock", func() error {
		e.touchStake(participant, current)
		e.touchPosition(tokenID)
		e.touchTotals(current)
		return e.ledger.RecordLock(participant, tokenID, lockedAt, current)
	}, func() error {
		if err := e.licenses.TransferCustody(ctx, participant, e.params.Address, tokenID); err != nil {
			return fmt.Errorf("engine: take custody of token %d: %w", tokenID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(events.LicenseLocked{Participant: participant, TokenID: tokenID, Epoch: current, LockedAt: lockedAt})
	e.logger.Info("license locked", "participant", participant.Hex(), "token_id", tokenID, "epoch", current)
	return nil
}

// Unlock returns tokenID to participant once it has been locked for at least
// one epoch duration.
func (e *Engine) Unlock(ctx context.Context, participant common.Address, tokenID uint64, now time.Time) (err error) {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer func() { e.telemetry.ObserveOperation("unlock", err) }()

	if e.gate.IsPaused(ctx) {
		return stakeerrors.ErrStakingPaused
	}
	current := e.clock.Index
	err = e.apply("unlock", func() error {
		e.touchStake(participant, current)
		e.touchPosition(tokenID)
		e.touchTotals(current)
		return e.ledger.RecordUnlock(participant, tokenID, epoch.Unix(now), current, e.clock.Duration)
	}, func() error {
		if err := e.licenses.TransferCustody(ctx, e.params.Address, participant, tokenID); err != nil {
			return fmt.Errorf("engine: release token %d: %w", tokenID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(events.LicenseUnlocked{Participant: participant, TokenID: tokenID, Epoch: current})
	e.logger.Info("license unlocked", "participant", participant.Hex(), "token_id", tokenID, "epoch", current)
	return nil
}

// CloseEpoch folds the open epoch's pool into the accumulator, decays the
// pool and opens the next epoch. Only the administrator may close epochs.
func (e *Engine) CloseEpoch(ctx context.Context, caller common.Address, now time.Time) (settlement types.EpochSettlement, err error) {
	if err := e.enter(); err != nil {
		return types.EpochSettlement{}, err
	}
	defer e.exit()
	defer func() { e.telemetry.ObserveOperation("close_epoch", err) }()

	if !e.gate.IsAdmin(ctx, caller) {
		return types.EpochSettlement{}, stakeerrors.ErrNotAdmin
	}
	if e.gate.IsPaused(ctx) {
		return types.EpochSettlement{}, stakeerrors.ErrStakingPaused
	}
	if !e.clock.HasElapsed(now) {
		return types.EpochSettlement{}, fmt.Errorf("%w: epoch %d ends at %d", stakeerrors.ErrEpochNotFinishedYet, e.clock.Index, e.clock.EndsAt())
	}
	if e.pool.IsZero() {
		return types.EpochSettlement{}, stakeerrors.ErrNoRewardsInPool
	}

	closing := e.clock.Index
	err = e.apply("close_epoch", func() error {
		total := e.ledger.TotalAsOf(closing)
		e.touchAccumulator(closing)
		e.touchHistory(closing)
		e.touchMeta()
		delta, err := e.acc.CloseEpoch(closing, total, e.pool)
		if err != nil {
			return err
		}
		settlement, err = rewards.NewSettlement(closing, epoch.Unix(now), e.pool, total, delta)
		if err != nil {
			return err
		}
		e.history.Append(settlement)
		next, err := fixedpoint.Decay(e.pool, e.params.Epoch.DecayRatePercent)
		if err != nil {
			return fmt.Errorf("%w: %v", stakeerrors.ErrArithmeticOverflow, err)
		}
		clock, err := e.clock.Advance(now)
		if err != nil {
			return err
		}
		e.pool = next
		e.clock = clock
		return nil
	}, nil)
	if err != nil {
		return types.EpochSettlement{}, err
	}
	e.telemetry.ObserveRoundingDust(settlement.Dust)
	e.emitter.Emit(events.EpochClosed{Settlement: settlement, NextEpoch: e.clock.Index, NextPool: e.pool.Dec()})
	e.logger.Info("epoch closed",
		"epoch", closing,
		"total_staked", settlement.TotalStaked,
		"pool", settlement.Pool.Dec(),
		"dust", settlement.Dust.Dec(),
		"next_pool", e.pool.Dec())
	return settlement, nil
}

// Pending describes the rewards a claim would settle.
type Pending struct {
	Amount    *uint256.Int
	FromEpoch uint64
	ToEpoch   uint64
}

// Claim settles every closed epoch since the participant's last claim and
// pays the reward out of the engine's balance.
func (e *Engine) Claim(ctx context.Context, participant common.Address, now time.Time) (amount *uint256.Int, err error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	defer func() { e.telemetry.ObserveOperation("claim", err) }()

	if e.gate.IsPaused(ctx) {
		return nil, stakeerrors.ErrStakingPaused
	}
	quote, err := e.quote(participant)
	if err != nil {
		return nil, err
	}
	err = e.apply("claim", func() error {
		e.touchAccount(participant)
		return e.ledger.MarkClaimed(participant, quote.ToEpoch)
	}, func() error {
		if err := e.rewards.PayOut(ctx, e.params.Address, participant, quote.Amount); err != nil {
			return fmt.Errorf("engine: pay out %s to %s: %w", quote.Amount.Dec(), participant.Hex(), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.telemetry.ObserveClaim(quote.Amount, quote.ToEpoch-quote.FromEpoch)
	e.emitter.Emit(events.RewardsClaimed{
		Participant: participant,
		Recipient:   participant,
		Amount:      fixedpoint.Copy(quote.Amount),
		FromEpoch:   quote.FromEpoch,
		ToEpoch:     quote.ToEpoch,
	})
	e.logger.Info("rewards claimed",
		"participant", participant.Hex(),
		"amount", quote.Amount.Dec(),
		"from_epoch", quote.FromEpoch,
		"to_epoch", quote.ToEpoch,
		"at", epoch.Unix(now))
	return fixedpoint.Copy(quote.Amount), nil
}

// PendingReward previews what Claim would pay without changing state.
func (e *Engine) PendingReward(participant common.Address) (Pending, error) {
	quote, err := e.quote(participant)
	if err != nil {
		if errors.Is(err, stakeerrors.ErrNoRewardsToClaim) {
			return Pending{Amount: new(uint256.Int)}, nil
		}
		return Pending{}, err
	}
	return quote, nil
}

// CalculateReward returns the share of the current pool owed to
// stakedInEpoch units out of totalEpochUnits.
func (e *Engine) CalculateReward(stakedInEpoch, totalEpochUnits uint64) (*uint256.Int, error) {
	return rewards.CalculateReward(e.pool, stakedInEpoch, totalEpochUnits)
}

// quote computes the settlement for participant's unclaimed closed epochs.
func (e *Engine) quote(participant common.Address) (Pending, error) {
	acc := e.ledger.AccountSummary(participant)
	if acc == nil {
		return Pending{}, stakeerrors.ErrNoRewardsToClaim
	}
	current := e.clock.Index
	if acc.LastClaimedEpoch+1 >= current {
		return Pending{}, stakeerrors.ErrNoRewardsToClaim
	}
	from, to := acc.LastClaimedEpoch, current-1
	limit := e.params.Rewards.SegmentLimit()
	segments := e.ledger.Segments(participant, from, to, limit)
	if limit > 0 && len(segments) == limit {
		to = segments[len(segments)-1].To
	}
	amount, err := e.acc.Settle(segments)
	if err != nil {
		return Pending{}, err
	}
	if amount.IsZero() {
		return Pending{}, stakeerrors.ErrNoRewardsToClaim
	}
	return Pending{Amount: amount, FromEpoch: from, ToEpoch: to}, nil
}

// apply runs effects under the journal, persists the touched records and
// then runs interact. Any failure restores the previous state.
func (e *Engine) apply(op string, effects func() error, interact func() error) error {
	e.journal.reset()
	defer e.journal.reset()
	if err := effects(); err != nil {
		e.journal.revert(e)
		return err
	}
	if err := e.persist(); err != nil {
		e.journal.revert(e)
		return fmt.Errorf("engine: persist %s: %w", op, err)
	}
	if interact != nil {
		if err := interact(); err != nil {
			e.journal.revert(e)
			if perr := e.persist(); perr != nil {
				e.diverged = fmt.Errorf("%s rollback: %w", op, perr)
				e.logger.Error("failed to persist rollback, refusing further operations", "op", op, "error", err, "persist_error", perr)
				return fmt.Errorf("%w: %s failed: %w; rollback not persisted: %w", stakeerrors.ErrStateDiverged, op, err, perr)
			}
			return err
		}
	}
	e.observeState()
	return nil
}

func (e *Engine) persist() error {
	if e.store == nil {
		return nil
	}
	cs := e.changeset(e.journal.dirties())
	if cs.Empty() {
		return nil
	}
	return e.store.Apply(cs)
}

func (e *Engine) enter() error {
	if e.busy {
		return stakeerrors.ErrReentrantCall
	}
	if e.diverged != nil {
		return fmt.Errorf("%w: %v", stakeerrors.ErrStateDiverged, e.diverged)
	}
	e.busy = true
	return nil
}

func (e *Engine) exit() {
	e.busy = false
}

func (e *Engine) meta() types.EngineMeta {
	return types.EngineMeta{
		Epoch:            e.clock.Index,
		EpochStartedAt:   e.clock.StartedAt,
		EpochDuration:    e.clock.Duration,
		DecayRatePercent: e.params.Epoch.DecayRatePercent,
		Pool:             fixedpoint.Copy(e.pool),
	}
}

func (e *Engine) observeState() {
	e.telemetry.SetState(e.clock.Index, e.pool, e.ledger.Total(), e.ledger.PositionCount())
}
