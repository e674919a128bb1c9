// Package ledger records which licenses are locked, by whom, and how many
// units every participant and the system as a whole held at the end of each
// epoch. All history is kept as append-only checkpoint logs so that any past
// epoch can be answered without replaying operations.
package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	stakeerrors "licensestake/core/errors"
	"licensestake/core/types"
)

// Segment is a run of epochs (From, To] during which a participant held a
// constant number of units.
type Segment struct {
	From  uint64
	To    uint64
	Units uint64
}

// Ledger is the staking book. It is not safe for concurrent use.
type Ledger struct {
	accounts  map[common.Address]*types.StakeAccount
	positions map[uint64]*types.Position
	totals    []types.Checkpoint
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts:  make(map[common.Address]*types.StakeAccount),
		positions: make(map[uint64]*types.Position),
	}
}

// Load rebuilds a ledger from persisted records and verifies that the stake
// counts agree with the total.
func Load(accounts []*types.StakeAccount, positions []*types.Position, totals []types.Checkpoint) (*Ledger, error) {
	l := New()
	for _, acc := range accounts {
		if acc == nil {
			continue
		}
		l.accounts[acc.Address] = acc.Clone()
	}
	for _, pos := range positions {
		if pos == nil {
			continue
		}
		if _, exists := l.positions[pos.TokenID]; exists {
			return nil, fmt.Errorf("ledger: duplicate position for token %d", pos.TokenID)
		}
		l.positions[pos.TokenID] = pos.Clone()
	}
	l.totals = append([]types.Checkpoint(nil), totals...)
	if err := l.Verify(); err != nil {
		return nil, err
	}
	return l, nil
}

// Total returns the number of units currently staked.
func (l *Ledger) Total() uint64 {
	if len(l.totals) == 0 {
		return 0
	}
	return l.totals[len(l.totals)-1].Units
}

// TotalAsOf returns the number of units staked at the end of epoch.
func (l *Ledger) TotalAsOf(epoch uint64) uint64 {
	return types.CheckpointAt(l.totals, epoch)
}

// TotalCheckpoint returns the global checkpoint written in exactly epoch.
func (l *Ledger) TotalCheckpoint(epoch uint64) (types.Checkpoint, bool) {
	return checkpointIn(l.totals, epoch)
}

func checkpointIn(log []types.Checkpoint, epoch uint64) (types.Checkpoint, bool) {
	idx := sort.Search(len(log), func(i int) bool { return log[i].Epoch >= epoch })
	if idx < len(log) && log[idx].Epoch == epoch {
		return log[idx], true
	}
	return types.Checkpoint{}, false
}

// TotalHistory returns a copy of the global checkpoint log.
func (l *Ledger) TotalHistory() []types.Checkpoint {
	return append([]types.Checkpoint(nil), l.totals...)
}

// StakeAsOf returns the participant's units at the end of epoch.
func (l *Ledger) StakeAsOf(participant common.Address, epoch uint64) uint64 {
	return l.accounts[participant].StakeAsOf(epoch)
}

// Account returns a copy of the participant's account or nil when the
// participant never locked a license.
func (l *Ledger) Account(participant common.Address) *types.StakeAccount {
	return l.accounts[participant].Clone()
}

// Position returns a copy of the position for tokenID or nil.
func (l *Ledger) Position(tokenID uint64) *types.Position {
	return l.positions[tokenID].Clone()
}

// PositionCount returns the number of licenses in custody.
func (l *Ledger) PositionCount() int {
	return len(l.positions)
}

// RecordLock registers tokenID as locked by participant during epoch.
// Custody checks are the caller's responsibility.
func (l *Ledger) RecordLock(participant common.Address, tokenID uint64, now uint64, epoch uint64) error {
	if participant == (common.Address{}) {
		return stakeerrors.ErrZeroParticipant
	}
	if _, exists := l.positions[tokenID]; exists {
		return fmt.Errorf("%w: token %d", stakeerrors.ErrAlreadyLocked, tokenID)
	}
	acc, ok := l.accounts[participant]
	if !ok {
		acc = &types.StakeAccount{Address: participant}
		if epoch > 0 {
			acc.LastClaimedEpoch = epoch - 1
		}
		l.accounts[participant] = acc
	}
	total := l.Total()
	if acc.Staked == ^uint64(0) || total == ^uint64(0) {
		return stakeerrors.ErrArithmeticOverflow
	}
	l.positions[tokenID] = &types.Position{TokenID: tokenID, Owner: participant, LockedAt: now}
	acc.Staked++
	acc.LastStakeUpdateEpoch = epoch
	acc.History = writeCheckpoint(acc.History, epoch, acc.Staked)
	l.totals = writeCheckpoint(l.totals, epoch, total+1)
	return nil
}

// RecordUnlock releases tokenID from participant's stake during epoch. The
// lock must have been held for at least duration seconds.
func (l *Ledger) RecordUnlock(participant common.Address, tokenID uint64, now uint64, epoch uint64, duration uint64) error {
	pos, ok := l.positions[tokenID]
	if !ok {
		return fmt.Errorf("%w: token %d", stakeerrors.ErrNotOwner, tokenID)
	}
	// The lock period is checked before ownership so an early unlock reports
	// the timing error whoever calls it.
	if now < pos.LockedAt+duration {
		return fmt.Errorf("%w: token %d unlocks at %d", stakeerrors.ErrEpochDidNotPassYet, tokenID, pos.LockedAt+duration)
	}
	if pos.Owner != participant {
		return fmt.Errorf("%w: token %d", stakeerrors.ErrNotOwner, tokenID)
	}
	acc := l.accounts[participant]
	total := l.Total()
	if acc == nil || acc.Staked == 0 || total == 0 {
		return fmt.Errorf("%w: participant %s", stakeerrors.ErrStakeUnderflow, participant.Hex())
	}
	delete(l.positions, tokenID)
	acc.Staked--
	acc.LastStakeUpdateEpoch = epoch
	acc.History = writeCheckpoint(acc.History, epoch, acc.Staked)
	l.totals = writeCheckpoint(l.totals, epoch, total-1)
	return nil
}

// MarkClaimed records epoch as the last settled epoch for participant.
func (l *Ledger) MarkClaimed(participant common.Address, epoch uint64) error {
	acc, ok := l.accounts[participant]
	if !ok {
		return fmt.Errorf("ledger: unknown participant %s", participant.Hex())
	}
	if epoch < acc.LastClaimedEpoch {
		return fmt.Errorf("ledger: claimed epoch %d precedes %d", epoch, acc.LastClaimedEpoch)
	}
	acc.LastClaimedEpoch = epoch
	return nil
}

// Segments splits epochs (from, to] into runs of constant, non-zero stake for
// participant. The cost is proportional to the number of stake changes the
// participant made inside the range. A positive limit stops after that many
// segments.
func (l *Ledger) Segments(participant common.Address, from, to uint64, limit int) []Segment {
	acc := l.accounts[participant]
	if acc == nil || to <= from {
		return nil
	}
	hist := acc.History
	start := from
	units := types.CheckpointAt(hist, from+1)
	idx := sort.Search(len(hist), func(i int) bool { return hist[i].Epoch > from+1 })
	var segments []Segment
	for ; idx < len(hist) && hist[idx].Epoch <= to; idx++ {
		end := hist[idx].Epoch - 1
		if units > 0 {
			segments = append(segments, Segment{From: start, To: end, Units: units})
			if limit > 0 && len(segments) == limit {
				return segments
			}
		}
		start = end
		units = hist[idx].Units
	}
	if units > 0 && start < to {
		segments = append(segments, Segment{From: start, To: to, Units: units})
	}
	return segments
}

// Records returns copies of every account and position, ordered by address
// and token id.
func (l *Ledger) Records() ([]*types.StakeAccount, []*types.Position) {
	accounts := make([]*types.StakeAccount, 0, len(l.accounts))
	for _, acc := range l.accounts {
		accounts = append(accounts, acc.Clone())
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i].Address[:], accounts[j].Address[:]) < 0
	})
	positions := make([]*types.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		positions = append(positions, pos.Clone())
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].TokenID < positions[j].TokenID })
	return accounts, positions
}

// SetPosition overwrites the stored position. A nil position removes it.
func (l *Ledger) SetPosition(tokenID uint64, pos *types.Position) {
	if pos == nil {
		delete(l.positions, tokenID)
		return
	}
	l.positions[tokenID] = pos.Clone()
}

// AccountSummary returns the participant's account without its checkpoint
// log, or nil when the participant never locked a license.
func (l *Ledger) AccountSummary(participant common.Address) *types.StakeAccount {
	acc := l.accounts[participant]
	if acc == nil {
		return nil
	}
	out := *acc
	out.History = nil
	return &out
}

// AccountCheckpoint returns the participant's checkpoint written in exactly
// epoch.
func (l *Ledger) AccountCheckpoint(participant common.Address, epoch uint64) (types.Checkpoint, bool) {
	acc := l.accounts[participant]
	if acc == nil {
		return types.Checkpoint{}, false
	}
	return checkpointIn(acc.History, epoch)
}

// LogMark captures the tail of a checkpoint log. A single operation either
// appends one checkpoint or overwrites the last one, so the length and the
// last entry are enough to undo it.
type LogMark struct {
	n    int
	last types.Checkpoint
}

func markLog(log []types.Checkpoint) LogMark {
	mark := LogMark{n: len(log)}
	if mark.n > 0 {
		mark.last = log[mark.n-1]
	}
	return mark
}

func resetLog(log []types.Checkpoint, mark LogMark) []types.Checkpoint {
	if mark.n < len(log) {
		log = log[:mark.n]
	}
	if mark.n > 0 && mark.n == len(log) {
		log[mark.n-1] = mark.last
	}
	return log
}

// AccountMark captures what one operation can change on an account.
type AccountMark struct {
	exists  bool
	summary types.StakeAccount
	log     LogMark
}

// MarkAccount captures the participant's account ahead of a mutation.
func (l *Ledger) MarkAccount(participant common.Address) AccountMark {
	acc := l.accounts[participant]
	if acc == nil {
		return AccountMark{}
	}
	mark := AccountMark{exists: true, summary: *acc, log: markLog(acc.History)}
	mark.summary.History = nil
	return mark
}

// ResetAccount restores the account captured by mark.
func (l *Ledger) ResetAccount(participant common.Address, mark AccountMark) {
	if !mark.exists {
		delete(l.accounts, participant)
		return
	}
	acc := l.accounts[participant]
	var history []types.Checkpoint
	if acc != nil {
		history = resetLog(acc.History, mark.log)
	}
	restored := mark.summary
	restored.History = history
	l.accounts[participant] = &restored
}

// MarkTotals captures the tail of the global checkpoint log.
func (l *Ledger) MarkTotals() LogMark {
	return markLog(l.totals)
}

// ResetTotals restores the global checkpoint log captured by mark.
func (l *Ledger) ResetTotals(mark LogMark) {
	l.totals = resetLog(l.totals, mark)
}

// Verify checks that positions, participant stakes and the total agree. It
// walks every record and is meant for restore paths and tests.
func (l *Ledger) Verify() error {
	perOwner := make(map[common.Address]uint64)
	for id, pos := range l.positions {
		if pos.TokenID != id {
			return fmt.Errorf("ledger: position key %d holds token %d", id, pos.TokenID)
		}
		perOwner[pos.Owner]++
	}
	var sum uint64
	for addr, acc := range l.accounts {
		if acc.Staked != perOwner[addr] {
			return fmt.Errorf("ledger: %s stakes %d units but owns %d positions", addr.Hex(), acc.Staked, perOwner[addr])
		}
		if n := len(acc.History); n > 0 && acc.History[n-1].Units != acc.Staked {
			return fmt.Errorf("ledger: %s history ends at %d, stake is %d", addr.Hex(), acc.History[n-1].Units, acc.Staked)
		}
		sum += acc.Staked
		delete(perOwner, addr)
	}
	if len(perOwner) != 0 {
		return fmt.Errorf("ledger: %d position owners have no account", len(perOwner))
	}
	if sum != l.Total() {
		return fmt.Errorf("ledger: participant stakes sum to %d, total is %d", sum, l.Total())
	}
	return nil
}

func writeCheckpoint(log []types.Checkpoint, epoch, units uint64) []types.Checkpoint {
	if n := len(log); n > 0 && log[n-1].Epoch == epoch {
		log[n-1].Units = units
		return log
	}
	return append(log, types.Checkpoint{Epoch: epoch, Units: units})
}
