package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"licensestake/core/epoch"
	"licensestake/core/fixedpoint"
	"licensestake/core/ledger"
	"licensestake/core/rewards"
	"licensestake/core/types"
)

type journalEntry interface {
	undo(*Engine)
	dirty(*dirtySet)
}

// journal records the prior value of everything an operation touches so a
// failed operation can be rolled back and the touched keys persisted.
type journal struct {
	entries []journalEntry
}

type dirtySet struct {
	meta        bool
	accounts    map[common.Address]struct{}
	checkpoints map[AccountEpoch]struct{}
	positions   map[uint64]struct{}
	totals      map[uint64]struct{}
	accumulator map[uint64]struct{}
	settlements map[uint64]struct{}
	evicted     map[uint64]struct{}
}

type (
	accountChange struct {
		addr   common.Address
		mark   ledger.AccountMark
		epoch  uint64
		logged bool
	}
	positionChange struct {
		tokenID uint64
		prev    *types.Position
	}
	totalsChange struct {
		epoch uint64
		mark  ledger.LogMark
	}
	accumulatorChange struct {
		epoch   uint64
		prevLen int
	}
	historyChange struct {
		epoch   uint64
		mark    rewards.HistoryMark
		evicted []uint64
	}
	metaChange struct {
		clock epoch.Clock
		pool  *uint256.Int
	}
)

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

func (j *journal) reset() {
	j.entries = j.entries[:0]
}

// revert undoes every entry, newest first. The entries stay in the journal
// so the touched keys can still be persisted.
func (j *journal) revert(e *Engine) {
	for i := len(j.entries) - 1; i >= 0; i-- {
		j.entries[i].undo(e)
	}
}

func (j *journal) dirties() *dirtySet {
	set := &dirtySet{
		accounts:    make(map[common.Address]struct{}),
		checkpoints: make(map[AccountEpoch]struct{}),
		positions:   make(map[uint64]struct{}),
		totals:      make(map[uint64]struct{}),
		accumulator: make(map[uint64]struct{}),
		settlements: make(map[uint64]struct{}),
		evicted:     make(map[uint64]struct{}),
	}
	for _, entry := range j.entries {
		entry.dirty(set)
	}
	return set
}

func (ch accountChange) undo(e *Engine) { e.ledger.ResetAccount(ch.addr, ch.mark) }
func (ch positionChange) undo(e *Engine) { e.ledger.SetPosition(ch.tokenID, ch.prev) }
func (ch positionChange) dirty(s *dirtySet) { s.positions[ch.tokenID] = struct{}{} }
func (ch totalsChange) undo(e *Engine) { e.ledger.ResetTotals(ch.mark) }
func (ch totalsChange) dirty(s *dirtySet) { s.totals[ch.epoch] = struct{}{} }
func (ch accumulatorChange) undo(e *Engine) { e.acc.Truncate(ch.prevLen) }
func (ch accumulatorChange) dirty(s *dirtySet) { s.accumulator[ch.epoch] = struct{}{} }
func (ch historyChange) undo(e *Engine) { e.history.Reset(ch.mark) }
func (ch metaChange) dirty(s *dirtySet) { s.meta = true }

func (ch accountChange) dirty(s *dirtySet) {
	s.accounts[ch.addr] = struct{}{}
	if ch.logged {
		s.checkpoints[AccountEpoch{Address: ch.addr, Epoch: ch.epoch}] = struct{}{}
	}
}

func (ch historyChange) dirty(s *dirtySet) {
	s.settlements[ch.epoch] = struct{}{}
	for _, epoch := range ch.evicted {
		s.evicted[epoch] = struct{}{}
	}
}

func (ch metaChange) undo(e *Engine) {
	e.clock = ch.clock
	e.pool = ch.pool
}

// touchAccount journals the participant's account ahead of a mutation that
// leaves its checkpoint log alone.
func (e *Engine) touchAccount(addr common.Address) {
	e.journal.append(accountChange{addr: addr, mark: e.ledger.MarkAccount(addr)})
}

// touchStake journals the participant's account ahead of a stake change
// that writes the checkpoint for epoch.
func (e *Engine) touchStake(addr common.Address, epoch uint64) {
	e.journal.append(accountChange{addr: addr, mark: e.ledger.MarkAccount(addr), epoch: epoch, logged: true})
}

func (e *Engine) touchPosition(tokenID uint64) {
	e.journal.append(positionChange{tokenID: tokenID, prev: e.ledger.Position(tokenID)})
}

func (e *Engine) touchTotals(epoch uint64) {
	e.journal.append(totalsChange{epoch: epoch, mark: e.ledger.MarkTotals()})
}

func (e *Engine) touchAccumulator(epoch uint64) {
	e.journal.append(accumulatorChange{epoch: epoch, prevLen: e.acc.Len()})
}

func (e *Engine) touchHistory(epoch uint64) {
	change := historyChange{epoch: epoch, mark: e.history.Mark()}
	if limit := e.params.Rewards.HistoryLength; limit > 0 {
		records := e.history.Records()
		if uint64(len(records)) >= limit {
			for _, record := range records[:uint64(len(records))-limit+1] {
				change.evicted = append(change.evicted, record.Epoch)
			}
		}
	}
	e.journal.append(change)
}

func (e *Engine) touchMeta() {
	e.journal.append(metaChange{clock: e.clock, pool: fixedpoint.Copy(e.pool)})
}
