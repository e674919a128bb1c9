package events

import (
	"strconv"

	"licensestake/core/types"
)

// EventEpochClosed is emitted when an epoch is settled and the clock advances.
const EventEpochClosed = "epoch.closed"

// EpochClosed signals that an epoch boundary has been reached and its pool
// folded into the accumulator.
type EpochClosed struct {
	Settlement types.EpochSettlement
	NextEpoch  uint64
	NextPool   string
}

// EventType implements the Event interface.
func (EpochClosed) EventType() string { return EventEpochClosed }

// Event converts the struct into a types.Event payload.
func (e EpochClosed) Event() *types.Event {
	s := e.Settlement
	attrs := map[string]string{
		"epoch":           strconv.FormatUint(s.Epoch, 10),
		"closed_at":       strconv.FormatUint(s.ClosedAt, 10),
		"pool":            formatAmount(s.Pool),
		"total_staked":    strconv.FormatUint(s.TotalStaked, 10),
		"reward_per_unit": formatAmount(s.RewardPerUnit),
		"distributed":     formatAmount(s.Distributed),
		"dust":            formatAmount(s.Dust),
		"next_epoch":      strconv.FormatUint(e.NextEpoch, 10),
	}
	if e.NextPool != "" {
		attrs["next_pool"] = e.NextPool
	}
	return &types.Event{Type: EventEpochClosed, Attributes: attrs}
}
