package types

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Checkpoint records a unit count as it stood at the end of Epoch. Logs of
// checkpoints are append-only and strictly increasing in Epoch.
type Checkpoint struct {
	Epoch uint64 `json:"epoch"`
	Units uint64 `json:"units"`
}

// CheckpointAt returns the value of the last checkpoint whose epoch does not
// exceed epoch, or zero when the log starts after it.
func CheckpointAt(log []Checkpoint, epoch uint64) uint64 {
	idx := sort.Search(len(log), func(i int) bool { return log[i].Epoch > epoch })
	if idx == 0 {
		return 0
	}
	return log[idx-1].Units
}

// StakeAccount holds the staking bookkeeping for a single participant.
type StakeAccount struct {
	Address              common.Address `json:"address"`
	Staked               uint64         `json:"staked"`
	LastStakeUpdateEpoch uint64         `json:"lastStakeUpdateEpoch"`
	// LastClaimedEpoch is the most recent epoch whose rewards were settled.
	LastClaimedEpoch uint64       `json:"lastClaimedEpoch"`
	History          []Checkpoint `json:"history,omitempty"`
}

// StakeAsOf returns the participant's unit count as of the end of epoch.
func (a *StakeAccount) StakeAsOf(epoch uint64) uint64 {
	if a == nil {
		return 0
	}
	return CheckpointAt(a.History, epoch)
}

// Clone returns a deep copy of the account.
func (a *StakeAccount) Clone() *StakeAccount {
	if a == nil {
		return nil
	}
	out := *a
	out.History = append([]Checkpoint(nil), a.History...)
	return &out
}
