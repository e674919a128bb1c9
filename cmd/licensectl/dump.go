package main

import (
	"io"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"licensestake/core/engine"
)

type dumpDoc struct {
	Root        string            `yaml:"root"`
	Meta        *metaDoc          `yaml:"meta,omitempty"`
	Accounts    []accountDoc      `yaml:"accounts"`
	Positions   []positionDoc     `yaml:"positions"`
	Totals      map[uint64]uint64 `yaml:"totals"`
	Accumulator map[uint64]string `yaml:"accumulator"`
	Settlements []settlementDoc   `yaml:"settlements"`
}

type metaDoc struct {
	Epoch            uint64 `yaml:"epoch"`
	EpochStartedAt   uint64 `yaml:"epochStartedAt"`
	EpochDuration    uint64 `yaml:"epochDuration"`
	DecayRatePercent uint8  `yaml:"decayRatePercent"`
	Pool             string `yaml:"pool"`
}

type accountDoc struct {
	Address              string            `yaml:"address"`
	Staked               uint64            `yaml:"staked"`
	LastStakeUpdateEpoch uint64            `yaml:"lastStakeUpdateEpoch"`
	LastClaimedEpoch     uint64            `yaml:"lastClaimedEpoch"`
	History              map[uint64]uint64 `yaml:"history,omitempty"`
}

type positionDoc struct {
	TokenID  string `yaml:"tokenId"`
	Owner    string `yaml:"owner"`
	LockedAt uint64 `yaml:"lockedAt"`
}

type settlementDoc struct {
	Epoch         uint64 `yaml:"epoch"`
	ClosedAt      uint64 `yaml:"closedAt"`
	Pool          string `yaml:"pool"`
	TotalStaked   uint64 `yaml:"totalStaked"`
	RewardPerUnit string `yaml:"rewardPerUnit"`
	Distributed   string `yaml:"distributed"`
	Dust          string `yaml:"dust"`
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func newDumpDoc(root common.Hash, snap *engine.Snapshot) dumpDoc {
	doc := dumpDoc{
		Root:        root.Hex(),
		Accounts:    []accountDoc{},
		Positions:   []positionDoc{},
		Totals:      map[uint64]uint64{},
		Accumulator: map[uint64]string{},
		Settlements: []settlementDoc{},
	}
	if snap == nil {
		return doc
	}
	if m := snap.Meta; m != nil {
		doc.Meta = &metaDoc{
			Epoch:            m.Epoch,
			EpochStartedAt:   m.EpochStartedAt,
			EpochDuration:    m.EpochDuration,
			DecayRatePercent: m.DecayRatePercent,
			Pool:             dec(m.Pool),
		}
	}
	for _, acc := range snap.Accounts {
		entry := accountDoc{
			Address:              acc.Address.Hex(),
			Staked:               acc.Staked,
			LastStakeUpdateEpoch: acc.LastStakeUpdateEpoch,
			LastClaimedEpoch:     acc.LastClaimedEpoch,
		}
		if len(acc.History) > 0 {
			entry.History = make(map[uint64]uint64, len(acc.History))
			for _, cp := range acc.History {
				entry.History[cp.Epoch] = cp.Units
			}
		}
		doc.Accounts = append(doc.Accounts, entry)
	}
	for _, pos := range snap.Positions {
		doc.Positions = append(doc.Positions, positionDoc{
			TokenID:  strconv.FormatUint(pos.TokenID, 10),
			Owner:    pos.Owner.Hex(),
			LockedAt: pos.LockedAt,
		})
	}
	for _, cp := range snap.Totals {
		doc.Totals[cp.Epoch] = cp.Units
	}
	for _, entry := range snap.Accumulator {
		doc.Accumulator[entry.Epoch] = dec(entry.Value)
	}
	for _, s := range snap.Settlements {
		doc.Settlements = append(doc.Settlements, settlementDoc{
			Epoch:         s.Epoch,
			ClosedAt:      s.ClosedAt,
			Pool:          dec(s.Pool),
			TotalStaked:   s.TotalStaked,
			RewardPerUnit: dec(s.RewardPerUnit),
			Distributed:   dec(s.Distributed),
			Dust:          dec(s.Dust),
		})
	}
	return doc
}

func writeDump(w io.Writer, root common.Hash, snap *engine.Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newDumpDoc(root, snap)); err != nil {
		return err
	}
	return enc.Close()
}
