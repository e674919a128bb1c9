package rpc

import (
	"strconv"

	"github.com/holiman/uint256"

	"licensestake/core/engine"
	"licensestake/core/types"
	"licensestake/indexer"
)

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

type statusResponse struct {
	Epoch          uint64 `json:"epoch"`
	EpochStartedAt uint64 `json:"epochStartedAt"`
	EpochEndsAt    uint64 `json:"epochEndsAt"`
	Pool           string `json:"pool"`
	TotalStaked    uint64 `json:"totalStaked"`
	Custody        string `json:"custody"`
	RewardBalance  string `json:"rewardBalance"`
	Paused         bool   `json:"paused"`
}

func statusResponseFrom(s Status) statusResponse {
	return statusResponse{
		Epoch:          s.Epoch,
		EpochStartedAt: s.EpochStartedAt,
		EpochEndsAt:    s.EpochEndsAt,
		Pool:           amount(s.Pool),
		TotalStaked:    s.TotalStaked,
		Custody:        s.Custody.Hex(),
		RewardBalance:  amount(s.RewardBalance),
		Paused:         s.Paused,
	}
}

type accountResponse struct {
	Address              string             `json:"address"`
	Staked               uint64             `json:"staked"`
	LastStakeUpdateEpoch uint64             `json:"lastStakeUpdateEpoch"`
	LastClaimedEpoch     uint64             `json:"lastClaimedEpoch"`
	History              []types.Checkpoint `json:"history"`
	Pending              pendingResponse    `json:"pending"`
}

type pendingResponse struct {
	Amount    string `json:"amount"`
	FromEpoch uint64 `json:"fromEpoch"`
	ToEpoch   uint64 `json:"toEpoch"`
}

func pendingResponseFrom(p engine.Pending) pendingResponse {
	return pendingResponse{Amount: amount(p.Amount), FromEpoch: p.FromEpoch, ToEpoch: p.ToEpoch}
}

type positionResponse struct {
	TokenID  string `json:"tokenId"`
	Owner    string `json:"owner"`
	LockedAt uint64 `json:"lockedAt"`
}

func positionResponseFrom(p *types.Position) positionResponse {
	return positionResponse{TokenID: strconv.FormatUint(p.TokenID, 10), Owner: p.Owner.Hex(), LockedAt: p.LockedAt}
}

type settlementResponse struct {
	Epoch         uint64 `json:"epoch"`
	ClosedAt      uint64 `json:"closedAt"`
	Pool          string `json:"pool"`
	TotalStaked   uint64 `json:"totalStaked"`
	RewardPerUnit string `json:"rewardPerUnit"`
	Distributed   string `json:"distributed"`
	Dust          string `json:"dust"`
}

func settlementResponseFrom(s types.EpochSettlement) settlementResponse {
	return settlementResponse{
		Epoch:         s.Epoch,
		ClosedAt:      s.ClosedAt,
		Pool:          amount(s.Pool),
		TotalStaked:   s.TotalStaked,
		RewardPerUnit: amount(s.RewardPerUnit),
		Distributed:   amount(s.Distributed),
		Dust:          amount(s.Dust),
	}
}

type claimResponse struct {
	Amount string `json:"amount"`
}

type eventResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Epoch      uint64            `json:"epoch"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func eventResponseFrom(r indexer.Record) eventResponse {
	return eventResponse{ID: r.ID.String(), Type: r.Type, Epoch: r.Epoch, Attributes: r.Fields(), CreatedAt: r.CreatedAt.Unix()}
}

type tokenRequest struct {
	TokenID string `json:"tokenId"`
}

type mintLicenseRequest struct {
	Owner   string `json:"owner"`
	TokenID string `json:"tokenId"`
}

type fundRequest struct {
	Amount string `json:"amount"`
}

type pauseRequest struct {
	Module string `json:"module"`
}
