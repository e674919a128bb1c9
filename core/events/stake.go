package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"licensestake/core/types"
)

const (
	// TypeLicenseLocked is emitted when a license enters custody.
	TypeLicenseLocked = "stake.licenseLocked"
	// TypeLicenseUnlocked is emitted when a license is returned to its owner.
	TypeLicenseUnlocked = "stake.licenseUnlocked"
	// TypeRewardsClaimed is emitted when settled rewards are paid out.
	TypeRewardsClaimed = "stake.rewardsClaimed"
)

// LicenseLocked captures a license entering custody.
type LicenseLocked struct {
	Participant common.Address
	TokenID     uint64
	Epoch       uint64
	LockedAt    uint64
}

// EventType satisfies the Event interface.
func (LicenseLocked) EventType() string { return TypeLicenseLocked }

// Event converts the structured payload into a broadcastable event.
func (e LicenseLocked) Event() *types.Event {
	attrs := map[string]string{
		"participant": e.Participant.Hex(),
		"tokenId":     strconv.FormatUint(e.TokenID, 10),
		"epoch":       strconv.FormatUint(e.Epoch, 10),
	}
	if e.LockedAt > 0 {
		attrs["lockedAt"] = strconv.FormatUint(e.LockedAt, 10)
	}
	return &types.Event{Type: TypeLicenseLocked, Attributes: attrs}
}

// LicenseUnlocked captures a license leaving custody.
type LicenseUnlocked struct {
	Participant common.Address
	TokenID     uint64
	Epoch       uint64
}

// EventType satisfies the Event interface.
func (LicenseUnlocked) EventType() string { return TypeLicenseUnlocked }

// Event converts the structured payload into a broadcastable event.
func (e LicenseUnlocked) Event() *types.Event {
	return &types.Event{Type: TypeLicenseUnlocked, Attributes: map[string]string{
		"participant": e.Participant.Hex(),
		"tokenId":     strconv.FormatUint(e.TokenID, 10),
		"epoch":       strconv.FormatUint(e.Epoch, 10),
	}}
}

// RewardsClaimed captures a reward payout.
type RewardsClaimed struct {
	Participant common.Address
	Amount      *uint256.Int
	FromEpoch   uint64
	ToEpoch     uint64
	Recipient   common.Address
}

// EventType satisfies the Event interface.
func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e RewardsClaimed) Event() *types.Event {
	attrs := map[string]string{
		"participant": e.Participant.Hex(),
		"amount":      formatAmount(e.Amount),
		"fromEpoch":   strconv.FormatUint(e.FromEpoch, 10),
		"toEpoch":     strconv.FormatUint(e.ToEpoch, 10),
	}
	if !zeroAddress(e.Recipient) && e.Recipient != e.Participant {
		attrs["recipient"] = e.Recipient.Hex()
	}
	return &types.Event{Type: TypeRewardsClaimed, Attributes: attrs}
}
