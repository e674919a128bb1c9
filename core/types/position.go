package types

import "github.com/ethereum/go-ethereum/common"

// Position is a license held in custody on behalf of Owner.
type Position struct {
	TokenID  uint64         `json:"tokenId"`
	Owner    common.Address `json:"owner"`
	LockedAt uint64         `json:"lockedAt"`
}

// Clone returns a copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}
