// Package license is the non-fungible license collection staked by the
// engine. Each token has one owner and at most one approved operator.
package license

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "licensestake/native/common"
	"licensestake/native/system"
)

var (
	ErrUnknownToken  = errors.New("license: unknown token")
	ErrTokenExists   = errors.New("license: token already minted")
	ErrNotTokenOwner = errors.New("license: caller does not own token")
	ErrZeroOwner     = errors.New("license: owner must not be zero")
)

var tokenPrefix = []byte("license/token/")

func tokenKey(id uint64) []byte {
	buf := make([]byte, len(tokenPrefix)+8)
	copy(buf, tokenPrefix)
	binary.BigEndian.PutUint64(buf[len(tokenPrefix):], id)
	return buf
}

type tokenRecord struct {
	Owner    common.Address
	Operator common.Address
}

// Registry stores license ownership. Transfers are refused while the
// license module is paused.
type Registry struct {
	state  nativecommon.StoreState
	pauses nativecommon.PauseView
}

func NewRegistry(state nativecommon.StoreState, pauses nativecommon.PauseView) *Registry {
	return &Registry{state: state, pauses: pauses}
}

func (r *Registry) load(id uint64) (*tokenRecord, error) {
	if r == nil || r.state == nil {
		return nil, fmt.Errorf("license: registry not initialised")
	}
	var record tokenRecord
	ok, err := r.state.KVGet(tokenKey(id), &record)
	if err != nil {
		return nil, fmt.Errorf("license: load token %d: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	return &record, nil
}

// Mint creates token id owned by owner.
func (r *Registry) Mint(owner common.Address, id uint64) error {
	if owner == (common.Address{}) {
		return ErrZeroOwner
	}
	if _, err := r.load(id); err == nil {
		return fmt.Errorf("%w: %d", ErrTokenExists, id)
	} else if !errors.Is(err, ErrUnknownToken) {
		return err
	}
	return r.state.KVPut(tokenKey(id), &tokenRecord{Owner: owner})
}

// Approve lets operator move token id on the owner's behalf. A zero operator
// clears the approval.
func (r *Registry) Approve(caller common.Address, id uint64, operator common.Address) error {
	record, err := r.load(id)
	if err != nil {
		return err
	}
	if record.Owner != caller {
		return fmt.Errorf("%w: %d", ErrNotTokenOwner, id)
	}
	record.Operator = operator
	return r.state.KVPut(tokenKey(id), record)
}

func (r *Registry) OwnerOf(_ context.Context, id uint64) (common.Address, error) {
	record, err := r.load(id)
	if err != nil {
		return common.Address{}, err
	}
	return record.Owner, nil
}

func (r *Registry) IsApprovedForTransfer(_ context.Context, id uint64, operator common.Address) (bool, error) {
	record, err := r.load(id)
	if err != nil {
		return false, err
	}
	return operator != (common.Address{}) && record.Operator == operator, nil
}

// TransferCustody moves token id from from to to and clears its approval.
func (r *Registry) TransferCustody(ctx context.Context, from, to common.Address, id uint64) error {
	if err := nativecommon.Guard(ctx, r.pauses, system.ModuleLicense); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroOwner
	}
	record, err := r.load(id)
	if err != nil {
		return err
	}
	if record.Owner != from {
		return fmt.Errorf("%w: %d", ErrNotTokenOwner, id)
	}
	return r.state.KVPut(tokenKey(id), &tokenRecord{Owner: to})
}
