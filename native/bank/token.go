// Package bank holds balances of the fungible reward token.
package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "licensestake/native/common"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrSupplyOverflow      = errors.New("bank: supply overflow")
)

var (
	balancePrefix = []byte("bank/balance/")
	supplyKey     = []byte("bank/supply")
)

func balanceKey(addr common.Address) []byte {
	return append(append([]byte(nil), balancePrefix...), addr.Bytes()...)
}

// Token is a single fungible token ledger.
type Token struct {
	state nativecommon.StoreState
}

func NewToken(state nativecommon.StoreState) *Token {
	return &Token{state: state}
}

func (t *Token) load(key []byte) (*uint256.Int, error) {
	if t == nil || t.state == nil {
		return nil, fmt.Errorf("bank: token not initialised")
	}
	stored := new(big.Int)
	ok, err := t.state.KVGet(key, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	v, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, fmt.Errorf("bank: stored amount exceeds 256 bits")
	}
	return v, nil
}

func (t *Token) store(key []byte, v *uint256.Int) error {
	if v.IsZero() {
		return t.state.KVDelete(key)
	}
	return t.state.KVPut(key, v.ToBig())
}

func (t *Token) BalanceOf(_ context.Context, addr common.Address) (*uint256.Int, error) {
	return t.load(balanceKey(addr))
}

// TotalSupply returns the amount minted so far.
func (t *Token) TotalSupply() (*uint256.Int, error) {
	return t.load(supplyKey)
}

// Mint credits amount to to and grows the supply.
func (t *Token) Mint(to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	supply, err := t.load(supplyKey)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	balance, err := t.load(balanceKey(to))
	if err != nil {
		return err
	}
	if err := t.store(balanceKey(to), new(uint256.Int).Add(balance, amount)); err != nil {
		return err
	}
	return t.store(supplyKey, next)
}

// PayOut moves amount from from to to.
func (t *Token) PayOut(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	src, err := t.load(balanceKey(from))
	if err != nil {
		return err
	}
	if src.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, src.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	dst, err := t.load(balanceKey(to))
	if err != nil {
		return err
	}
	if err := t.store(balanceKey(from), new(uint256.Int).Sub(src, amount)); err != nil {
		return err
	}
	return t.store(balanceKey(to), new(uint256.Int).Add(dst, amount))
}
