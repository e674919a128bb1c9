package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

var (
	rootKey  = []byte("state/root")
	kvPrefix = []byte("kv/")

	stakeMetaKey           = []byte("stake/meta")
	stakeAccountPrefix     = []byte("stake/account/")
	stakeCheckpointPrefix  = []byte("stake/checkpoint/")
	stakePositionPrefix    = []byte("stake/position/")
	stakeTotalPrefix       = []byte("stake/total/")
	stakeAccumulatorPrefix = []byte("stake/acc/")
	stakeSettlementPrefix  = []byte("stake/settlement/")
)

// StakeAccountKey returns the key holding the staking record of addr.
func StakeAccountKey(addr common.Address) []byte {
	return append(append([]byte(nil), stakeAccountPrefix...), addr.Bytes()...)
}

// StakeCheckpointKey returns the key of addr's stake checkpoint for epoch.
// Keys sort by address and then by epoch.
func StakeCheckpointKey(addr common.Address, epoch uint64) []byte {
	prefix := make([]byte, 0, len(stakeCheckpointPrefix)+common.AddressLength)
	prefix = append(append(prefix, stakeCheckpointPrefix...), addr.Bytes()...)
	return uintKey(prefix, epoch)
}

// StakePositionKey returns the key holding the custody record of a token.
func StakePositionKey(tokenID uint64) []byte {
	return uintKey(stakePositionPrefix, tokenID)
}

// StakeTotalKey returns the key of the total-staked checkpoint for epoch.
func StakeTotalKey(epoch uint64) []byte {
	return uintKey(stakeTotalPrefix, epoch)
}

// StakeAccumulatorKey returns the key of the accumulator value for epoch.
func StakeAccumulatorKey(epoch uint64) []byte {
	return uintKey(stakeAccumulatorPrefix, epoch)
}

// StakeSettlementKey returns the key of the settlement record for epoch.
func StakeSettlementKey(epoch uint64) []byte {
	return uintKey(stakeSettlementPrefix, epoch)
}

// uintKey appends n big-endian so prefix iteration visits keys in numeric
// order.
func uintKey(prefix []byte, n uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], n)
	return buf
}
