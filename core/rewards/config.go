package rewards

import "fmt"

const (
	// MaxHistoryLength bounds the number of settlement records kept in memory.
	MaxHistoryLength uint64 = 1 << 20
	// MaxClaimWindow bounds ClaimWindow.
	MaxClaimWindow = 1 << 20
)

// Config controls claim settlement and settlement bookkeeping.
type Config struct {
	// ClaimWindow caps how many runs of constant stake a single claim
	// settles. The remainder is settled by later claims. A zero value
	// settles every unclaimed epoch at once.
	ClaimWindow uint64

	// HistoryLength controls how many epoch settlement records are retained in
	// memory and persisted in state. A zero value keeps the full history.
	HistoryLength uint64
}

// DefaultConfig returns the reward configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		ClaimWindow:   0,
		HistoryLength: 64,
	}
}

// Validate ensures the configuration is internally consistent.
func (c Config) Validate() error {
	if c.HistoryLength > MaxHistoryLength {
		return fmt.Errorf("history length %d exceeds %d", c.HistoryLength, MaxHistoryLength)
	}
	if c.ClaimWindow > MaxClaimWindow {
		return fmt.Errorf("claim window %d exceeds %d", c.ClaimWindow, MaxClaimWindow)
	}
	return nil
}

// SegmentLimit returns the segment cap handed to the ledger for one claim.
func (c Config) SegmentLimit() int {
	if c.ClaimWindow > uint64(MaxClaimWindow) {
		return MaxClaimWindow
	}
	return int(c.ClaimWindow)
}
