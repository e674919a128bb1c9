package epoch

import (
	"fmt"
	"time"

	stakeerrors "licensestake/core/errors"
	"licensestake/core/fixedpoint"
)

// Config describes epoch timing and pool emission.
type Config struct {
	// Duration is the wall-clock length of a single epoch. The value must
	// be greater than zero.
	Duration time.Duration

	// DecayRatePercent is the share of the pool removed at every epoch
	// close, expressed as a percentage in [0, 100].
	DecayRatePercent uint8
}

// DefaultConfig returns a conservative default configuration.
func DefaultConfig() Config {
	return Config{
		Duration:         24 * time.Hour,
		DecayRatePercent: 1,
	}
}

// Validate ensures the configuration is self-consistent.
func (c Config) Validate() error {
	if c.Duration <= 0 {
		return stakeerrors.ErrZeroEpochDuration
	}
	if c.Duration%time.Second != 0 {
		return fmt.Errorf("epoch duration %s must be a whole number of seconds", c.Duration)
	}
	if c.DecayRatePercent > fixedpoint.PercentDenominator {
		return fmt.Errorf("%w: %d", stakeerrors.ErrInvalidDecayRate, c.DecayRatePercent)
	}
	return nil
}

// DurationSeconds returns Duration as whole seconds.
func (c Config) DurationSeconds() uint64 {
	return uint64(c.Duration / time.Second)
}
