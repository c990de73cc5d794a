package periodrunner

import (
	"time"

	"github.com/rs/zerolog"
)

// PeriodRunnerConfig configures a PeriodRunner.
type PeriodRunnerConfig struct {
	// Handler is the function invoked whenever a new period starts.
	Handler PeriodCallback
	// EpochsPerPeriod is the number of Ethereum epochs in one period.
	// Ignored when PeriodDuration is set.
	EpochsPerPeriod uint64
	// PeriodDuration, when nonzero, overrides the epoch-derived period
	// length directly. Lets callers with a fixed cadence (hourly strategy
	// evaluation, daily minting, weekly halting checks) reuse the same
	// genesis-anchored, missed-period-catch-up runner without forcing
	// their cadence into a whole number of Ethereum epochs.
	PeriodDuration time.Duration
	// GenesisTime is the timestamp at which period 0 starts.
	GenesisTime time.Time
	// Now returns the current time. Useful for deterministic tests. Defaults to time.Now if nil.
	Now    func() time.Time
	Logger zerolog.Logger
}

// DefaultPeriodRunnerConfig returns a config with sensible defaults.
func DefaultPeriodRunnerConfig(logger zerolog.Logger) PeriodRunnerConfig {
	return PeriodRunnerConfig{
		Handler:         nil, // Set later by an upper layer
		EpochsPerPeriod: DefaultEpochsPerPeriod,
		GenesisTime:     DefaultGenesisTime,
		Now:             time.Now,
		Logger:          logger.With().Str("component", "period-runner").Logger(),
	}
}

// IsEmpty returns true if all fields are at their zero values.
func (p *PeriodRunnerConfig) IsEmpty() bool {
	return p.Handler == nil &&
		p.EpochsPerPeriod == 0 &&
		p.PeriodDuration == 0 &&
		p.GenesisTime.IsZero() &&
		p.Now == nil &&
		p.Logger.GetLevel() == zerolog.NoLevel
}
