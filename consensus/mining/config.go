package mining

import (
	"fmt"
	"math/big"
	"time"

	"repchain/native/reputation"
)

// Config holds the economic and timing parameters of the mining cycle.
type Config struct {
	// CycleDuration is how long a cycle accumulates log entries before it is
	// mined.
	CycleDuration time.Duration

	// SubmissionWindow is open to every staked miner.
	SubmissionWindow time.Duration

	// SubmitterOnlyWindow follows SubmissionWindow; only miners that already
	// submitted during the cycle may add entries.
	SubmitterOnlyWindow time.Duration

	// EligibilityRamp is the time over which the submission target grows
	// from zero to the full hash range. Zero disables the target.
	EligibilityRamp time.Duration

	// ResponseWindow bounds every dispute response.
	ResponseWindow time.Duration

	// MinStake is the stake one submission entry costs.
	MinStake *big.Int

	// MaxSubmissions caps the entries accepted per cycle.
	MaxSubmissions int

	// SlashBps is the share of stake, in basis points, burnt from the
	// submitters of a losing candidate.
	SlashBps uint64

	// Decay is applied to every leaf once per cycle.
	Decay reputation.DecayRate
}

// DefaultConfig returns hourly cycles with a 2000 token minimum stake.
func DefaultConfig() Config {
	return Config{
		CycleDuration:       time.Hour,
		SubmissionWindow:    time.Hour,
		SubmitterOnlyWindow: 10 * time.Minute,
		EligibilityRamp:     time.Hour,
		ResponseWindow:      20 * time.Minute,
		MinStake:            new(big.Int).Mul(big.NewInt(2000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
		MaxSubmissions:      12,
		SlashBps:            10_000,
		Decay:               reputation.DefaultDecayRate,
	}
}

// Validate ensures the configuration is self-consistent.
func (c Config) Validate() error {
	if c.CycleDuration <= 0 {
		return fmt.Errorf("cycle duration must be positive")
	}
	if c.SubmissionWindow <= 0 {
		return fmt.Errorf("submission window must be positive")
	}
	if c.SubmitterOnlyWindow < 0 {
		return fmt.Errorf("submitter-only window cannot be negative")
	}
	if c.EligibilityRamp < 0 || c.EligibilityRamp > c.SubmissionWindow {
		return fmt.Errorf("eligibility ramp must lie within the submission window")
	}
	if c.ResponseWindow <= 0 {
		return fmt.Errorf("response window must be positive")
	}
	if c.MinStake == nil || c.MinStake.Sign() <= 0 {
		return fmt.Errorf("minimum stake must be positive")
	}
	if c.MaxSubmissions <= 0 {
		return fmt.Errorf("max submissions must be positive")
	}
	if c.SlashBps > 10_000 {
		return fmt.Errorf("slash bps cannot exceed 10000")
	}
	if err := c.Decay.Validate(); err != nil {
		return err
	}
	return nil
}

func (c Config) slashAmount(stake *big.Int) *big.Int {
	if stake == nil || stake.Sign() <= 0 || c.SlashBps == 0 {
		return new(big.Int)
	}
	amount := new(big.Int).Mul(stake, new(big.Int).SetUint64(c.SlashBps))
	return amount.Quo(amount, big.NewInt(10_000))
}
