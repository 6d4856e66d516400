package reputation

import (
	"errors"
	"math/big"
)

// DecayRate is the per-cycle multiplier applied to every score.
type DecayRate struct {
	Numerator   uint64
	Denominator uint64
}

// DefaultDecayRate halves reputation over 2160 hourly cycles (90 days).
var DefaultDecayRate = DecayRate{Numerator: 999679150010889, Denominator: 1000000000000000}

// Validate ensures the rate never grows reputation.
func (r DecayRate) Validate() error {
	if r.Denominator == 0 {
		return errors.New("reputation: decay denominator must be positive")
	}
	if r.Numerator > r.Denominator {
		return errors.New("reputation: decay numerator exceeds denominator")
	}
	return nil
}

// Clamp saturates amount at the int128 bounds.
func Clamp(amount *big.Int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	if amount.Cmp(MaxAmount) > 0 {
		return new(big.Int).Set(MaxAmount)
	}
	if amount.Cmp(MinAmount) < 0 {
		return new(big.Int).Set(MinAmount)
	}
	return new(big.Int).Set(amount)
}

// AddClamped returns clamp(amount + delta).
func AddClamped(amount, delta *big.Int) *big.Int {
	sum := new(big.Int)
	if amount != nil {
		sum.Set(amount)
	}
	if delta != nil {
		sum.Add(sum, delta)
	}
	return Clamp(sum)
}

// Decay returns clamp(amount * num / den), rounded toward zero.
func (r DecayRate) Decay(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 || r.Denominator == 0 {
		return new(big.Int)
	}
	scaled := new(big.Int).Mul(amount, new(big.Int).SetUint64(r.Numerator))
	scaled.Quo(scaled, new(big.Int).SetUint64(r.Denominator))
	return Clamp(scaled)
}
