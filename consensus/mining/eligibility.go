package mining

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// entryHash scores a submission entry. Lower scores become eligible first.
func entryHash(miner common.Address, entryIndex uint64, root common.Hash) *uint256.Int {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], entryIndex)
	h := crypto.Keccak256(miner[:], idx[:], root[:])
	return new(uint256.Int).SetBytes32(h)
}

// eligibilityTarget grows linearly from zero to the full range over ramp.
func eligibilityTarget(elapsed, ramp time.Duration) *uint256.Int {
	full := new(uint256.Int).SetAllOne()
	if ramp <= 0 || elapsed >= ramp {
		return full
	}
	if elapsed <= 0 {
		return new(uint256.Int)
	}
	step := new(uint256.Int).Div(full, uint256.NewInt(uint64(ramp)))
	return step.Mul(step, uint256.NewInt(uint64(elapsed)))
}

// Eligible reports whether the entry may be submitted elapsed after the
// window opened.
func Eligible(miner common.Address, entryIndex uint64, root common.Hash, elapsed, ramp time.Duration) bool {
	return !entryHash(miner, entryIndex, root).Gt(eligibilityTarget(elapsed, ramp))
}

// EligibleAt returns the earliest offset into the window at which the entry
// becomes eligible.
func EligibleAt(miner common.Address, entryIndex uint64, root common.Hash, ramp time.Duration) time.Duration {
	if ramp <= 0 {
		return 0
	}
	score := entryHash(miner, entryIndex, root)
	step := new(uint256.Int).Div(new(uint256.Int).SetAllOne(), uint256.NewInt(uint64(ramp)))
	if step.IsZero() {
		return ramp
	}
	n := new(uint256.Int).Div(score, step)
	if !new(uint256.Int).Mul(n, step).Eq(score) {
		n.AddUint64(n, 1)
	}
	if !n.IsUint64() || n.Uint64() >= uint64(ramp) {
		return ramp
	}
	return time.Duration(n.Uint64())
}
