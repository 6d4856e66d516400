package reputation

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"repchain/storage/trie"
)

// ErrJustificationMismatch is returned when a justification proof does not
// lead to the committed justification root.
var ErrJustificationMismatch = errors.New("reputation: justification proof does not match root")

// JustificationPath is the trie path of the state after the first i steps.
func JustificationPath(i uint64) common.Hash {
	var path common.Hash
	binary.BigEndian.PutUint64(path[common.HashLength-8:], i)
	return path
}

// Justification commits to every intermediate state of a replay. Leaf i holds
// the state after the first i steps, so leaf 0 is the previous canonical
// state and the last leaf is the submitted one.
type Justification struct {
	trie   *trie.Trie
	states []State
}

// NewJustification builds the justification tree over states.
func NewJustification(states []State) *Justification {
	t := trie.New()
	for i, s := range states {
		t.Insert(JustificationPath(uint64(i)), s.Encode())
	}
	return &Justification{trie: t, states: append([]State(nil), states...)}
}

// Root returns the justification root hash.
func (j *Justification) Root() common.Hash {
	return j.trie.RootHash()
}

// Len returns the number of committed states.
func (j *Justification) Len() uint64 {
	return uint64(len(j.states))
}

// State returns the committed state after the first i steps.
func (j *Justification) State(i uint64) (State, bool) {
	if i >= uint64(len(j.states)) {
		return State{}, false
	}
	return j.states[i], true
}

// Proof returns the proof that the state after i steps is committed.
func (j *Justification) Proof(i uint64) (JustificationProof, error) {
	if i >= uint64(len(j.states)) {
		return JustificationProof{}, fmt.Errorf("%w: %d", ErrStepOutOfRange, i)
	}
	p, err := j.trie.Proof(JustificationPath(i))
	if err != nil {
		return JustificationProof{}, err
	}
	return JustificationProof{
		Index:      i,
		State:      j.states[i],
		BranchMask: p.BranchMask,
		Siblings:   p.Siblings,
	}, nil
}

// JustificationProof reveals one intermediate state.
type JustificationProof struct {
	Index      uint64
	State      State
	BranchMask uint256.Int
	Siblings   []common.Hash
}

// Verify checks the proof against a justification root.
func (p JustificationProof) Verify(jrh common.Hash) error {
	root, err := trie.ImpliedRoot(JustificationPath(p.Index), p.State.Encode(), &p.BranchMask, p.Siblings)
	if err != nil {
		return err
	}
	if root != jrh {
		return ErrJustificationMismatch
	}
	return nil
}
