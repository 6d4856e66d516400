package reputation

import (
	"bytes"
	"errors"
	"fmt"

	"repchain/storage/trie"
)

// ErrInvalidWitness is returned when a witness cannot be checked against the
// pre-state it claims to describe.
var ErrInvalidWitness = errors.New("reputation: invalid step witness")

// StepWitness proves the pre-state of the key a step touches. When Exists is
// set, Proof is the key's inclusion proof. Otherwise Proof is the inclusion
// proof of a neighbor leaf the key branches off from, or empty when the
// pre-state trie has no leaves.
type StepWitness struct {
	Exists bool
	Proof  Proof
}

// WitnessFor builds the witness for rawKey against t.
func WitnessFor(t *Trie, rawKey []byte) (StepWitness, error) {
	if _, ok := t.Get(rawKey); ok {
		p, err := t.Proof(rawKey)
		if err != nil {
			return StepWitness{}, err
		}
		return StepWitness{Exists: true, Proof: p}, nil
	}
	if t.Len() == 0 {
		return StepWitness{}, nil
	}
	p, err := t.NeighborProof(rawKey)
	if err != nil {
		return StepWitness{}, err
	}
	return StepWitness{Proof: p}, nil
}

// ReplayStep computes the state that follows pre when step is applied,
// using only the witness. It is the whole of what a verifier needs to decide
// which of two conflicting post-states is right.
func ReplayStep(step Step, pre State, w StepWitness, rate DecayRate) (State, error) {
	if w.Exists {
		key, entry, err := VerifyProof(pre.Root, w.Proof)
		if err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrInvalidWitness, err)
		}
		if step.Kind == StepUpdate && !bytes.Equal(key.Encode(), step.Key.Encode()) {
			return State{}, fmt.Errorf("%w: proof is for %s, step touches %s", ErrInvalidWitness, key, step.Key)
		}
		post, leaves, err := Transition(step, entry, true, pre.NLeaves, rate)
		if err != nil {
			return State{}, err
		}
		root, err := ImpliedRoot(w.Proof.Key, post.Encode(), &w.Proof.BranchMask, w.Proof.Siblings)
		if err != nil {
			return State{}, err
		}
		return State{Root: root, NLeaves: leaves}, nil
	}

	if step.Kind != StepUpdate {
		return State{}, ErrWrongLeaf
	}
	rawKey := step.Key.Encode()
	post, leaves, err := Transition(step, Entry{}, false, pre.NLeaves, rate)
	if err != nil {
		return State{}, err
	}
	if pre.Root == trie.EmptyRootHash {
		if pre.NLeaves != 0 || len(w.Proof.Key) != 0 {
			return State{}, ErrInvalidWitness
		}
		return State{Root: trie.LeafHash(PathOf(rawKey), post.Encode()), NLeaves: leaves}, nil
	}
	if _, _, err := VerifyProof(pre.Root, w.Proof); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidWitness, err)
	}
	mask, siblings, err := trie.ExtendProof(w.Proof.Generic(), PathOf(rawKey))
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidWitness, err)
	}
	root, err := ImpliedRoot(rawKey, post.Encode(), &mask, siblings)
	if err != nil {
		return State{}, err
	}
	return State{Root: root, NLeaves: leaves}, nil
}
