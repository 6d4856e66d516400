package reputation

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"repchain/storage/trie"
)

// ErrProofMismatch is returned when a proof does not lead to the expected root.
var ErrProofMismatch = errors.New("reputation: proof does not match root")

// Proof is the tuple external verifiers check against a canonical root.
type Proof struct {
	Key        []byte
	Value      []byte
	BranchMask uint256.Int
	Siblings   []common.Hash
}

// Trie stores reputation leaves under hashed raw keys. It composes PathOf in
// front of the generic trie and remembers the raw key behind every path so
// proofs can be handed out in raw form.
type Trie struct {
	inner *trie.Trie
	// keys only grows and is shared with snapshots; a path present in any
	// snapshot is always resolvable.
	keys map[common.Hash][]byte
}

// NewTrie returns an empty reputation trie.
func NewTrie() *Trie {
	return &Trie{inner: trie.New(), keys: make(map[common.Hash][]byte)}
}

// RootHash returns the current root, or trie.EmptyRootHash.
func (t *Trie) RootHash() common.Hash {
	return t.inner.RootHash()
}

// Len returns the number of leaves.
func (t *Trie) Len() uint64 {
	return uint64(t.inner.Len())
}

// State returns the (root, leaf count) pair.
func (t *Trie) State() State {
	return State{Root: t.RootHash(), NLeaves: t.Len()}
}

// Snapshot returns an immutable view of the trie at its current root.
func (t *Trie) Snapshot() *Trie {
	return &Trie{inner: t.inner.Snapshot(), keys: t.keys}
}

// Compact returns a copy that no longer shares storage with snapshots. Raw
// keys of paths absent from the trie are dropped as well.
func (t *Trie) Compact() *Trie {
	out := &Trie{inner: t.inner.Compact(), keys: make(map[common.Hash][]byte, t.inner.Len())}
	out.inner.Walk(func(path common.Hash, _ []byte) bool {
		out.keys[path] = t.keys[path]
		return true
	})
	return out
}

// Nodes reports the size of the underlying arena.
func (t *Trie) Nodes() int {
	return t.inner.Nodes()
}

// Insert stores rawValue under rawKey.
func (t *Trie) Insert(rawKey, rawValue []byte) {
	path := PathOf(rawKey)
	if _, ok := t.keys[path]; !ok {
		t.keys[path] = append([]byte(nil), rawKey...)
	}
	t.inner.Insert(path, rawValue)
}

// Get returns the raw value stored under rawKey.
func (t *Trie) Get(rawKey []byte) ([]byte, bool) {
	return t.inner.Get(PathOf(rawKey))
}

// Put stores a decoded entry.
func (t *Trie) Put(key Key, entry Entry) {
	t.Insert(key.Encode(), entry.Encode())
}

// Entry returns the decoded entry stored for key.
func (t *Trie) Entry(key Key) (Entry, bool, error) {
	raw, ok := t.Get(key.Encode())
	if !ok {
		return Entry{}, false, nil
	}
	entry, err := DecodeEntry(raw)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Proof returns the inclusion proof for rawKey.
func (t *Trie) Proof(rawKey []byte) (Proof, error) {
	p, err := t.inner.Proof(PathOf(rawKey))
	if err != nil {
		return Proof{}, err
	}
	return Proof{
		Key:        append([]byte(nil), rawKey...),
		Value:      p.Value,
		BranchMask: p.BranchMask,
		Siblings:   p.Siblings,
	}, nil
}

// NeighborProof returns the proof of the leaf an absent rawKey would branch
// off from.
func (t *Trie) NeighborProof(rawKey []byte) (Proof, error) {
	p, err := t.inner.NeighborProof(PathOf(rawKey))
	if err != nil {
		return Proof{}, err
	}
	neighborKey, ok := t.keys[p.Path]
	if !ok {
		return Proof{}, fmt.Errorf("reputation: raw key unknown for path %s", p.Path.Hex())
	}
	return Proof{
		Key:        append([]byte(nil), neighborKey...),
		Value:      p.Value,
		BranchMask: p.BranchMask,
		Siblings:   p.Siblings,
	}, nil
}

// Walk visits every leaf in path order until fn returns false.
func (t *Trie) Walk(fn func(rawKey, rawValue []byte) bool) {
	t.inner.Walk(func(path common.Hash, value []byte) bool {
		return fn(t.keys[path], value)
	})
}

// ImpliedRoot recomputes the root implied by a raw-key proof.
func ImpliedRoot(rawKey, rawValue []byte, branchMask *uint256.Int, siblings []common.Hash) (common.Hash, error) {
	return trie.ImpliedRoot(PathOf(rawKey), rawValue, branchMask, siblings)
}

// Root recomputes the root implied by the proof.
func (p Proof) Root() (common.Hash, error) {
	return ImpliedRoot(p.Key, p.Value, &p.BranchMask, p.Siblings)
}

// Generic returns the proof in path form.
func (p Proof) Generic() trie.Proof {
	return trie.Proof{
		Path:       PathOf(p.Key),
		Value:      append([]byte(nil), p.Value...),
		BranchMask: p.BranchMask,
		Siblings:   append([]common.Hash(nil), p.Siblings...),
	}
}

// VerifyProof checks p against root and returns the decoded key and entry.
// Whether the key is the one a caller is authorising stays the caller's
// concern.
func VerifyProof(root common.Hash, p Proof) (Key, Entry, error) {
	key, err := DecodeKey(p.Key)
	if err != nil {
		return Key{}, Entry{}, err
	}
	entry, err := DecodeEntry(p.Value)
	if err != nil {
		return Key{}, Entry{}, err
	}
	implied, err := p.Root()
	if err != nil {
		return Key{}, Entry{}, err
	}
	if implied != root {
		return Key{}, Entry{}, ErrProofMismatch
	}
	return key, entry, nil
}
