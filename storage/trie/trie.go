package trie

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrKeyNotFound is returned when a proof is requested for an absent path.
	ErrKeyNotFound = errors.New("trie: key not found")
	// ErrKeyExists is returned when a non-inclusion witness is requested for a
	// path that is already present.
	ErrKeyExists = errors.New("trie: key exists")
	// ErrEmptyTrie marks operations that need at least one leaf.
	ErrEmptyTrie = errors.New("trie: empty")
)

// Trie is a binary Merkle-Patricia trie over 256-bit paths. Runs of single
// child nodes are collapsed, so each branch records the depth of the bit it
// splits on and a subtree holding one leaf hashes to that leaf.
//
// Paths are used as given. Callers that store application keys are expected
// to hash them first so that proof sizes stay logarithmic.
//
// Mutations are copy-on-write against an arena shared with every snapshot of
// the trie. Trie is not safe for concurrent use.
type Trie struct {
	arena *arena
	root  handle
	size  int
}

// New returns an empty trie.
func New() *Trie {
	return &Trie{arena: newArena()}
}

// RootHash returns the hash of the current root, or EmptyRootHash.
func (t *Trie) RootHash() common.Hash {
	return t.arena.hashOf(t.root)
}

// Len returns the number of leaves.
func (t *Trie) Len() int {
	return t.size
}

// Snapshot returns a view of the trie at its current root. Later mutations of
// either trie do not affect the other.
func (t *Trie) Snapshot() *Trie {
	return &Trie{arena: t.arena, root: t.root, size: t.size}
}

// Compact returns a copy of the trie in a fresh arena holding only the nodes
// reachable from the current root. Snapshots share an arena that only grows,
// so a trie kept across many mutations should be compacted once its history
// is no longer needed.
func (t *Trie) Compact() *Trie {
	out := &Trie{arena: newArena(), size: t.size}
	out.root = out.copyFrom(t.arena, t.root)
	return out
}

func (t *Trie) copyFrom(src *arena, h handle) handle {
	if h == nilHandle {
		return nilHandle
	}
	n := src.at(h)
	if !n.leaf {
		n.children = [2]handle{t.copyFrom(src, n.children[0]), t.copyFrom(src, n.children[1])}
	}
	return t.arena.alloc(n)
}

// Nodes reports how many nodes the trie's arena holds, including those only
// reachable from snapshots.
func (t *Trie) Nodes() int {
	return len(t.arena.nodes) - 1
}

// Get returns the value stored at path.
func (t *Trie) Get(path common.Hash) ([]byte, bool) {
	h := t.root
	for h != nilHandle {
		n := t.arena.at(h)
		if n.leaf {
			if n.path != path {
				return nil, false
			}
			return append([]byte(nil), n.value...), true
		}
		if firstDiff(n.path, path) < int(n.bit) {
			return nil, false
		}
		h = n.children[bitAt(path, int(n.bit))]
	}
	return nil, false
}

// Insert stores value at path, replacing any previous value, and rehashes
// every node on the way back to the root.
func (t *Trie) Insert(path common.Hash, value []byte) {
	root, created := t.insert(t.root, path, value)
	t.root = root
	if created {
		t.size++
	}
}

func (t *Trie) insert(h handle, path common.Hash, value []byte) (handle, bool) {
	if h == nilHandle {
		return t.arena.newLeaf(path, value), true
	}
	n := t.arena.at(h)
	if n.leaf {
		if n.path == path {
			return t.arena.newLeaf(path, value), false
		}
		return t.split(h, n.path, path, value), true
	}
	if d := firstDiff(n.path, path); d < int(n.bit) {
		return t.split(h, n.path, path, value), true
	}
	side := bitAt(path, int(n.bit))
	child, created := t.insert(n.children[side], path, value)
	children := n.children
	children[side] = child
	return t.arena.newBranch(n.bit, children), created
}

// split places a new leaf next to the subtree at h, branching on the first bit
// where path leaves the subtree's shared prefix.
func (t *Trie) split(h handle, existing, path common.Hash, value []byte) handle {
	d := firstDiff(existing, path)
	leaf := t.arena.newLeaf(path, value)
	var children [2]handle
	side := bitAt(path, d)
	children[side] = leaf
	children[1-side] = h
	return t.arena.newBranch(uint16(d), children)
}

// Walk visits every leaf in path order until fn returns false.
func (t *Trie) Walk(fn func(path common.Hash, value []byte) bool) {
	t.walk(t.root, fn)
}

func (t *Trie) walk(h handle, fn func(common.Hash, []byte) bool) bool {
	if h == nilHandle {
		return true
	}
	n := t.arena.at(h)
	if n.leaf {
		return fn(n.path, append([]byte(nil), n.value...))
	}
	if !t.walk(n.children[0], fn) {
		return false
	}
	return t.walk(n.children[1], fn)
}

// Proof returns the inclusion proof for path.
func (t *Trie) Proof(path common.Hash) (Proof, error) {
	var (
		mask     [32]byte
		siblings []common.Hash
	)
	h := t.root
	for {
		if h == nilHandle {
			return Proof{}, ErrKeyNotFound
		}
		n := t.arena.at(h)
		if n.leaf {
			if n.path != path {
				return Proof{}, ErrKeyNotFound
			}
			reverse(siblings)
			return newProof(path, n.value, mask, siblings), nil
		}
		if firstDiff(n.path, path) < int(n.bit) {
			return Proof{}, ErrKeyNotFound
		}
		side := bitAt(path, int(n.bit))
		setBit(&mask, int(n.bit))
		siblings = append(siblings, t.arena.hashOf(n.children[1-side]))
		h = n.children[side]
	}
}

// NeighborProof returns the inclusion proof of a leaf inside the subtree that
// path would branch off from if it were inserted. Combined with ExtendProof it
// shows where an absent path lands without access to the trie.
func (t *Trie) NeighborProof(path common.Hash) (Proof, error) {
	h := t.root
	if h == nilHandle {
		return Proof{}, ErrEmptyTrie
	}
	for {
		n := t.arena.at(h)
		if n.leaf {
			if n.path == path {
				return Proof{}, ErrKeyExists
			}
			break
		}
		if firstDiff(n.path, path) < int(n.bit) {
			break
		}
		h = n.children[bitAt(path, int(n.bit))]
	}
	for {
		n := t.arena.at(h)
		if n.leaf {
			return t.Proof(n.path)
		}
		h = n.children[0]
	}
}

func reverse(hashes []common.Hash) {
	for i, j := 0, len(hashes)-1; i < j; i, j = i+1, j-1 {
		hashes[i], hashes[j] = hashes[j], hashes[i]
	}
}
