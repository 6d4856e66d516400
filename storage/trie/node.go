package trie

import (
	"encoding/binary"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EmptyRootHash is the root of a trie without leaves. It doubles as the hash of
// any empty subtree.
var EmptyRootHash = common.Hash{}

const (
	leafPrefix   byte = 0x00
	branchPrefix byte = 0x01

	// KeyBits is the width of every trie path.
	KeyBits = 256
)

// handle addresses a node inside an arena. The zero handle is reserved for the
// empty subtree.
type handle uint32

const nilHandle handle = 0

// node is a single arena slot. Branch nodes carry the depth of the bit they
// split on; everything between the parent split and this one is shared by all
// leaves below and therefore skipped. Leaves carry the full path and value.
//
// Nodes are never modified after allocation so that snapshots taken before a
// mutation keep reading the same subtrees.
type node struct {
	hash     common.Hash
	leaf     bool
	bit      uint16
	children [2]handle
	// path is the full key for leaves and the path of one descendant leaf for
	// branches, which is enough to compare the shared prefix.
	path  common.Hash
	value []byte
}

// arena owns every node of a trie and of all snapshots derived from it.
type arena struct {
	nodes []node
}

func newArena() *arena {
	return &arena{nodes: make([]node, 1, 64)}
}

func (a *arena) alloc(n node) handle {
	a.nodes = append(a.nodes, n)
	return handle(len(a.nodes) - 1)
}

// at returns a copy of the node so callers never hold a pointer across an
// allocation.
func (a *arena) at(h handle) node {
	return a.nodes[h]
}

func (a *arena) hashOf(h handle) common.Hash {
	if h == nilHandle {
		return EmptyRootHash
	}
	return a.nodes[h].hash
}

func (a *arena) newLeaf(path common.Hash, value []byte) handle {
	stored := append([]byte(nil), value...)
	return a.alloc(node{
		hash:  LeafHash(path, stored),
		leaf:  true,
		path:  path,
		value: stored,
	})
}

func (a *arena) newBranch(bit uint16, children [2]handle) handle {
	left, right := a.at(children[0]), a.at(children[1])
	return a.alloc(node{
		hash:     BranchHash(bit, left.hash, right.hash),
		bit:      bit,
		children: children,
		path:     left.path,
	})
}

// LeafHash is the digest of a leaf holding value at path.
func LeafHash(path common.Hash, value []byte) common.Hash {
	return crypto.Keccak256Hash([]byte{leafPrefix}, path[:], value)
}

// BranchHash is the digest of a branch splitting on bit with the given
// children. The depth is part of the digest, so a proof only verifies with the
// branch mask the trie actually has.
func BranchHash(bit uint16, left, right common.Hash) common.Hash {
	var depth [2]byte
	binary.BigEndian.PutUint16(depth[:], bit)
	return crypto.Keccak256Hash([]byte{branchPrefix}, depth[:], left[:], right[:])
}

// bitAt returns the bit of b at depth, most significant bit first.
func bitAt(b [32]byte, depth int) int {
	return int(b[depth>>3]>>(7-uint(depth&7))) & 1
}

func setBit(b *[32]byte, depth int) {
	b[depth>>3] |= 1 << (7 - uint(depth&7))
}

// firstDiff returns the depth of the first differing bit, or KeyBits when the
// paths are equal.
func firstDiff(a, b common.Hash) int {
	for i := 0; i < len(a); i++ {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return KeyBits
}

func popcount(b [32]byte) int {
	n := 0
	for _, v := range b {
		n += bits.OnesCount8(v)
	}
	return n
}
