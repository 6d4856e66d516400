package trie

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrMalformedProof is returned when a branch mask and sibling list do not
// describe the same path.
var ErrMalformedProof = errors.New("trie: malformed proof")

// Proof is an inclusion proof for a single leaf.
//
// Bit 255-d of BranchMask is set when the path branches at depth d. Siblings
// hold the hash of the other side of every branch, leaf-adjacent first, which
// is the order of the mask bits from least significant upwards.
type Proof struct {
	Path       common.Hash
	Value      []byte
	BranchMask uint256.Int
	Siblings   []common.Hash
}

func newProof(path common.Hash, value []byte, mask [32]byte, siblings []common.Hash) Proof {
	p := Proof{
		Path:     path,
		Value:    append([]byte(nil), value...),
		Siblings: siblings,
	}
	p.BranchMask.SetBytes32(mask[:])
	return p
}

// Root recomputes the root implied by the proof.
func (p Proof) Root() (common.Hash, error) {
	return ImpliedRoot(p.Path, p.Value, &p.BranchMask, p.Siblings)
}

// ImpliedRoot folds the leaf (path, value) with siblings bottom-up and returns
// the root it implies. It needs no trie and is what verifiers call.
func ImpliedRoot(path common.Hash, value []byte, branchMask *uint256.Int, siblings []common.Hash) (common.Hash, error) {
	if branchMask == nil {
		return common.Hash{}, ErrMalformedProof
	}
	mask := branchMask.Bytes32()
	if popcount(mask) != len(siblings) {
		return common.Hash{}, ErrMalformedProof
	}
	cur := LeafHash(path, value)
	i := 0
	for depth := KeyBits - 1; depth >= 0; depth-- {
		if bitAt(mask, depth) == 0 {
			continue
		}
		cur = fold(depth, cur, siblings[i], bitAt(path, depth))
		i++
	}
	return cur, nil
}

// ExtendProof derives the branch mask and siblings that path will have after
// it is inserted next to the neighbor leaf. The neighbor must come from
// NeighborProof (or be any leaf of the subtree path branches off from); the
// caller is responsible for checking the neighbor against the pre-insert root.
func ExtendProof(neighbor Proof, path common.Hash) (uint256.Int, []common.Hash, error) {
	var out uint256.Int
	d := firstDiff(neighbor.Path, path)
	if d == KeyBits {
		return out, nil, ErrKeyExists
	}
	mask := neighbor.BranchMask.Bytes32()
	if popcount(mask) != len(neighbor.Siblings) {
		return out, nil, ErrMalformedProof
	}
	if bitAt(mask, d) == 1 {
		// path would descend into the neighbor's sibling at d, so this leaf
		// does not witness the insertion point.
		return out, nil, ErrMalformedProof
	}
	var (
		extended [32]byte
		upper    []common.Hash
	)
	subtree := LeafHash(neighbor.Path, neighbor.Value)
	i := 0
	for depth := KeyBits - 1; depth >= 0; depth-- {
		if bitAt(mask, depth) == 0 {
			continue
		}
		sibling := neighbor.Siblings[i]
		i++
		if depth > d {
			subtree = fold(depth, subtree, sibling, bitAt(neighbor.Path, depth))
			continue
		}
		setBit(&extended, depth)
		upper = append(upper, sibling)
	}
	setBit(&extended, d)
	siblings := make([]common.Hash, 0, len(upper)+1)
	siblings = append(siblings, subtree)
	siblings = append(siblings, upper...)
	out.SetBytes32(extended[:])
	return out, siblings, nil
}

func fold(depth int, cur, sibling common.Hash, side int) common.Hash {
	if side == 0 {
		return BranchHash(uint16(depth), cur, sibling)
	}
	return BranchHash(uint16(depth), sibling, cur)
}
