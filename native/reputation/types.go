package reputation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	colonyKeyLen = common.AddressLength + 8
	userKeyLen   = colonyKeyLen + common.AddressLength

	// EntryLen is the size of an encoded Entry.
	EntryLen = 32 + 8 + 8
	// StateLen is the size of an encoded State.
	StateLen = common.HashLength + 8
)

var (
	// ErrMalformedKey marks raw keys that are neither colony-wide nor user keys.
	ErrMalformedKey = errors.New("reputation: malformed key")
	// ErrMalformedValue marks raw values that do not decode to an Entry.
	ErrMalformedValue = errors.New("reputation: malformed value")

	// MaxAmount and MinAmount bound every reputation amount (int128).
	MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	MinAmount = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Key identifies one reputation score. A zero User denotes the colony-wide
// total for the skill.
type Key struct {
	Colony common.Address
	Skill  uint64
	User   common.Address
}

// ColonyWide reports whether the key aggregates all users.
func (k Key) ColonyWide() bool {
	return k.User == (common.Address{})
}

// Encode returns the raw trie key: colony || skill || user, where the user is
// omitted for colony-wide totals.
func (k Key) Encode() []byte {
	size := userKeyLen
	if k.ColonyWide() {
		size = colonyKeyLen
	}
	out := make([]byte, size)
	copy(out, k.Colony[:])
	binary.BigEndian.PutUint64(out[common.AddressLength:], k.Skill)
	if !k.ColonyWide() {
		copy(out[colonyKeyLen:], k.User[:])
	}
	return out
}

func (k Key) String() string {
	if k.ColonyWide() {
		return fmt.Sprintf("%s/%d", k.Colony.Hex(), k.Skill)
	}
	return fmt.Sprintf("%s/%d/%s", k.Colony.Hex(), k.Skill, k.User.Hex())
}

// DecodeKey parses a raw trie key.
func DecodeKey(raw []byte) (Key, error) {
	if len(raw) != colonyKeyLen && len(raw) != userKeyLen {
		return Key{}, ErrMalformedKey
	}
	var k Key
	copy(k.Colony[:], raw[:common.AddressLength])
	k.Skill = binary.BigEndian.Uint64(raw[common.AddressLength:colonyKeyLen])
	if len(raw) == userKeyLen {
		copy(k.User[:], raw[colonyKeyLen:])
		if k.ColonyWide() {
			return Key{}, ErrMalformedKey
		}
	}
	return k, nil
}

// PathOf maps a raw key onto its trie path. Every insert, proof and
// verification must go through it.
func PathOf(rawKey []byte) common.Hash {
	return crypto.Keccak256Hash(rawKey)
}

// Entry is the decoded value of a reputation leaf.
type Entry struct {
	Amount *big.Int
	// UID is the 1-based creation index of the leaf. Decay visits leaves in
	// UID order and a new leaf always takes NLeaves+1.
	UID uint64
	// NUpdates counts the mutations applied to this key.
	NUpdates uint64
}

// Encode returns the raw trie value: amount as a 32-byte two's complement
// word, then uid and nUpdates big-endian.
func (e Entry) Encode() []byte {
	out := make([]byte, EntryLen)
	word := EncodeAmount(e.Amount)
	copy(out, word[:])
	binary.BigEndian.PutUint64(out[32:], e.UID)
	binary.BigEndian.PutUint64(out[40:], e.NUpdates)
	return out
}

// DecodeEntry parses a raw trie value.
func DecodeEntry(raw []byte) (Entry, error) {
	if len(raw) != EntryLen {
		return Entry{}, ErrMalformedValue
	}
	amount, err := DecodeAmount(raw[:32])
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Amount:   amount,
		UID:      binary.BigEndian.Uint64(raw[32:]),
		NUpdates: binary.BigEndian.Uint64(raw[40:]),
	}, nil
}

// EncodeAmount packs a bounded amount into a 32-byte two's complement word.
func EncodeAmount(amount *big.Int) [32]byte {
	var word uint256.Int
	if amount != nil {
		word.SetFromBig(Clamp(amount))
	}
	return word.Bytes32()
}

// DecodeAmount unpacks a two's complement word, rejecting values outside the
// amount bounds.
func DecodeAmount(raw []byte) (*big.Int, error) {
	if len(raw) != 32 {
		return nil, ErrMalformedValue
	}
	var word uint256.Int
	word.SetBytes32(raw)
	var amount *big.Int
	if word.Sign() < 0 {
		abs := new(uint256.Int).Neg(&word)
		amount = new(big.Int).Neg(abs.ToBig())
	} else {
		amount = word.ToBig()
	}
	if amount.Cmp(MaxAmount) > 0 || amount.Cmp(MinAmount) < 0 {
		return nil, ErrMalformedValue
	}
	return amount, nil
}

// State is the pair a miner commits to after every step: the reputation root
// and the number of leaves under it.
type State struct {
	Root    common.Hash
	NLeaves uint64
}

// Encode returns root || nLeaves.
func (s State) Encode() []byte {
	out := make([]byte, StateLen)
	copy(out, s.Root[:])
	binary.BigEndian.PutUint64(out[common.HashLength:], s.NLeaves)
	return out
}

func (s State) String() string {
	return fmt.Sprintf("%s/%d", s.Root.Hex(), s.NLeaves)
}

// DecodeState parses an encoded State.
func DecodeState(raw []byte) (State, error) {
	if len(raw) != StateLen {
		return State{}, ErrMalformedValue
	}
	var s State
	copy(s.Root[:], raw[:common.HashLength])
	s.NLeaves = binary.BigEndian.Uint64(raw[common.HashLength:])
	return s, nil
}
