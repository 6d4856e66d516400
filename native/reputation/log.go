package reputation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"
)

var (
	// ErrStaleLogEntry marks an entry whose updates have already been applied.
	ErrStaleLogEntry = errors.New("reputation: stale or duplicate log entry")
	// ErrLogGap marks an entry that skips updates not yet seen.
	ErrLogGap = errors.New("reputation: log entry skips updates")
	// ErrSkillMismatch is returned when an entry's update count does not match
	// the skill hierarchy.
	ErrSkillMismatch = errors.New("reputation: update count does not match skill chain")
	// ErrUnknownSkill is returned by skill trees for unregistered skills.
	ErrUnknownSkill = errors.New("reputation: unknown skill")
)

// SkillTree resolves the ancestors of a skill. The hierarchy itself belongs
// to the colony contracts.
type SkillTree interface {
	// Parents returns the ancestors of skill, nearest first.
	Parents(skill uint64) ([]uint64, error)
}

// StaticSkillTree maps each skill to its parent. Root skills map to
// themselves or are listed in Roots.
type StaticSkillTree struct {
	mu      sync.RWMutex
	parents map[uint64]uint64
	roots   map[uint64]struct{}
}

// NewStaticSkillTree returns a tree containing only the given root skills.
func NewStaticSkillTree(roots ...uint64) *StaticSkillTree {
	t := &StaticSkillTree{parents: make(map[uint64]uint64), roots: make(map[uint64]struct{})}
	for _, r := range roots {
		t.roots[r] = struct{}{}
	}
	return t
}

// Add registers skill as a child of parent.
func (t *StaticSkillTree) Add(skill, parent uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.roots[parent]; !ok {
		if _, ok := t.parents[parent]; !ok {
			return fmt.Errorf("%w: parent %d", ErrUnknownSkill, parent)
		}
	}
	if _, ok := t.roots[skill]; ok {
		return fmt.Errorf("reputation: skill %d already registered", skill)
	}
	if _, ok := t.parents[skill]; ok {
		return fmt.Errorf("reputation: skill %d already registered", skill)
	}
	t.parents[skill] = parent
	return nil
}

// Parents implements SkillTree.
func (t *StaticSkillTree) Parents(skill uint64) ([]uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var chain []uint64
	for {
		if _, ok := t.roots[skill]; ok {
			return chain, nil
		}
		parent, ok := t.parents[skill]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownSkill, skill)
		}
		chain = append(chain, parent)
		skill = parent
	}
}

// SkillEdge attaches Skill below Parent.
type SkillEdge struct {
	Skill  uint64
	Parent uint64
}

// BuildSkillTree registers roots and then edges in order; every parent must
// be known by the time its edge is added.
func BuildSkillTree(roots []uint64, edges []SkillEdge) (*StaticSkillTree, error) {
	if len(roots) == 0 {
		return nil, errors.New("reputation: at least one root skill required")
	}
	t := NewStaticSkillTree(roots...)
	for _, e := range edges {
		if err := t.Add(e.Skill, e.Parent); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LogEntry is one reputation delta recorded during a cycle. An entry expands
// into NUpdates trie mutations; NPreviousUpdates is the number of mutations
// produced by all earlier entries of the same log.
type LogEntry struct {
	User             common.Address
	Amount           *big.Int
	Skill            uint64
	Colony           common.Address
	NUpdates         uint64
	NPreviousUpdates uint64
}

// Clone returns a deep copy of the entry.
func (e LogEntry) Clone() LogEntry {
	out := e
	if e.Amount != nil {
		out.Amount = new(big.Int).Set(e.Amount)
	}
	return out
}

// encode is the canonical byte form hashed into the log digest.
func (e LogEntry) encode() []byte {
	out := make([]byte, 0, 20+20+8+32+8+8)
	out = append(out, e.User[:]...)
	out = append(out, e.Colony[:]...)
	out = binary.BigEndian.AppendUint64(out, e.Skill)
	word := EncodeAmount(e.Amount)
	out = append(out, word[:]...)
	out = binary.BigEndian.AppendUint64(out, e.NUpdates)
	out = binary.BigEndian.AppendUint64(out, e.NPreviousUpdates)
	return out
}

// UpdateCount returns the number of mutations an event for user on a skill
// with the given ancestors produces: colony-wide totals for the skill and
// every ancestor, plus the same for the user when there is one.
func UpdateCount(user common.Address, parents []uint64) uint64 {
	n := uint64(len(parents) + 1)
	if user == (common.Address{}) {
		return n
	}
	return 2 * n
}

// UpdateKey returns the key touched by update sub of the entry. The first
// half of an entry's updates hits colony-wide totals and the second half the
// user's scores; within each half index 0 is the entry's skill and later
// indices walk up the ancestors.
func (e LogEntry) UpdateKey(sub uint64, parents []uint64) (Key, error) {
	if sub >= e.NUpdates {
		return Key{}, fmt.Errorf("reputation: update %d out of range", sub)
	}
	if UpdateCount(e.User, parents) != e.NUpdates {
		return Key{}, ErrSkillMismatch
	}
	chain := append([]uint64{e.Skill}, parents...)
	key := Key{Colony: e.Colony}
	if e.User == (common.Address{}) {
		key.Skill = chain[sub]
		return key, nil
	}
	half := e.NUpdates / 2
	if sub < half {
		key.Skill = chain[sub]
		return key, nil
	}
	key.Skill = chain[sub-half]
	key.User = e.User
	return key, nil
}

// UpdateLog is the append-only record of one cycle's reputation deltas. Each
// append extends a blake3 digest chain so miners can confirm they replay the
// same log the arbiter holds.
type UpdateLog struct {
	mu      sync.RWMutex
	entries []LogEntry
	total   uint64
	digest  [32]byte
}

// NewUpdateLog returns an empty log.
func NewUpdateLog() *UpdateLog {
	return &UpdateLog{}
}

// Append adds a fully specified entry. NPreviousUpdates must equal the number
// of updates already in the log.
func (l *UpdateLog) Append(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.NUpdates == 0 {
		return errors.New("reputation: entry must produce at least one update")
	}
	if entry.Amount == nil {
		return errors.New("reputation: entry amount required")
	}
	switch {
	case entry.NPreviousUpdates < l.total:
		return ErrStaleLogEntry
	case entry.NPreviousUpdates > l.total:
		return ErrLogGap
	}
	stored := entry.Clone()
	stored.Amount = Clamp(stored.Amount)
	l.entries = append(l.entries, stored)
	l.total += stored.NUpdates
	l.digest = chainDigest(l.digest, stored)
	return nil
}

// AppendUpdate records a delta for user (zero for colony-only) on skill,
// deriving the update counts from skills.
func (l *UpdateLog) AppendUpdate(colony common.Address, skill uint64, user common.Address, amount *big.Int, skills SkillTree) (LogEntry, error) {
	parents, err := skills.Parents(skill)
	if err != nil {
		return LogEntry{}, err
	}
	l.mu.RLock()
	prev := l.total
	l.mu.RUnlock()
	entry := LogEntry{
		User:             user,
		Amount:           Clamp(amount),
		Skill:            skill,
		Colony:           colony,
		NUpdates:         UpdateCount(user, parents),
		NPreviousUpdates: prev,
	}
	if err := l.Append(entry); err != nil {
		return LogEntry{}, err
	}
	return entry.Clone(), nil
}

// Entries returns a copy of the log.
func (l *UpdateLog) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Len returns the number of entries.
func (l *UpdateLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// TotalUpdates returns the number of trie mutations the log expands into.
func (l *UpdateLog) TotalUpdates() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Digest returns the head of the digest chain.
func (l *UpdateLog) Digest() [32]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.digest
}

// LogFromEntries rebuilds a log, validating the update bookkeeping.
func LogFromEntries(entries []LogEntry) (*UpdateLog, error) {
	l := NewUpdateLog()
	for i, e := range entries {
		if err := l.Append(e); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return l, nil
}

// DigestOf computes the digest chain over entries without validating them.
func DigestOf(entries []LogEntry) [32]byte {
	var digest [32]byte
	for _, e := range entries {
		digest = chainDigest(digest, e)
	}
	return digest
}

func chainDigest(prev [32]byte, e LogEntry) [32]byte {
	buf := make([]byte, 0, 32+112)
	buf = append(buf, prev[:]...)
	buf = append(buf, e.encode()...)
	return blake3.Sum256(buf)
}

// TotalUpdates sums the mutations of entries.
func TotalUpdates(entries []LogEntry) uint64 {
	if len(entries) == 0 {
		return 0
	}
	last := entries[len(entries)-1]
	return last.NPreviousUpdates + last.NUpdates
}

// Locate returns the entry index and the update offset inside that entry for
// the given log-relative update number.
func Locate(entries []LogEntry, update uint64) (int, uint64, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].NPreviousUpdates+entries[i].NUpdates > update
	})
	if i == len(entries) || entries[i].NPreviousUpdates > update {
		return 0, 0, false
	}
	return i, update - entries[i].NPreviousUpdates, true
}
