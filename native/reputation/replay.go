package reputation

import (
	"errors"
	"fmt"
)

// ErrAlreadyDecayed is returned when decay is requested twice for one cycle.
var ErrAlreadyDecayed = errors.New("reputation: cycle already decayed")

// Replayer rebuilds a cycle's trie one step at a time from the previous
// canonical trie, recording the state and a snapshot after every step.
//
// A Replayer is not safe for concurrent use.
type Replayer struct {
	trie       *Trie
	rate       DecayRate
	skills     SkillTree
	prevLeaves uint64
	decayed    bool
	cursor     uint64
	byUID      map[uint64][]byte
	states     []State
	snapshots  []*Trie
}

// NewReplayer starts a replay on top of prev. prev itself is never modified.
func NewReplayer(prev *Trie, rate DecayRate, skills SkillTree) (*Replayer, error) {
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	if skills == nil {
		return nil, errors.New("reputation: skill tree required")
	}
	if prev == nil {
		prev = NewTrie()
	}
	r := &Replayer{
		trie:       prev.Snapshot(),
		rate:       rate,
		skills:     skills,
		prevLeaves: prev.Len(),
		byUID:      make(map[uint64][]byte, prev.Len()),
	}
	var walkErr error
	r.trie.Walk(func(rawKey, rawValue []byte) bool {
		entry, err := DecodeEntry(rawValue)
		if err != nil {
			walkErr = err
			return false
		}
		if entry.UID == 0 || entry.UID > r.prevLeaves {
			walkErr = fmt.Errorf("reputation: leaf %x has uid %d outside [1, %d]", rawKey, entry.UID, r.prevLeaves)
			return false
		}
		if _, dup := r.byUID[entry.UID]; dup {
			walkErr = fmt.Errorf("reputation: duplicate uid %d", entry.UID)
			return false
		}
		r.byUID[entry.UID] = rawKey
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	r.record()
	return r, nil
}

func (r *Replayer) record() {
	r.states = append(r.states, r.trie.State())
	r.snapshots = append(r.snapshots, r.trie.Snapshot())
}

// Decay scales every leaf that existed before the cycle, in UID order.
func (r *Replayer) Decay() error {
	if r.decayed {
		return ErrAlreadyDecayed
	}
	r.decayed = true
	for uid := uint64(1); uid <= r.prevLeaves; uid++ {
		rawKey := r.byUID[uid]
		key, err := DecodeKey(rawKey)
		if err != nil {
			return err
		}
		pre, ok, err := r.trie.Entry(key)
		if err != nil {
			return err
		}
		step := Step{Index: uid - 1, Kind: StepDecay, UID: uid}
		post, _, err := Transition(step, pre, ok, r.trie.Len(), r.rate)
		if err != nil {
			return fmt.Errorf("decay uid %d: %w", uid, err)
		}
		r.trie.Put(key, post)
		r.record()
	}
	return nil
}

// Apply replays every update of one log entry. The entry must continue the
// log exactly where the previous one ended.
func (r *Replayer) Apply(entry LogEntry) error {
	switch {
	case entry.NPreviousUpdates < r.cursor:
		return ErrStaleLogEntry
	case entry.NPreviousUpdates > r.cursor:
		return ErrLogGap
	}
	parents, err := r.skills.Parents(entry.Skill)
	if err != nil {
		return err
	}
	if UpdateCount(entry.User, parents) != entry.NUpdates {
		return ErrSkillMismatch
	}
	for sub := uint64(0); sub < entry.NUpdates; sub++ {
		key, err := entry.UpdateKey(sub, parents)
		if err != nil {
			return err
		}
		pre, ok, err := r.trie.Entry(key)
		if err != nil {
			return err
		}
		post, _ := ApplyDelta(pre, ok, r.trie.Len(), entry.Amount)
		r.trie.Put(key, post)
		if !ok {
			r.byUID[post.UID] = key.Encode()
		}
		r.record()
	}
	r.cursor += entry.NUpdates
	return nil
}

// ApplyAll replays entries in order, skipping those already applied.
func (r *Replayer) ApplyAll(entries []LogEntry) error {
	for i, e := range entries {
		err := r.Apply(e)
		if errors.Is(err, ErrStaleLogEntry) {
			continue
		}
		if err != nil {
			return fmt.Errorf("log entry %d: %w", i, err)
		}
	}
	return nil
}

// Trie returns the current trie.
func (r *Replayer) Trie() *Trie {
	return r.trie
}

// State returns the current state.
func (r *Replayer) State() State {
	return r.trie.State()
}

// States returns the state before the first step followed by the state after
// every step.
func (r *Replayer) States() []State {
	return append([]State(nil), r.states...)
}

// Snapshot returns the trie after the first i steps.
func (r *Replayer) Snapshot(i uint64) (*Trie, error) {
	if i >= uint64(len(r.snapshots)) {
		return nil, fmt.Errorf("%w: %d", ErrStepOutOfRange, i)
	}
	return r.snapshots[i], nil
}

// PrevLeaves returns the leaf count of the trie the replay started from.
func (r *Replayer) PrevLeaves() uint64 {
	return r.prevLeaves
}

// KeyForUID returns the raw key of the leaf with the given UID.
func (r *Replayer) KeyForUID(uid uint64) ([]byte, bool) {
	raw, ok := r.byUID[uid]
	return raw, ok
}

// Witness returns the pre-state witness for step against the trie after the
// first step.Index steps.
func (r *Replayer) Witness(step Step) (StepWitness, error) {
	snap, err := r.Snapshot(step.Index)
	if err != nil {
		return StepWitness{}, err
	}
	var rawKey []byte
	switch step.Kind {
	case StepDecay:
		raw, ok := r.byUID[step.UID]
		if !ok {
			return StepWitness{}, fmt.Errorf("%w: uid %d", ErrWrongLeaf, step.UID)
		}
		rawKey = raw
	case StepUpdate:
		rawKey = step.Key.Encode()
	default:
		return StepWitness{}, fmt.Errorf("reputation: unknown step kind %d", step.Kind)
	}
	return WitnessFor(snap, rawKey)
}

// Replay runs a full cycle in the canonical order: decay first, then the log.
func Replay(prev *Trie, entries []LogEntry, rate DecayRate, skills SkillTree) (*Replayer, error) {
	r, err := NewReplayer(prev, rate, skills)
	if err != nil {
		return nil, err
	}
	if err := r.Decay(); err != nil {
		return nil, err
	}
	if err := r.ApplyAll(entries); err != nil {
		return nil, err
	}
	return r, nil
}
