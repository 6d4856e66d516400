package reputation

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrStepOutOfRange is returned for step indices past the end of the plan.
	ErrStepOutOfRange = errors.New("reputation: step out of range")
	// ErrWrongLeaf is returned when a pre-state leaf cannot be the one a step
	// touches.
	ErrWrongLeaf = errors.New("reputation: leaf does not match step")
)

// StepKind distinguishes the two mutations a cycle is made of.
type StepKind uint8

const (
	// StepDecay scales one existing leaf by the decay rate.
	StepDecay StepKind = iota + 1
	// StepUpdate adds a logged delta to one key.
	StepUpdate
)

func (k StepKind) String() string {
	switch k {
	case StepDecay:
		return "decay"
	case StepUpdate:
		return "update"
	default:
		return fmt.Sprintf("StepKind(%d)", uint8(k))
	}
}

// Step is the unit of work between two consecutive justification states.
// Steps [0, prevNLeaves) decay the leaf with UID step+1; the remaining steps
// apply the log's updates in order.
type Step struct {
	Index uint64
	Kind  StepKind

	// UID is the leaf a decay step touches.
	UID uint64

	// Key and Delta describe an update step. EntryIndex and Sub locate it in
	// the log.
	Key        Key
	Delta      *big.Int
	EntryIndex int
	Sub        uint64
}

// TotalSteps returns the number of steps a cycle takes from a state with
// prevNLeaves leaves through the given log.
func TotalSteps(prevNLeaves uint64, entries []LogEntry) uint64 {
	return prevNLeaves + TotalUpdates(entries)
}

// StepTarget resolves which leaf or key step index touches.
func StepTarget(index, prevNLeaves uint64, entries []LogEntry, skills SkillTree) (Step, error) {
	if index < prevNLeaves {
		return Step{Index: index, Kind: StepDecay, UID: index + 1}, nil
	}
	update := index - prevNLeaves
	i, sub, ok := Locate(entries, update)
	if !ok {
		return Step{}, fmt.Errorf("%w: %d", ErrStepOutOfRange, index)
	}
	entry := entries[i]
	parents, err := skills.Parents(entry.Skill)
	if err != nil {
		return Step{}, err
	}
	key, err := entry.UpdateKey(sub, parents)
	if err != nil {
		return Step{}, err
	}
	return Step{
		Index:      index,
		Kind:       StepUpdate,
		Key:        key,
		Delta:      new(big.Int).Set(entry.Amount),
		EntryIndex: i,
		Sub:        sub,
	}, nil
}

// ApplyDelta returns the entry after adding delta to pre. A key that does not
// exist yet is created as leaf nLeaves+1. The second result is the leaf count
// afterwards.
func ApplyDelta(pre Entry, exists bool, nLeaves uint64, delta *big.Int) (Entry, uint64) {
	if !exists {
		return Entry{Amount: Clamp(delta), UID: nLeaves + 1, NUpdates: 1}, nLeaves + 1
	}
	return Entry{
		Amount:   AddClamped(pre.Amount, delta),
		UID:      pre.UID,
		NUpdates: pre.NUpdates + 1,
	}, nLeaves
}

// Transition applies step to the pre-state of the leaf it touches. Miner
// replay and dispute resolution both go through it so their arithmetic
// cannot drift apart.
func Transition(step Step, pre Entry, exists bool, nLeaves uint64, rate DecayRate) (Entry, uint64, error) {
	switch step.Kind {
	case StepDecay:
		if !exists || pre.UID != step.UID {
			return Entry{}, 0, ErrWrongLeaf
		}
		return Entry{
			Amount:   rate.Decay(pre.Amount),
			UID:      pre.UID,
			NUpdates: pre.NUpdates + 1,
		}, nLeaves, nil
	case StepUpdate:
		post, leaves := ApplyDelta(pre, exists, nLeaves, step.Delta)
		return post, leaves, nil
	default:
		return Entry{}, 0, fmt.Errorf("reputation: unknown step kind %d", step.Kind)
	}
}

// StepPlan is the step sequence of one cycle.
type StepPlan struct {
	prevLeaves uint64
	entries    []LogEntry
	skills     SkillTree
}

// NewStepPlan binds a log to the leaf count of the state it starts from.
func NewStepPlan(prevLeaves uint64, entries []LogEntry, skills SkillTree) *StepPlan {
	return &StepPlan{prevLeaves: prevLeaves, entries: entries, skills: skills}
}

// Len returns the number of steps.
func (p *StepPlan) Len() uint64 {
	return TotalSteps(p.prevLeaves, p.entries)
}

// Step returns step i.
func (p *StepPlan) Step(i uint64) (Step, error) {
	return StepTarget(i, p.prevLeaves, p.entries, p.skills)
}
