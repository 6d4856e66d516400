package mining

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"repchain/consensus/mining/dispute"
	"repchain/native/reputation"
)

// Phase is the lifecycle stage of a cycle.
type Phase uint8

const (
	PhaseOpen Phase = iota + 1
	PhaseSubmission
	PhaseDisputing
	PhaseConfirmed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseSubmission:
		return "submission"
	case PhaseDisputing:
		return "disputing"
	case PhaseConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Submission is one accepted entry.
type Submission struct {
	Miner      common.Address
	EntryIndex uint64
	State      reputation.State
	JRH        common.Hash
	Candidate  int
	At         time.Time
}

// Candidate groups the submissions that claim the same result.
type Candidate struct {
	Index      int
	State      reputation.State
	JRH        common.Hash
	Submitters []common.Address
	Eliminated bool
}

func (c *Candidate) hasSubmitter(addr common.Address) bool {
	for _, s := range c.Submitters {
		if s == addr {
			return true
		}
	}
	return false
}

type entryKey struct {
	miner common.Address
	index uint64
}

// Cycle is one mining cycle. The scheduler owns two at a time: the one
// accumulating log entries and the one being mined.
type Cycle struct {
	ID       uint64
	Phase    Phase
	OpenedAt time.Time
	Log      *reputation.UpdateLog

	// Set when the cycle stops accumulating.
	Prev        reputation.State
	Entries     []reputation.LogEntry
	WindowStart time.Time
	Attempts    int

	submissions []Submission
	candidates  []*Candidate
	used        map[entryKey]struct{}
	submitters  map[common.Address]struct{}
	slashed     map[common.Address]struct{}
	bracket     *bracket
	winner      *Candidate
}

func newCycle(id uint64, now time.Time) *Cycle {
	return &Cycle{
		ID:       id,
		Phase:    PhaseOpen,
		OpenedAt: now,
		Log:      reputation.NewUpdateLog(),
		slashed:  make(map[common.Address]struct{}),
	}
}

// activate freezes the log and opens the submission window against prev.
func (c *Cycle) activate(prev reputation.State, now time.Time) {
	c.Phase = PhaseSubmission
	c.Prev = prev
	c.Entries = c.Log.Entries()
	c.reset(now)
}

// reset opens a fresh submission window, dropping earlier submissions.
func (c *Cycle) reset(now time.Time) {
	c.Phase = PhaseSubmission
	c.WindowStart = now
	c.submissions = nil
	c.candidates = nil
	c.used = make(map[entryKey]struct{})
	c.submitters = make(map[common.Address]struct{})
	c.bracket = nil
	c.winner = nil
}

func (c *Cycle) submissionEnd(cfg Config) time.Time {
	return c.WindowStart.Add(cfg.SubmissionWindow)
}

func (c *Cycle) closeAt(cfg Config) time.Time {
	return c.submissionEnd(cfg).Add(cfg.SubmitterOnlyWindow)
}

func (c *Cycle) record(sub Submission) int {
	idx := -1
	for _, cand := range c.candidates {
		if cand.State == sub.State && cand.JRH == sub.JRH {
			idx = cand.Index
			break
		}
	}
	if idx < 0 {
		idx = len(c.candidates)
		c.candidates = append(c.candidates, &Candidate{Index: idx, State: sub.State, JRH: sub.JRH})
	}
	cand := c.candidates[idx]
	if !cand.hasSubmitter(sub.Miner) {
		cand.Submitters = append(cand.Submitters, sub.Miner)
	}
	sub.Candidate = idx
	c.submissions = append(c.submissions, sub)
	c.used[entryKey{miner: sub.Miner, index: sub.EntryIndex}] = struct{}{}
	c.submitters[sub.Miner] = struct{}{}
	return idx
}

func (c *Cycle) live() []int {
	var out []int
	for _, cand := range c.candidates {
		if !cand.Eliminated {
			out = append(out, cand.Index)
		}
	}
	return out
}

func (c *Cycle) claim(idx int) dispute.Claim {
	cand := c.candidates[idx]
	return dispute.Claim{Candidate: idx, State: cand.State, JRH: cand.JRH}
}

// CycleStatus is the externally visible view of a cycle.
type CycleStatus struct {
	ID            uint64            `json:"id"`
	Phase         string            `json:"phase"`
	OpenedAt      time.Time         `json:"openedAt"`
	PrevRoot      common.Hash       `json:"prevRoot"`
	PrevLeaves    uint64            `json:"prevLeaves"`
	LogEntries    int               `json:"logEntries"`
	LogUpdates    uint64            `json:"logUpdates"`
	LogDigest     common.Hash       `json:"logDigest"`
	WindowStart   time.Time         `json:"windowStart"`
	SubmissionEnd time.Time         `json:"submissionEnd"`
	CloseAt       time.Time         `json:"closeAt"`
	Ramp          time.Duration     `json:"eligibilityRamp"`
	Attempts      int               `json:"attempts"`
	Candidates    []CandidateStatus `json:"candidates"`
	Round         int               `json:"round"`
}

// CandidateStatus summarises one candidate.
type CandidateStatus struct {
	Index      int              `json:"index"`
	Root       common.Hash      `json:"root"`
	NLeaves    uint64           `json:"nLeaves"`
	JRH        common.Hash      `json:"jrh"`
	Submitters []common.Address `json:"submitters"`
	Eliminated bool             `json:"eliminated"`
}

func (c *Cycle) status(cfg Config) CycleStatus {
	st := CycleStatus{
		ID:         c.ID,
		Phase:      c.Phase.String(),
		OpenedAt:   c.OpenedAt,
		PrevRoot:   c.Prev.Root,
		PrevLeaves: c.Prev.NLeaves,
		Attempts:   c.Attempts,
	}
	if c.Phase == PhaseOpen {
		st.LogEntries = c.Log.Len()
		st.LogUpdates = c.Log.TotalUpdates()
		st.LogDigest = c.Log.Digest()
		return st
	}
	st.LogEntries = len(c.Entries)
	st.LogUpdates = reputation.TotalUpdates(c.Entries)
	st.LogDigest = reputation.DigestOf(c.Entries)
	st.WindowStart = c.WindowStart
	st.SubmissionEnd = c.submissionEnd(cfg)
	st.CloseAt = c.closeAt(cfg)
	st.Ramp = cfg.EligibilityRamp
	for _, cand := range c.candidates {
		st.Candidates = append(st.Candidates, CandidateStatus{
			Index:      cand.Index,
			Root:       cand.State.Root,
			NLeaves:    cand.State.NLeaves,
			JRH:        cand.JRH,
			Submitters: append([]common.Address(nil), cand.Submitters...),
			Eliminated: cand.Eliminated,
		})
	}
	if c.bracket != nil {
		st.Round = c.bracket.round
	}
	return st
}
