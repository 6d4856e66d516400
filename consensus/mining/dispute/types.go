package dispute

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"repchain/native/reputation"
)

var (
	// ErrInvalidProof is returned for responses whose proofs do not check
	// out. The caller may retry until the response deadline.
	ErrInvalidProof = errors.New("dispute: invalid proof")
	// ErrWrongPhase is returned when a response does not fit the current phase.
	ErrWrongPhase = errors.New("dispute: wrong phase")
	// ErrAlreadyResponded is returned when a side answers the same query twice.
	ErrAlreadyResponded = errors.New("dispute: already responded")
	// ErrUnknownSide is returned for sides other than SideA and SideB.
	ErrUnknownSide = errors.New("dispute: unknown side")
	// ErrIdenticalClaims is returned when a pairing is opened between two
	// identical candidates.
	ErrIdenticalClaims = errors.New("dispute: candidates are identical")
)

// Side identifies one of the two candidates of a pairing.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) valid() bool {
	return s == SideA || s == SideB
}

func (s Side) other() Side {
	return 1 - s
}

func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Phase is the stage a pairing is in.
type Phase uint8

const (
	PhaseJustification Phase = iota + 1
	PhaseBisection
	PhaseReplay
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseJustification:
		return "justification"
	case PhaseBisection:
		return "bisection"
	case PhaseReplay:
		return "replay"
	case PhaseResolved:
		return "resolved"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Outcome records how a pairing was decided.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	// OutcomeReplayMismatch means the single-step replay contradicted the
	// losing side's claimed post-state.
	OutcomeReplayMismatch
	// OutcomeTimeout means at least one side missed a response deadline.
	OutcomeTimeout
	// OutcomeDuplicate means both candidates claim the same final state and
	// only their justification roots differ.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeReplayMismatch:
		return "replay_mismatch"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Claim is what one candidate committed to at submission time.
type Claim struct {
	Candidate int
	State     reputation.State
	JRH       common.Hash
}

// Plan resolves step indices of the cycle under dispute.
type Plan interface {
	Len() uint64
	Step(i uint64) (reputation.Step, error)
}

// Params are the cycle facts both sides are judged against.
type Params struct {
	Prev           reputation.State
	Plan           Plan
	Rate           reputation.DecayRate
	ResponseWindow time.Duration
}

func (p Params) validate() error {
	if p.Plan == nil {
		return errors.New("dispute: step plan required")
	}
	if p.ResponseWindow <= 0 {
		return errors.New("dispute: response window must be positive")
	}
	return p.Rate.Validate()
}

// Result summarises a resolved pairing.
type Result struct {
	Outcome Outcome
	// Winner is the surviving side; HasWinner is false when both lost.
	Winner    Side
	HasWinner bool
	Losers    []Side
	// Slash is false when losers are dropped without penalty.
	Slash      bool
	Divergence uint64
	Rounds     int
}

// Status is the externally visible view of a pairing.
type Status struct {
	ID         uint64       `json:"id"`
	Phase      string       `json:"phase"`
	Candidates [2]int       `json:"candidates"`
	Lo         uint64       `json:"lo"`
	Hi         uint64       `json:"hi"`
	Probe      uint64       `json:"probe"`
	Divergence uint64       `json:"divergence"`
	Deadline   time.Time    `json:"deadline"`
	Awaiting   []string     `json:"awaiting,omitempty"`
	Rounds     int          `json:"rounds"`
	Outcome    string       `json:"outcome"`
	Step       *StepSummary `json:"step,omitempty"`
}

// StepSummary describes the step under replay.
type StepSummary struct {
	Index uint64 `json:"index"`
	Kind  string `json:"kind"`
	UID   uint64 `json:"uid,omitempty"`
	Key   string `json:"key,omitempty"`
}
