package dispute

import (
	"fmt"
	"time"

	"repchain/native/reputation"
)

type reveal struct {
	at   reputation.State
	next reputation.State
}

// Pairing decides between two candidates that claim different results for
// the same cycle. Both sides first justify their claim, then the pairing
// narrows the range of steps where their justification trees disagree until
// a single step is left, which is replayed from a witness.
//
// While narrowing, the pairing keeps lo (a step count both sides agree on)
// and hi (one they disagree on). It first probes backwards from hi at
// doubling distances and switches to halving [lo, hi) once it has found
// agreement, so a divergence k steps before the end takes O(log k) rounds.
//
// A Pairing is not safe for concurrent use.
type Pairing struct {
	id       uint64
	params   Params
	claims   [2]Claim
	steps    uint64
	phase    Phase
	deadline time.Time

	justified [2]bool

	lo, hi    uint64
	loState   reputation.State
	hiStates  [2]reputation.State
	galloping bool
	gap       uint64
	probe     uint64
	reveals   [2]*reveal
	rounds    int

	divergence uint64
	step       reputation.Step

	result Result
}

// NewPairing opens a pairing between a and b. a must be the earlier
// submission.
func NewPairing(id uint64, params Params, a, b Claim, now time.Time) (*Pairing, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if a.State == b.State && a.JRH == b.JRH {
		return nil, ErrIdenticalClaims
	}
	p := &Pairing{
		id:     id,
		params: params,
		claims: [2]Claim{a, b},
		steps:  params.Plan.Len(),
	}
	if a.State == b.State {
		// Same result, different intermediate states: nothing to punish.
		p.resolve(OutcomeDuplicate, []Side{SideB}, false)
		return p, nil
	}
	p.phase = PhaseJustification
	p.deadline = now.Add(params.ResponseWindow)
	return p, nil
}

// ID returns the pairing identifier.
func (p *Pairing) ID() uint64 { return p.id }

// Phase returns the current phase.
func (p *Pairing) Phase() Phase { return p.phase }

// Claim returns the claim of side.
func (p *Pairing) Claim(side Side) Claim { return p.claims[side] }

// Deadline returns the current response deadline.
func (p *Pairing) Deadline() time.Time { return p.deadline }

// Probe returns the step count whose state and successor the current
// bisection round asks for.
func (p *Pairing) Probe() uint64 { return p.probe }

// Step returns the step under replay.
func (p *Pairing) Step() (reputation.Step, bool) {
	if p.phase != PhaseReplay && !(p.phase == PhaseResolved && p.result.Outcome == OutcomeReplayMismatch) {
		return reputation.Step{}, false
	}
	return p.step, true
}

// Result returns the outcome once the pairing is resolved.
func (p *Pairing) Result() (Result, bool) {
	if p.phase != PhaseResolved {
		return Result{}, false
	}
	out := p.result
	out.Losers = append([]Side(nil), p.result.Losers...)
	return out, true
}

// Tick resolves the pairing if the response deadline has passed. It reports
// whether this call resolved it.
func (p *Pairing) Tick(now time.Time) bool {
	if p.phase == PhaseResolved || now.Before(p.deadline) {
		return false
	}
	var losers []Side
	switch p.phase {
	case PhaseJustification:
		for _, s := range []Side{SideA, SideB} {
			if !p.justified[s] {
				losers = append(losers, s)
			}
		}
	case PhaseBisection:
		for _, s := range []Side{SideA, SideB} {
			if p.reveals[s] == nil {
				losers = append(losers, s)
			}
		}
	case PhaseReplay:
		losers = []Side{SideA, SideB}
	}
	p.resolve(OutcomeTimeout, losers, true)
	return true
}

// ConfirmJustification checks that side's justification tree starts at the
// previous canonical state and ends at the state it submitted.
func (p *Pairing) ConfirmJustification(side Side, first, last reputation.JustificationProof, now time.Time) error {
	if err := p.accept(side, PhaseJustification, now); err != nil {
		return err
	}
	if p.justified[side] {
		return ErrAlreadyResponded
	}
	claim := p.claims[side]
	if first.Index != 0 || first.State != p.params.Prev {
		return fmt.Errorf("%w: first state must be the previous canonical state", ErrInvalidProof)
	}
	if last.Index != p.steps || last.State != claim.State {
		return fmt.Errorf("%w: last state must be the submitted state after %d steps", ErrInvalidProof, p.steps)
	}
	for _, proof := range []reputation.JustificationProof{first, last} {
		if err := proof.Verify(claim.JRH); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
	}
	p.justified[side] = true
	if !p.justified[side.other()] {
		return nil
	}
	p.phase = PhaseBisection
	p.lo, p.loState = 0, p.params.Prev
	p.hi = p.steps
	p.hiStates = [2]reputation.State{p.claims[SideA].State, p.claims[SideB].State}
	p.galloping, p.gap = true, 1
	return p.next(now)
}

// RespondBisection records side's states after probe and probe+1 steps.
func (p *Pairing) RespondBisection(side Side, at, next reputation.JustificationProof, now time.Time) error {
	if err := p.accept(side, PhaseBisection, now); err != nil {
		return err
	}
	if p.reveals[side] != nil {
		return ErrAlreadyResponded
	}
	if at.Index != p.probe || next.Index != p.probe+1 {
		return fmt.Errorf("%w: expected states %d and %d", ErrInvalidProof, p.probe, p.probe+1)
	}
	jrh := p.claims[side].JRH
	for _, proof := range []reputation.JustificationProof{at, next} {
		if err := proof.Verify(jrh); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
	}
	p.reveals[side] = &reveal{at: at.State, next: next.State}
	if p.reveals[side.other()] == nil {
		return nil
	}
	a, b := p.reveals[SideA], p.reveals[SideB]
	switch {
	case a.at != b.at:
		p.hi = p.probe
		p.hiStates = [2]reputation.State{a.at, b.at}
		if p.galloping {
			p.gap *= 2
		}
	case a.next == b.next:
		p.lo, p.loState = p.probe+1, a.next
		p.galloping = false
	default:
		return p.enterReplay(p.probe, a.at, [2]reputation.State{a.next, b.next}, now)
	}
	return p.next(now)
}

// RespondReplay checks a witness for the pre-state of the divergent step and
// decides the pairing. Either side may supply it: a valid witness fixes the
// correct post-state, and every side that claimed something else loses.
func (p *Pairing) RespondReplay(side Side, w reputation.StepWitness, now time.Time) error {
	if err := p.accept(side, PhaseReplay, now); err != nil {
		return err
	}
	computed, err := reputation.ReplayStep(p.step, p.loState, w, p.params.Rate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	var losers []Side
	for _, s := range []Side{SideA, SideB} {
		if p.hiStates[s] != computed {
			losers = append(losers, s)
		}
	}
	p.resolve(OutcomeReplayMismatch, losers, true)
	return nil
}

// Status returns a snapshot for status queries.
func (p *Pairing) Status() Status {
	st := Status{
		ID:         p.id,
		Phase:      p.phase.String(),
		Candidates: [2]int{p.claims[SideA].Candidate, p.claims[SideB].Candidate},
		Lo:         p.lo,
		Hi:         p.hi,
		Probe:      p.probe,
		Divergence: p.divergence,
		Deadline:   p.deadline,
		Rounds:     p.rounds,
		Outcome:    p.result.Outcome.String(),
	}
	for _, s := range []Side{SideA, SideB} {
		switch p.phase {
		case PhaseJustification:
			if !p.justified[s] {
				st.Awaiting = append(st.Awaiting, s.String())
			}
		case PhaseBisection:
			if p.reveals[s] == nil {
				st.Awaiting = append(st.Awaiting, s.String())
			}
		case PhaseReplay:
			st.Awaiting = append(st.Awaiting, s.String())
		}
	}
	if step, ok := p.Step(); ok {
		st.Step = &StepSummary{Index: step.Index, Kind: step.Kind.String(), UID: step.UID}
		if step.Kind == reputation.StepUpdate {
			st.Step.Key = step.Key.String()
		}
	}
	return st
}

func (p *Pairing) accept(side Side, phase Phase, now time.Time) error {
	if !side.valid() {
		return ErrUnknownSide
	}
	p.Tick(now)
	if p.phase != phase {
		return fmt.Errorf("%w: pairing is in %s", ErrWrongPhase, p.phase)
	}
	return nil
}

// next opens the following bisection round, or the replay once a single step
// is left.
func (p *Pairing) next(now time.Time) error {
	if p.hi == p.lo+1 {
		return p.enterReplay(p.lo, p.loState, p.hiStates, now)
	}
	if p.galloping && p.hi-p.lo > p.gap {
		p.probe = p.hi - p.gap
	} else if p.galloping {
		p.probe = p.lo
	} else {
		p.probe = (p.lo + p.hi) / 2
	}
	p.reveals = [2]*reveal{}
	p.rounds++
	p.deadline = now.Add(p.params.ResponseWindow)
	return nil
}

func (p *Pairing) enterReplay(divergence uint64, pre reputation.State, posts [2]reputation.State, now time.Time) error {
	step, err := p.params.Plan.Step(divergence)
	if err != nil {
		return fmt.Errorf("dispute: resolve step %d: %w", divergence, err)
	}
	p.divergence = divergence
	p.step = step
	p.loState = pre
	p.hiStates = posts
	p.phase = PhaseReplay
	p.deadline = now.Add(p.params.ResponseWindow)
	return nil
}

func (p *Pairing) resolve(outcome Outcome, losers []Side, slash bool) {
	p.phase = PhaseResolved
	p.result = Result{
		Outcome:    outcome,
		Losers:     losers,
		Slash:      slash,
		Divergence: p.divergence,
		Rounds:     p.rounds,
	}
	if len(losers) == 1 {
		p.result.Winner = losers[0].other()
		p.result.HasWinner = true
	}
}
