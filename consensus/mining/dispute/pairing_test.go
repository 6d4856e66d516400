package dispute

import (
	"errors"
	"math/big"
	"math/bits"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"repchain/native/reputation"
)

const window = time.Minute

var start = time.Unix(1_700_000_000, 0)

type linearPlan struct {
	n uint64
}

func (l linearPlan) Len() uint64 { return l.n }

func (l linearPlan) Step(i uint64) (reputation.Step, error) {
	if i >= l.n {
		return reputation.Step{}, reputation.ErrStepOutOfRange
	}
	return reputation.Step{Index: i, Kind: reputation.StepUpdate, Delta: big.NewInt(1)}, nil
}

// syntheticStates returns n+1 states; when fork is set every state after k
// steps differs from the unforked sequence.
func syntheticStates(n, k uint64, fork bool) []reputation.State {
	states := make([]reputation.State, n+1)
	for i := range states {
		tag := []byte("honest")
		if fork && uint64(i) > k {
			tag = []byte("forked")
		}
		states[i] = reputation.State{
			Root:    crypto.Keccak256Hash(tag, big.NewInt(int64(i)).Bytes()),
			NLeaves: uint64(i),
		}
	}
	return states
}

func claimFor(candidate int, j *reputation.Justification) Claim {
	final, _ := j.State(j.Len() - 1)
	return Claim{Candidate: candidate, State: final, JRH: j.Root()}
}

func justify(t *testing.T, p *Pairing, side Side, j *reputation.Justification, now time.Time) {
	t.Helper()
	first, err := j.Proof(0)
	if err != nil {
		t.Fatalf("first proof: %v", err)
	}
	last, err := j.Proof(j.Len() - 1)
	if err != nil {
		t.Fatalf("last proof: %v", err)
	}
	if err := p.ConfirmJustification(side, first, last, now); err != nil {
		t.Fatalf("justify %s: %v", side, err)
	}
}

func bisect(t *testing.T, p *Pairing, sides [2]*reputation.Justification, now time.Time) {
	t.Helper()
	for p.Phase() == PhaseBisection {
		probe := p.Probe()
		for _, s := range []Side{SideA, SideB} {
			at, err := sides[s].Proof(probe)
			if err != nil {
				t.Fatalf("proof at %d: %v", probe, err)
			}
			next, err := sides[s].Proof(probe + 1)
			if err != nil {
				t.Fatalf("proof at %d: %v", probe+1, err)
			}
			if err := p.RespondBisection(s, at, next, now); err != nil {
				t.Fatalf("bisection %s at %d: %v", s, probe, err)
			}
		}
	}
}

func TestBisectionFindsDivergence(t *testing.T) {
	cases := []struct{ n, k uint64 }{
		{1, 0},
		{2, 1},
		{1000, 0},
		{1000, 1},
		{1000, 500},
		{1000, 998},
		{1000, 999},
		{4097, 4000},
	}
	for _, tc := range cases {
		prev := syntheticStates(tc.n, 0, false)[0]
		honest := reputation.NewJustification(syntheticStates(tc.n, tc.k, false))
		forked := reputation.NewJustification(syntheticStates(tc.n, tc.k, true))
		params := Params{Prev: prev, Plan: linearPlan{n: tc.n}, Rate: reputation.DefaultDecayRate, ResponseWindow: window}

		p, err := NewPairing(1, params, claimFor(0, honest), claimFor(1, forked), start)
		if err != nil {
			t.Fatalf("n=%d k=%d: new pairing: %v", tc.n, tc.k, err)
		}
		justify(t, p, SideA, honest, start)
		justify(t, p, SideB, forked, start)
		bisect(t, p, [2]*reputation.Justification{honest, forked}, start)

		if p.Phase() != PhaseReplay {
			t.Fatalf("n=%d k=%d: expected replay phase, got %s", tc.n, tc.k, p.Phase())
		}
		step, _ := p.Step()
		if step.Index != tc.k {
			t.Fatalf("n=%d k=%d: divergence at %d", tc.n, tc.k, step.Index)
		}
		bound := 2*bits.Len64(tc.n-tc.k) + 2
		if rounds := p.Status().Rounds; rounds > bound {
			t.Fatalf("n=%d k=%d: %d rounds exceeds %d", tc.n, tc.k, rounds, bound)
		}
	}
}

func TestJustificationRejectsWrongEndpoints(t *testing.T) {
	prev := syntheticStates(8, 0, false)[0]
	honest := reputation.NewJustification(syntheticStates(8, 3, false))
	forked := reputation.NewJustification(syntheticStates(8, 3, true))
	params := Params{Prev: prev, Plan: linearPlan{n: 8}, Rate: reputation.DefaultDecayRate, ResponseWindow: window}
	p, err := NewPairing(1, params, claimFor(0, honest), claimFor(1, forked), start)
	if err != nil {
		t.Fatalf("new pairing: %v", err)
	}

	first, _ := honest.Proof(0)
	mid, _ := honest.Proof(4)
	if err := p.ConfirmJustification(SideA, first, mid, start); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof for short justification, got %v", err)
	}
	last, _ := honest.Proof(8)
	if err := p.ConfirmJustification(SideB, first, last, start); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof for foreign proofs, got %v", err)
	}
	if err := p.ConfirmJustification(Side(5), first, last, start); !errors.Is(err, ErrUnknownSide) {
		t.Fatalf("expected ErrUnknownSide, got %v", err)
	}
	if p.Phase() != PhaseJustification {
		t.Fatalf("rejected proofs must not advance the pairing")
	}
}

func TestMissingResponsesLose(t *testing.T) {
	prev := syntheticStates(16, 0, false)[0]
	honest := reputation.NewJustification(syntheticStates(16, 5, false))
	forked := reputation.NewJustification(syntheticStates(16, 5, true))
	params := Params{Prev: prev, Plan: linearPlan{n: 16}, Rate: reputation.DefaultDecayRate, ResponseWindow: window}

	t.Run("one side silent", func(t *testing.T) {
		p, err := NewPairing(1, params, claimFor(0, honest), claimFor(1, forked), start)
		if err != nil {
			t.Fatalf("new pairing: %v", err)
		}
		justify(t, p, SideB, forked, start)
		if p.Tick(start.Add(window / 2)) {
			t.Fatalf("pairing resolved before the deadline")
		}
		if !p.Tick(start.Add(window)) {
			t.Fatalf("pairing must resolve at the deadline")
		}
		res, ok := p.Result()
		if !ok || res.Outcome != OutcomeTimeout || !res.HasWinner || res.Winner != SideB {
			t.Fatalf("unexpected result %+v", res)
		}
		if !res.Slash || len(res.Losers) != 1 || res.Losers[0] != SideA {
			t.Fatalf("silent side must be slashed: %+v", res)
		}
	})

	t.Run("both silent", func(t *testing.T) {
		p, err := NewPairing(2, params, claimFor(0, honest), claimFor(1, forked), start)
		if err != nil {
			t.Fatalf("new pairing: %v", err)
		}
		p.Tick(start.Add(2 * window))
		res, ok := p.Result()
		if !ok || res.HasWinner || len(res.Losers) != 2 {
			t.Fatalf("both sides must lose: %+v", res)
		}
	})

	t.Run("silent during bisection", func(t *testing.T) {
		p, err := NewPairing(3, params, claimFor(0, honest), claimFor(1, forked), start)
		if err != nil {
			t.Fatalf("new pairing: %v", err)
		}
		justify(t, p, SideA, honest, start)
		justify(t, p, SideB, forked, start)
		at, _ := honest.Proof(p.Probe())
		next, _ := honest.Proof(p.Probe() + 1)
		if err := p.RespondBisection(SideA, at, next, start); err != nil {
			t.Fatalf("respond: %v", err)
		}
		if err := p.RespondBisection(SideA, at, next, start); !errors.Is(err, ErrAlreadyResponded) {
			t.Fatalf("expected ErrAlreadyResponded, got %v", err)
		}
		late := start.Add(window + time.Second)
		if err := p.RespondBisection(SideB, at, next, late); !errors.Is(err, ErrWrongPhase) {
			t.Fatalf("late answer must be refused, got %v", err)
		}
		res, _ := p.Result()
		if res.Winner != SideA || res.Outcome != OutcomeTimeout {
			t.Fatalf("unexpected result %+v", res)
		}
	})
}

func TestEqualFinalStatesDropLaterCandidate(t *testing.T) {
	states := syntheticStates(6, 0, false)
	a := reputation.NewJustification(states)
	detour := append([]reputation.State(nil), states...)
	detour[3].Root = common.Hash{0xde}
	b := reputation.NewJustification(detour)
	params := Params{Prev: states[0], Plan: linearPlan{n: 6}, Rate: reputation.DefaultDecayRate, ResponseWindow: window}

	p, err := NewPairing(1, params, claimFor(0, a), claimFor(1, b), start)
	if err != nil {
		t.Fatalf("new pairing: %v", err)
	}
	res, ok := p.Result()
	if !ok || res.Outcome != OutcomeDuplicate || res.Slash {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Winner != SideA || len(res.Losers) != 1 || res.Losers[0] != SideB {
		t.Fatalf("later candidate must be dropped: %+v", res)
	}

	if _, err := NewPairing(2, params, claimFor(0, a), claimFor(1, a), start); !errors.Is(err, ErrIdenticalClaims) {
		t.Fatalf("expected ErrIdenticalClaims, got %v", err)
	}
}

func TestReplayConvictsFaultyMiner(t *testing.T) {
	colony := common.HexToAddress("0x00000000000000000000000000000000000c0101")
	user := common.HexToAddress("0x000000000000000000000000000000000000a11c")
	skills := reputation.NewStaticSkillTree(1)
	if err := skills.Add(2, 1); err != nil {
		t.Fatalf("add skill: %v", err)
	}

	prev := reputation.NewTrie()
	prev.Put(reputation.Key{Colony: colony, Skill: 1}, reputation.Entry{Amount: big.NewInt(1000), UID: 1, NUpdates: 1})
	prev.Put(reputation.Key{Colony: colony, Skill: 1, User: user}, reputation.Entry{Amount: big.NewInt(1000), UID: 2, NUpdates: 1})

	log := reputation.NewUpdateLog()
	for _, amount := range []int64{10, 20, 30} {
		if _, err := log.AppendUpdate(colony, 2, user, big.NewInt(amount), skills); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries := log.Entries()
	faultyEntries := log.Entries()
	faultyEntries[1].Amount = big.NewInt(21)

	rate := reputation.DefaultDecayRate
	honest, err := reputation.Replay(prev, entries, rate, skills)
	if err != nil {
		t.Fatalf("honest replay: %v", err)
	}
	faulty, err := reputation.Replay(prev, faultyEntries, rate, skills)
	if err != nil {
		t.Fatalf("faulty replay: %v", err)
	}
	honestJ := reputation.NewJustification(honest.States())
	faultyJ := reputation.NewJustification(faulty.States())

	plan := reputation.NewStepPlan(prev.Len(), entries, skills)
	params := Params{Prev: prev.State(), Plan: plan, Rate: rate, ResponseWindow: window}

	for _, answering := range []Side{SideA, SideB} {
		// faulty submitted first, so it is side A.
		p, err := NewPairing(1, params, claimFor(0, faultyJ), claimFor(1, honestJ), start)
		if err != nil {
			t.Fatalf("new pairing: %v", err)
		}
		justify(t, p, SideA, faultyJ, start)
		justify(t, p, SideB, honestJ, start)
		bisect(t, p, [2]*reputation.Justification{faultyJ, honestJ}, start)

		step, ok := p.Step()
		if !ok {
			t.Fatalf("expected replay phase, got %s", p.Phase())
		}
		// two decay steps, then four updates per entry.
		if step.Index != 2+4 {
			t.Fatalf("divergence at %d", step.Index)
		}
		replayer := honest
		if answering == SideA {
			replayer = faulty
		}
		w, err := replayer.Witness(step)
		if err != nil {
			t.Fatalf("witness: %v", err)
		}
		if err := p.RespondReplay(answering, w, start); err != nil {
			t.Fatalf("replay: %v", err)
		}
		res, _ := p.Result()
		if res.Outcome != OutcomeReplayMismatch || !res.HasWinner || res.Winner != SideB || !res.Slash {
			t.Fatalf("answering %s: unexpected result %+v", answering, res)
		}
	}
}

func maskBit(mask [32]byte, depth int) int {
	return int(mask[depth>>3]>>(7-uint(depth&7))) & 1
}

func flipMaskBit(mask *[32]byte, depth int) {
	mask[depth>>3] ^= 1 << (7 - uint(depth&7))
}

func TestForgedInsertionWitnessIsRefused(t *testing.T) {
	colony := common.HexToAddress("0x00000000000000000000000000000000000c0101")
	user := common.HexToAddress("0x000000000000000000000000000000000000a11c")
	skills := reputation.NewStaticSkillTree(1)
	if err := skills.Add(2, 1); err != nil {
		t.Fatalf("add skill: %v", err)
	}

	prev := reputation.NewTrie()
	prev.Put(reputation.Key{Colony: colony, Skill: 1}, reputation.Entry{Amount: big.NewInt(1000), UID: 1, NUpdates: 1})
	prev.Put(reputation.Key{Colony: colony, Skill: 1, User: user}, reputation.Entry{Amount: big.NewInt(1000), UID: 2, NUpdates: 1})

	log := reputation.NewUpdateLog()
	if _, err := log.AppendUpdate(colony, 2, user, big.NewInt(10), skills); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries := log.Entries()
	lying := log.Entries()
	lying[0].Amount = big.NewInt(11)

	rate := reputation.DefaultDecayRate
	honest, err := reputation.Replay(prev, entries, rate, skills)
	if err != nil {
		t.Fatalf("honest replay: %v", err)
	}
	liar, err := reputation.Replay(prev, lying, rate, skills)
	if err != nil {
		t.Fatalf("lying replay: %v", err)
	}
	honestJ := reputation.NewJustification(honest.States())
	liarJ := reputation.NewJustification(liar.States())

	plan := reputation.NewStepPlan(prev.Len(), entries, skills)
	params := Params{Prev: prev.State(), Plan: plan, Rate: rate, ResponseWindow: window}
	p, err := NewPairing(1, params, claimFor(0, liarJ), claimFor(1, honestJ), start)
	if err != nil {
		t.Fatalf("new pairing: %v", err)
	}
	justify(t, p, SideA, liarJ, start)
	justify(t, p, SideB, honestJ, start)
	bisect(t, p, [2]*reputation.Justification{liarJ, honestJ}, start)

	step, ok := p.Step()
	if !ok {
		t.Fatalf("expected replay phase, got %s", p.Phase())
	}
	w, err := honest.Witness(step)
	if err != nil {
		t.Fatalf("witness: %v", err)
	}
	if w.Exists {
		t.Fatalf("step %d should create a leaf", step.Index)
	}

	// Move one mask bit across the divergence depth of the new key, keeping the
	// neighbor's path bit, so the siblings would fold on the wrong side of the
	// insertion point.
	path := reputation.PathOf(step.Key.Encode())
	neighborPath := reputation.PathOf(w.Proof.Key)
	split := 0
	for maskBit(path, split) == maskBit(neighborPath, split) {
		split++
	}
	mask := w.Proof.BranchMask.Bytes32()
	from, to := -1, -1
	// Prefer a move across the split; with nothing above it any free depth
	// with the same path bit still yields a mask the trie never had.
	for _, across := range []bool{true, false} {
		for d := 0; d < 256 && to < 0; d++ {
			if maskBit(mask, d) == 0 {
				continue
			}
			for e := 0; e < 256; e++ {
				if e == split || maskBit(mask, e) == 1 || maskBit(neighborPath, e) != maskBit(neighborPath, d) {
					continue
				}
				if across && (e > split) == (d > split) {
					continue
				}
				from, to = d, e
				break
			}
		}
	}
	if to < 0 {
		t.Fatalf("no mask bit to move")
	}
	flipMaskBit(&mask, from)
	flipMaskBit(&mask, to)
	forged := w
	forged.Proof.Siblings = append([]common.Hash(nil), w.Proof.Siblings...)
	forged.Proof.BranchMask.SetBytes32(mask[:])

	if err := p.RespondReplay(SideA, forged, start); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("forged witness must be refused, got %v", err)
	}
	if p.Phase() != PhaseReplay {
		t.Fatalf("refused witness must not decide the pairing")
	}
	if err := p.RespondReplay(SideB, w, start); err != nil {
		t.Fatalf("replay: %v", err)
	}
	res, _ := p.Result()
	if res.Outcome != OutcomeReplayMismatch || res.Winner != SideB || len(res.Losers) != 1 || res.Losers[0] != SideA {
		t.Fatalf("honest side must win: %+v", res)
	}
}
