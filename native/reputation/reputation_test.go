package reputation

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testColony = common.HexToAddress("0x00000000000000000000000000000000000c0101")
	alice      = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// testSkills is root skill 1 with child 2 and grandchild 3.
func testSkills(t *testing.T) *StaticSkillTree {
	t.Helper()
	tree := NewStaticSkillTree(1)
	if err := tree.Add(2, 1); err != nil {
		t.Fatalf("add skill 2: %v", err)
	}
	if err := tree.Add(3, 2); err != nil {
		t.Fatalf("add skill 3: %v", err)
	}
	return tree
}

type seed struct {
	key    Key
	amount int64
}

// seededTrie builds a trie whose leaves get UIDs in slice order.
func seededTrie(seeds []seed) *Trie {
	tr := NewTrie()
	for i, s := range seeds {
		tr.Put(s.key, Entry{Amount: big.NewInt(s.amount), UID: uint64(i + 1), NUpdates: 1})
	}
	return tr
}

func TestKeyEncoding(t *testing.T) {
	user := Key{Colony: testColony, Skill: 7, User: alice}
	raw := user.Encode()
	if len(raw) != userKeyLen {
		t.Fatalf("user key length: got %d", len(raw))
	}
	decoded, err := DecodeKey(raw)
	if err != nil || decoded != user {
		t.Fatalf("decode user key: %v %v", decoded, err)
	}

	colonyWide := Key{Colony: testColony, Skill: 7}
	if got := len(colonyWide.Encode()); got != colonyKeyLen {
		t.Fatalf("colony key length: got %d", got)
	}
	if PathOf(raw) == PathOf(colonyWide.Encode()) {
		t.Fatalf("user and colony-wide keys must map to different paths")
	}

	if _, err := DecodeKey(raw[:30]); !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("expected ErrMalformedKey, got %v", err)
	}
	zeroUser := append(colonyWide.Encode(), make([]byte, 20)...)
	if _, err := DecodeKey(zeroUser); !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("explicit zero user must be rejected, got %v", err)
	}
}

func TestAmountWordIsTwosComplement(t *testing.T) {
	word := EncodeAmount(big.NewInt(-1))
	for i, b := range word {
		if b != 0xff {
			t.Fatalf("byte %d of -1: got %x", i, b)
		}
	}
	got, err := DecodeAmount(word[:])
	if err != nil || got.Cmp(big.NewInt(-1)) != 0 {
		t.Fatalf("decode -1: %v %v", got, err)
	}

	var tooLarge [32]byte
	tooLarge[16] = 0x80 // 2^127
	if _, err := DecodeAmount(tooLarge[:]); !errors.Is(err, ErrMalformedValue) {
		t.Fatalf("expected out of range word to be rejected, got %v", err)
	}
}

func TestClampSaturates(t *testing.T) {
	near := new(big.Int).Sub(MaxAmount, big.NewInt(5))
	if got := AddClamped(near, big.NewInt(100)); got.Cmp(MaxAmount) != 0 {
		t.Fatalf("expected saturation at max, got %s", got)
	}
	low := new(big.Int).Add(MinAmount, big.NewInt(5))
	if got := AddClamped(low, big.NewInt(-100)); got.Cmp(MinAmount) != 0 {
		t.Fatalf("expected saturation at min, got %s", got)
	}
	if got := AddClamped(big.NewInt(10), big.NewInt(-4)); got.Int64() != 6 {
		t.Fatalf("plain add: got %s", got)
	}
}

func TestDecayRoundsTowardZero(t *testing.T) {
	half := DecayRate{Numerator: 1, Denominator: 2}
	if got := half.Decay(big.NewInt(3)); got.Int64() != 1 {
		t.Fatalf("decay(3): got %s", got)
	}
	if got := half.Decay(big.NewInt(-3)); got.Int64() != -1 {
		t.Fatalf("decay(-3): got %s", got)
	}
	if err := (DecayRate{Numerator: 3, Denominator: 2}).Validate(); err == nil {
		t.Fatalf("expected growing rate to be rejected")
	}
	if err := DefaultDecayRate.Validate(); err != nil {
		t.Fatalf("default rate: %v", err)
	}
}

func TestUpdateLogBookkeeping(t *testing.T) {
	skills := testSkills(t)
	log := NewUpdateLog()

	first, err := log.AppendUpdate(testColony, 3, alice, big.NewInt(50), skills)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.NUpdates != 6 || first.NPreviousUpdates != 0 {
		t.Fatalf("unexpected counts %d/%d", first.NUpdates, first.NPreviousUpdates)
	}
	second, err := log.AppendUpdate(testColony, 1, common.Address{}, big.NewInt(5), skills)
	if err != nil {
		t.Fatalf("append colony-wide: %v", err)
	}
	if second.NUpdates != 1 || second.NPreviousUpdates != 6 {
		t.Fatalf("unexpected counts %d/%d", second.NUpdates, second.NPreviousUpdates)
	}
	if log.TotalUpdates() != 7 {
		t.Fatalf("total updates: got %d", log.TotalUpdates())
	}

	stale := first.Clone()
	if err := log.Append(stale); !errors.Is(err, ErrStaleLogEntry) {
		t.Fatalf("expected ErrStaleLogEntry, got %v", err)
	}
	gap := second.Clone()
	gap.NPreviousUpdates = 100
	if err := log.Append(gap); !errors.Is(err, ErrLogGap) {
		t.Fatalf("expected ErrLogGap, got %v", err)
	}

	entries := log.Entries()
	if DigestOf(entries) != log.Digest() {
		t.Fatalf("digest chain mismatch")
	}
	entries[1].Amount = big.NewInt(6)
	if DigestOf(entries) == log.Digest() {
		t.Fatalf("digest must change when an entry changes")
	}

	idx, sub, ok := Locate(log.Entries(), 6)
	if !ok || idx != 1 || sub != 0 {
		t.Fatalf("locate 6: %d %d %v", idx, sub, ok)
	}
	if _, _, ok := Locate(log.Entries(), 7); ok {
		t.Fatalf("locate past end must fail")
	}
}

func TestUpdateKeyOrder(t *testing.T) {
	skills := testSkills(t)
	parents, err := skills.Parents(3)
	if err != nil {
		t.Fatalf("parents: %v", err)
	}
	entry := LogEntry{User: alice, Amount: big.NewInt(1), Skill: 3, Colony: testColony, NUpdates: 6}
	want := []Key{
		{Colony: testColony, Skill: 3},
		{Colony: testColony, Skill: 2},
		{Colony: testColony, Skill: 1},
		{Colony: testColony, Skill: 3, User: alice},
		{Colony: testColony, Skill: 2, User: alice},
		{Colony: testColony, Skill: 1, User: alice},
	}
	for sub, w := range want {
		got, err := entry.UpdateKey(uint64(sub), parents)
		if err != nil {
			t.Fatalf("update %d: %v", sub, err)
		}
		if got != w {
			t.Fatalf("update %d: got %s want %s", sub, got, w)
		}
	}
	entry.NUpdates = 4
	if _, err := entry.UpdateKey(0, parents); !errors.Is(err, ErrSkillMismatch) {
		t.Fatalf("expected ErrSkillMismatch, got %v", err)
	}
}

func TestDecayIsUnconditional(t *testing.T) {
	rate := DecayRate{Numerator: 9, Denominator: 10}
	seeds := []seed{
		{Key{Colony: testColony, Skill: 1}, 1000},
		{Key{Colony: testColony, Skill: 1, User: alice}, 700},
		{Key{Colony: testColony, Skill: 1, User: bob}, -300},
	}
	prev := seededTrie(seeds)
	r, err := Replay(prev, nil, rate, testSkills(t))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if r.State().Root == prev.RootHash() {
		t.Fatalf("empty log must still change the root")
	}
	if r.State().NLeaves != 3 {
		t.Fatalf("leaf count changed: %d", r.State().NLeaves)
	}
	for _, s := range seeds {
		entry, ok, err := r.Trie().Entry(s.key)
		if err != nil || !ok {
			t.Fatalf("entry %s: %v %v", s.key, ok, err)
		}
		want := rate.Decay(big.NewInt(s.amount))
		if entry.Amount.Cmp(want) != 0 {
			t.Fatalf("%s: got %s want %s", s.key, entry.Amount, want)
		}
		if entry.NUpdates != 2 {
			t.Fatalf("%s: nUpdates %d", s.key, entry.NUpdates)
		}
	}
	if prev.Len() != 3 {
		t.Fatalf("previous trie mutated")
	}
}

func TestReplayAppliesLogInOrder(t *testing.T) {
	skills := testSkills(t)
	log := NewUpdateLog()
	if _, err := log.AppendUpdate(testColony, 2, alice, big.NewInt(40), skills); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := log.AppendUpdate(testColony, 2, bob, big.NewInt(-10), skills); err != nil {
		t.Fatalf("append: %v", err)
	}

	r, err := Replay(NewTrie(), log.Entries(), DefaultDecayRate, skills)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	// colony/2, colony/1, alice/2, alice/1, bob/2, bob/1
	if r.State().NLeaves != 6 {
		t.Fatalf("leaves: got %d", r.State().NLeaves)
	}
	total, ok, _ := r.Trie().Entry(Key{Colony: testColony, Skill: 1})
	if !ok || total.Amount.Int64() != 30 || total.NUpdates != 2 || total.UID != 2 {
		t.Fatalf("colony total: %+v", total)
	}
	bobLeaf, ok, _ := r.Trie().Entry(Key{Colony: testColony, Skill: 1, User: bob})
	if !ok || bobLeaf.Amount.Int64() != -10 || bobLeaf.UID != 6 {
		t.Fatalf("bob: %+v", bobLeaf)
	}
	if got := uint64(len(r.States())); got != TotalSteps(0, log.Entries())+1 {
		t.Fatalf("states: got %d", got)
	}

	if err := r.Apply(log.Entries()[0]); !errors.Is(err, ErrStaleLogEntry) {
		t.Fatalf("expected stale entry rejection, got %v", err)
	}
}

func TestReplayClampsAtBound(t *testing.T) {
	key := Key{Colony: testColony, Skill: 1, User: alice}
	prev := NewTrie()
	prev.Put(Key{Colony: testColony, Skill: 1}, Entry{Amount: new(big.Int).Set(MaxAmount), UID: 1, NUpdates: 1})
	prev.Put(key, Entry{Amount: new(big.Int).Set(MaxAmount), UID: 2, NUpdates: 1})

	log := NewUpdateLog()
	if _, err := log.AppendUpdate(testColony, 1, alice, MaxAmount, testSkills(t)); err != nil {
		t.Fatalf("append: %v", err)
	}
	r, err := Replay(prev, log.Entries(), DecayRate{Numerator: 1, Denominator: 1}, testSkills(t))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	entry, _, _ := r.Trie().Entry(key)
	if entry.Amount.Cmp(MaxAmount) != 0 {
		t.Fatalf("expected saturation, got %s", entry.Amount)
	}
}

func TestDecayOrderChangesRoot(t *testing.T) {
	skills := testSkills(t)
	big18 := int64(1_000_000_000_000_000_000)
	prev := seededTrie([]seed{
		{Key{Colony: testColony, Skill: 1}, big18},
		{Key{Colony: testColony, Skill: 1, User: alice}, big18},
	})
	log := NewUpdateLog()
	if _, err := log.AppendUpdate(testColony, 1, alice, big.NewInt(big18), skills); err != nil {
		t.Fatalf("append: %v", err)
	}

	correct, err := Replay(prev, log.Entries(), DefaultDecayRate, skills)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	late, err := NewReplayer(prev, DefaultDecayRate, skills)
	if err != nil {
		t.Fatalf("replayer: %v", err)
	}
	if err := late.ApplyAll(log.Entries()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := late.Decay(); err != nil {
		t.Fatalf("decay: %v", err)
	}

	if correct.State() == late.State() {
		t.Fatalf("decay order must change the final state")
	}
	a, b := correct.States(), late.States()
	if len(a) != len(b) {
		t.Fatalf("step counts differ: %d vs %d", len(a), len(b))
	}
	first := -1
	for i := range a {
		if a[i] != b[i] {
			first = i
			break
		}
	}
	// states[i] is the state after i steps, so a first mismatch at 1 means
	// step 0 (the first decay) is where the replays diverge.
	if first != 1 {
		t.Fatalf("expected divergence after step 0, got state %d", first)
	}
}

func TestReplayStepMatchesEveryStep(t *testing.T) {
	skills := testSkills(t)
	prev := seededTrie([]seed{
		{Key{Colony: testColony, Skill: 1}, 500},
		{Key{Colony: testColony, Skill: 2}, 400},
		{Key{Colony: testColony, Skill: 2, User: bob}, 400},
	})
	log := NewUpdateLog()
	if _, err := log.AppendUpdate(testColony, 3, alice, big.NewInt(25), skills); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := log.AppendUpdate(testColony, 2, bob, big.NewInt(-900), skills); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries := log.Entries()
	rate := DefaultDecayRate

	r, err := Replay(prev, entries, rate, skills)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	states := r.States()
	total := TotalSteps(prev.Len(), entries)
	for i := uint64(0); i < total; i++ {
		step, err := StepTarget(i, prev.Len(), entries, skills)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		w, err := r.Witness(step)
		if err != nil {
			t.Fatalf("witness %d: %v", i, err)
		}
		post, err := ReplayStep(step, states[i], w, rate)
		if err != nil {
			t.Fatalf("replay step %d (%s): %v", i, step.Kind, err)
		}
		if post != states[i+1] {
			t.Fatalf("step %d: got %s want %s", i, post, states[i+1])
		}
	}
	if _, err := StepTarget(total, prev.Len(), entries, skills); !errors.Is(err, ErrStepOutOfRange) {
		t.Fatalf("expected ErrStepOutOfRange, got %v", err)
	}
}

func TestReplayStepFromEmptyTrie(t *testing.T) {
	skills := testSkills(t)
	log := NewUpdateLog()
	if _, err := log.AppendUpdate(testColony, 1, common.Address{}, big.NewInt(9), skills); err != nil {
		t.Fatalf("append: %v", err)
	}
	r, err := Replay(nil, log.Entries(), DefaultDecayRate, skills)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	step, err := StepTarget(0, 0, log.Entries(), skills)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	w, err := r.Witness(step)
	if err != nil {
		t.Fatalf("witness: %v", err)
	}
	post, err := ReplayStep(step, r.States()[0], w, DefaultDecayRate)
	if err != nil {
		t.Fatalf("replay step: %v", err)
	}
	if post != r.State() {
		t.Fatalf("got %s want %s", post, r.State())
	}
}

func TestReplayStepRejectsForeignProof(t *testing.T) {
	prev := seededTrie([]seed{
		{Key{Colony: testColony, Skill: 1}, 500},
		{Key{Colony: testColony, Skill: 1, User: bob}, 400},
	})
	step := Step{Index: 2, Kind: StepUpdate, Key: Key{Colony: testColony, Skill: 1}, Delta: big.NewInt(1)}
	other, err := prev.Proof(Key{Colony: testColony, Skill: 1, User: bob}.Encode())
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	_, err = ReplayStep(step, prev.State(), StepWitness{Exists: true, Proof: other}, DefaultDecayRate)
	if !errors.Is(err, ErrInvalidWitness) {
		t.Fatalf("expected ErrInvalidWitness, got %v", err)
	}

	decay := Step{Index: 0, Kind: StepDecay, UID: 1}
	_, err = ReplayStep(decay, prev.State(), StepWitness{Exists: true, Proof: other}, DefaultDecayRate)
	if !errors.Is(err, ErrWrongLeaf) {
		t.Fatalf("expected ErrWrongLeaf, got %v", err)
	}
}

func TestJustificationProofs(t *testing.T) {
	skills := testSkills(t)
	log := NewUpdateLog()
	if _, err := log.AppendUpdate(testColony, 2, alice, big.NewInt(3), skills); err != nil {
		t.Fatalf("append: %v", err)
	}
	r, err := Replay(nil, log.Entries(), DefaultDecayRate, skills)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	j := NewJustification(r.States())
	for i := uint64(0); i < j.Len(); i++ {
		p, err := j.Proof(i)
		if err != nil {
			t.Fatalf("proof %d: %v", i, err)
		}
		if err := p.Verify(j.Root()); err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
		forged := p
		forged.State.NLeaves++
		if err := forged.Verify(j.Root()); !errors.Is(err, ErrJustificationMismatch) {
			t.Fatalf("forged state %d accepted: %v", i, err)
		}
	}
	first, _ := j.State(0)
	if first.NLeaves != 0 {
		t.Fatalf("leaf 0 must be the previous state")
	}
	last, _ := j.State(j.Len() - 1)
	if last != r.State() {
		t.Fatalf("last leaf must be the submitted state")
	}
}

func TestVerifyProof(t *testing.T) {
	key := Key{Colony: testColony, Skill: 1, User: alice}
	tr := seededTrie([]seed{{key, 42}, {Key{Colony: testColony, Skill: 1}, 42}})
	p, err := tr.Proof(key.Encode())
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	gotKey, entry, err := VerifyProof(tr.RootHash(), p)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if gotKey != key || entry.Amount.Int64() != 42 {
		t.Fatalf("unexpected decoded proof %s %s", gotKey, entry.Amount)
	}
	if _, _, err := VerifyProof(common.Hash{1}, p); !errors.Is(err, ErrProofMismatch) {
		t.Fatalf("expected ErrProofMismatch, got %v", err)
	}
}

func TestCompactKeepsProofsAndDropsHistory(t *testing.T) {
	r, err := Replay(seededTrie([]seed{
		{Key{Colony: testColony, Skill: 1}, 100},
		{Key{Colony: testColony, Skill: 1, User: alice}, 100},
	}), nil, DefaultDecayRate, testSkills(t))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	replayed := r.Trie()
	compact := replayed.Compact()
	if compact.State() != replayed.State() {
		t.Fatalf("compaction changed state: %s vs %s", compact.State(), replayed.State())
	}
	if nodes := compact.Nodes(); nodes != 3 {
		t.Fatalf("expected 3 nodes after compaction, got %d", nodes)
	}
	if replayed.Nodes() <= compact.Nodes() {
		t.Fatalf("replayed trie should still carry snapshot history")
	}
	proof, err := compact.Proof(Key{Colony: testColony, Skill: 1, User: alice}.Encode())
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if _, _, err := VerifyProof(compact.RootHash(), proof); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
