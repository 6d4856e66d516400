package minerd

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"repchain/consensus/mining"
	"repchain/consensus/mining/dispute"
	"repchain/native/reputation"
	"repchain/state/bank"
	"repchain/storage"
)

var (
	colony = common.HexToAddress("0x00000000000000000000000000000000000c0101")
	user   = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// localClient calls the arbiter in process on behalf of one miner.
type localClient struct {
	arb   *mining.Arbiter
	miner common.Address
}

func (c localClient) Canonical(context.Context) (mining.Confirmation, bool, error) {
	conf, ok := c.arb.Canonical()
	return conf, ok, nil
}

func (c localClient) Confirmation(_ context.Context, cycle uint64) (mining.Confirmation, error) {
	return c.arb.Confirmation(cycle)
}

func (c localClient) ActiveCycle(context.Context) (mining.CycleStatus, error) {
	return c.arb.ActiveCycle()
}

func (c localClient) CycleLog(_ context.Context, cycle uint64) ([]reputation.LogEntry, error) {
	return c.arb.CycleLog(cycle)
}

func (c localClient) Submit(ctx context.Context, req SubmitRequest) (mining.Submission, error) {
	return c.arb.SubmitRootHash(ctx, c.miner, req.Root, req.NLeaves, req.JRH, req.EntryIndex)
}

func (c localClient) Pairings(context.Context) ([]dispute.Status, error) {
	return c.arb.Pairings(), nil
}

func (c localClient) ConfirmJustification(ctx context.Context, pairing uint64, candidate int, first, last reputation.JustificationProof) error {
	return c.arb.ConfirmJustification(ctx, pairing, candidate, c.miner, first, last)
}

func (c localClient) RespondBisection(ctx context.Context, pairing uint64, candidate int, at, next reputation.JustificationProof) error {
	return c.arb.RespondBisection(ctx, pairing, candidate, c.miner, at, next)
}

func (c localClient) RespondReplay(ctx context.Context, pairing uint64, candidate int, w reputation.StepWitness) error {
	return c.arb.RespondReplay(ctx, pairing, candidate, c.miner, w)
}

type network struct {
	t      *testing.T
	clock  *fakeClock
	cfg    mining.Config
	skills *reputation.StaticSkillTree
	ledger *bank.StakeLedger
	arb    *mining.Arbiter
}

func newNetwork(t *testing.T) *network {
	t.Helper()
	skills := reputation.NewStaticSkillTree(1)
	if err := skills.Add(2, 1); err != nil {
		t.Fatalf("add skill: %v", err)
	}
	cfg := mining.DefaultConfig()
	cfg.CycleDuration = time.Hour
	cfg.SubmissionWindow = 10 * time.Minute
	cfg.SubmitterOnlyWindow = 5 * time.Minute
	cfg.EligibilityRamp = 0
	cfg.ResponseWindow = time.Minute
	cfg.MinStake = big.NewInt(100)

	db := storage.NewMemDB()
	ledger := bank.NewStakeLedger(db)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	arb, err := mining.NewArbiter(cfg, skills, ledger, ledger, db, mining.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new arbiter: %v", err)
	}
	return &network{t: t, clock: clock, cfg: cfg, skills: skills, ledger: ledger, arb: arb}
}

func minerConfig() Config {
	cfg := DefaultConfig()
	cfg.Skills = SkillsConfig{Roots: []uint64{1}, Edges: []SkillEdge{{Skill: 2, Parent: 1}}}
	return cfg
}

func (n *network) miner(addr common.Address, db storage.Database) *Miner {
	n.t.Helper()
	if err := n.ledger.Deposit(addr, big.NewInt(100)); err != nil {
		n.t.Fatalf("deposit: %v", err)
	}
	m, err := NewMiner(minerConfig(), addr, localClient{arb: n.arb, miner: addr}, db, WithClock(n.clock.Now))
	if err != nil {
		n.t.Fatalf("new miner: %v", err)
	}
	return m
}

func (n *network) advance(d time.Duration) {
	n.clock.now = n.clock.now.Add(d)
	n.arb.Tick(n.clock.now)
}

func (n *network) log(amounts ...int64) []reputation.LogEntry {
	n.t.Helper()
	var out []reputation.LogEntry
	for _, amount := range amounts {
		_, entry, err := n.arb.AppendUpdate(context.Background(), colony, 2, user, big.NewInt(amount))
		if err != nil {
			n.t.Fatalf("append: %v", err)
		}
		out = append(out, entry)
	}
	return out
}

func step(t *testing.T, miners ...*Miner) {
	t.Helper()
	for _, m := range miners {
		if err := m.Step(context.Background()); err != nil {
			t.Fatalf("miner %s step: %v", m.Address().Hex(), err)
		}
	}
}

func TestMinersAgreeAndAdoptConfirmedState(t *testing.T) {
	n := newNetwork(t)
	a := n.miner(common.HexToAddress("0xa1"), storage.NewMemDB())
	b := n.miner(common.HexToAddress("0xb2"), storage.NewMemDB())

	n.log(10, 20, -5)
	n.advance(n.cfg.CycleDuration)
	step(t, a, b)

	st, err := n.arb.ActiveCycle()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(st.Candidates) != 1 || len(st.Candidates[0].Submitters) != 2 {
		t.Fatalf("expected one candidate backed by both miners, got %+v", st.Candidates)
	}

	n.advance(n.cfg.SubmissionWindow + n.cfg.SubmitterOnlyWindow)
	step(t, a, b)

	conf, ok := n.arb.Canonical()
	if !ok {
		t.Fatalf("cycle not confirmed")
	}
	for _, m := range []*Miner{a, b} {
		cycle, state := m.Canonical()
		if cycle != conf.Cycle || state != conf.State() {
			t.Fatalf("miner at cycle %d %s, arbiter confirmed %d %s", cycle, state, conf.Cycle, conf.State())
		}
		// The adopted trie must not keep the replay's intermediate nodes.
		if nodes, leaves := m.canonical.Nodes(), int(m.canonical.Len()); nodes != 2*leaves-1 {
			t.Fatalf("adopted trie holds %d nodes for %d leaves", nodes, leaves)
		}
	}

	proof, err := a.Proof(reputation.Key{Colony: colony, Skill: 2, User: user})
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	_, entry, err := n.arb.VerifyProof(proof)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if entry.Amount.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("amount %s, want 25", entry.Amount)
	}
}

func TestHonestMinerDefeatsFaultySubmission(t *testing.T) {
	n := newNetwork(t)
	honest := n.miner(common.HexToAddress("0xa1"), storage.NewMemDB())
	faultyAddr := common.HexToAddress("0xf0")
	if err := n.ledger.Deposit(faultyAddr, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	entries := n.log(10, 20, 30, 40)
	n.advance(n.cfg.CycleDuration)

	tampered := make([]reputation.LogEntry, len(entries))
	for i, e := range entries {
		tampered[i] = e.Clone()
	}
	tampered[2].Amount = big.NewInt(31)
	faulty, err := reputation.Replay(reputation.NewTrie(), tampered, n.cfg.Decay, n.skills)
	if err != nil {
		t.Fatalf("faulty replay: %v", err)
	}
	faultyJ := reputation.NewJustification(faulty.States())
	ctx := context.Background()
	final := faulty.State()
	sub, err := n.arb.SubmitRootHash(ctx, faultyAddr, final.Root, final.NLeaves, faultyJ.Root(), 1)
	if err != nil {
		t.Fatalf("faulty submit: %v", err)
	}
	step(t, honest)
	n.advance(n.cfg.SubmissionWindow + n.cfg.SubmitterOnlyWindow)

	for i := 0; i < 100; i++ {
		if _, ok := n.arb.Canonical(); ok {
			break
		}
		step(t, honest)
		for _, p := range n.arb.Pairings() {
			if p.Phase != dispute.PhaseJustification.String() && p.Phase != dispute.PhaseBisection.String() {
				continue
			}
			side := dispute.SideA.String()
			if p.Candidates[1] == sub.Candidate {
				side = dispute.SideB.String()
			}
			if !awaiting(p.Awaiting, side) {
				continue
			}
			if p.Phase == dispute.PhaseJustification.String() {
				first, _ := faultyJ.Proof(0)
				last, _ := faultyJ.Proof(faultyJ.Len() - 1)
				err = n.arb.ConfirmJustification(ctx, p.ID, sub.Candidate, faultyAddr, first, last)
			} else {
				at, _ := faultyJ.Proof(p.Probe)
				next, _ := faultyJ.Proof(p.Probe + 1)
				err = n.arb.RespondBisection(ctx, p.ID, sub.Candidate, faultyAddr, at, next)
			}
			if err != nil {
				t.Fatalf("faulty response: %v", err)
			}
		}
	}

	conf, ok := n.arb.Canonical()
	if !ok || conf.State() == final {
		t.Fatalf("faulty state confirmed or nothing confirmed")
	}
	if got := n.ledger.Slashed(faultyAddr); got.Sign() == 0 {
		t.Fatalf("faulty miner not slashed")
	}
	step(t, honest)
	if _, state := honest.Canonical(); state != conf.State() {
		t.Fatalf("honest miner did not adopt confirmed state")
	}
}

func TestMinerResyncsFromHistoryAndResumes(t *testing.T) {
	n := newNetwork(t)
	a := n.miner(common.HexToAddress("0xa1"), storage.NewMemDB())

	for round := int64(1); round <= 2; round++ {
		n.log(round*10, round*3)
		n.advance(n.cfg.CycleDuration)
		step(t, a)
		n.advance(n.cfg.SubmissionWindow + n.cfg.SubmitterOnlyWindow)
	}
	conf, ok := n.arb.Canonical()
	if !ok || conf.Cycle != 2 {
		t.Fatalf("expected cycle 2 confirmed, got %+v", conf)
	}

	db := storage.NewMemDB()
	late, err := NewMiner(minerConfig(), common.HexToAddress("0xc3"), localClient{arb: n.arb, miner: common.HexToAddress("0xc3")}, db, WithClock(n.clock.Now))
	if err != nil {
		t.Fatalf("new miner: %v", err)
	}
	step(t, late)
	if cycle, state := late.Canonical(); cycle != 2 || state != conf.State() {
		t.Fatalf("resync reached cycle %d %s", cycle, state)
	}

	restarted, err := NewMiner(minerConfig(), late.Address(), localClient{arb: n.arb, miner: late.Address()}, db, WithClock(n.clock.Now))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if cycle, state := restarted.Canonical(); cycle != 2 || state != conf.State() {
		t.Fatalf("restart resumed at cycle %d %s", cycle, state)
	}
}

// pollGate reports every canonical lookup, which Step performs first, and
// holds it until released.
type pollGate struct {
	localClient
	polls   chan struct{}
	release chan struct{}
}

func (c pollGate) Canonical(ctx context.Context) (mining.Confirmation, bool, error) {
	c.polls <- struct{}{}
	<-c.release
	return c.localClient.Canonical(ctx)
}

func TestWakeTriggersEarlyPoll(t *testing.T) {
	n := newNetwork(t)
	addr := common.HexToAddress("0x00000000000000000000000000000000000000b7")
	cfg := minerConfig()
	cfg.PollInterval.Duration = time.Hour
	client := pollGate{localClient: localClient{arb: n.arb, miner: addr}, polls: make(chan struct{}), release: make(chan struct{})}
	m, err := NewMiner(cfg, addr, client, storage.NewMemDB(), WithClock(n.clock.Now))
	if err != nil {
		t.Fatalf("new miner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitPoll := func(what string) {
		t.Helper()
		select {
		case <-client.polls:
		case <-time.After(2 * time.Second):
			t.Fatalf("no poll %s", what)
		}
	}
	waitPoll("at start")
	// Both wakes land while the first poll is held, so they coalesce.
	m.Wake()
	m.Wake()
	client.release <- struct{}{}
	waitPoll("after wake")
	client.release <- struct{}{}
	select {
	case <-client.polls:
		t.Fatalf("coalesced wakes should poll once")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run returned %v", err)
	}
}
