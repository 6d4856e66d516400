package minerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"repchain/consensus/mining"
	"repchain/consensus/mining/dispute"
	"repchain/core/events"
	"repchain/native/reputation"
	"repchain/observability/metrics"
	"repchain/storage"
)

var (
	// ErrDiverged is returned when replaying a confirmed cycle does not
	// reproduce the root the arbiter confirmed.
	ErrDiverged = errors.New("minerd: local replay diverged from canonical state")
	// ErrLogMismatch is returned when a fetched log does not hash to the
	// digest the arbiter advertises.
	ErrLogMismatch = errors.New("minerd: cycle log digest mismatch")
	// ErrOutOfSync is returned when the active cycle does not build on the
	// local canonical trie.
	ErrOutOfSync = errors.New("minerd: active cycle does not build on local state")
)

// Option customises a Miner.
type Option func(*Miner)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(m *Miner) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Miner) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEmitter receives replay events.
func WithEmitter(emitter events.Emitter) Option {
	return func(m *Miner) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

type cycleWork struct {
	cycle     uint64
	attempts  int
	entries   []reputation.LogEntry
	plan      *reputation.StepPlan
	replayer  *reputation.Replayer
	just      *reputation.Justification
	submitted map[uint64]bool
}

// Miner follows the arbiter: it replays every cycle the arbiter activates,
// submits the resulting root and defends it when challenged. The canonical
// trie is persisted after every confirmation.
type Miner struct {
	cfg     Config
	addr    common.Address
	client  ArbiterClient
	store   *reputation.Store
	skills  reputation.SkillTree
	rate    reputation.DecayRate
	logger  *slog.Logger
	emitter events.Emitter
	clock   func() time.Time
	metrics *metrics.MinerMetrics
	wake    chan struct{}

	mu             sync.Mutex
	canonicalCycle uint64
	canonical      *reputation.Trie
	work           *cycleWork
}

// NewMiner resumes from the latest trie stored in db.
func NewMiner(cfg Config, addr common.Address, client ArbiterClient, db storage.Database, opts ...Option) (*Miner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("minerd: arbiter client required")
	}
	if db == nil {
		return nil, errors.New("minerd: database required")
	}
	skills, err := cfg.Skills.Tree()
	if err != nil {
		return nil, err
	}
	m := &Miner{
		cfg:     cfg,
		addr:    addr,
		client:  client,
		store:   reputation.NewStore(db),
		skills:  skills,
		rate:    cfg.Decay.Rate(),
		logger:  slog.Default(),
		emitter: events.NoopEmitter{},
		clock:   time.Now,
		metrics: metrics.Miner(),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	cycle, t, err := m.store.Latest()
	switch {
	case err == nil:
		m.canonicalCycle, m.canonical = cycle, t
	case errors.Is(err, reputation.ErrSnapshotNotFound):
		m.canonical = reputation.NewTrie()
	default:
		return nil, fmt.Errorf("minerd: load canonical trie: %w", err)
	}
	m.logger.Info("miner ready",
		slog.String("miner", addr.Hex()),
		slog.Uint64("cycle", m.canonicalCycle),
		slog.String("root", m.canonical.RootHash().Hex()))
	return m, nil
}

// Address returns the miner's account.
func (m *Miner) Address() common.Address {
	return m.addr
}

// Canonical returns the cycle and state of the local canonical trie.
func (m *Miner) Canonical() (uint64, reputation.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canonicalCycle, m.canonical.State()
}

// Proof proves key against the local canonical trie.
func (m *Miner) Proof(key reputation.Key) (reputation.Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canonical.Proof(key.Encode())
}

// Run polls the arbiter until ctx is cancelled. Wake triggers an early
// poll.
func (m *Miner) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval.Duration)
	defer ticker.Stop()
	for {
		if err := m.Step(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("mining step failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-m.wake:
		}
	}
}

// Wake asks Run to poll now. Calls made while a poll is pending coalesce.
func (m *Miner) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Step performs one poll: catch up with the canonical chain, then work on
// the active cycle.
func (m *Miner) Step(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sync(ctx); err != nil {
		return err
	}
	st, err := m.client.ActiveCycle(ctx)
	if errors.Is(err, mining.ErrNoActiveCycle) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.PrevRoot != m.canonical.RootHash() || st.PrevLeaves != m.canonical.Len() {
		return fmt.Errorf("%w: cycle %d builds on %s", ErrOutOfSync, st.ID, st.PrevRoot.Hex())
	}
	w, err := m.prepare(ctx, st)
	if err != nil {
		return err
	}
	switch st.Phase {
	case mining.PhaseSubmission.String():
		return m.submit(ctx, st, w)
	case mining.PhaseDisputing.String():
		return m.defend(ctx, st, w)
	}
	return nil
}

func (m *Miner) sync(ctx context.Context) error {
	conf, ok, err := m.client.Canonical(ctx)
	if err != nil || !ok {
		return err
	}
	switch {
	case conf.Cycle < m.canonicalCycle:
		return fmt.Errorf("minerd: arbiter at cycle %d, local state at %d", conf.Cycle, m.canonicalCycle)
	case conf.Cycle == m.canonicalCycle:
		if conf.State() != m.canonical.State() {
			return fmt.Errorf("%w: cycle %d", ErrDiverged, conf.Cycle)
		}
		return nil
	}
	if w := m.work; w != nil && w.cycle == conf.Cycle && w.replayer.State() == conf.State() {
		m.work = nil
		return m.adopt(conf.Cycle, w.replayer.Trie())
	}
	return m.resync(ctx, conf.Cycle)
}

// resync replays every confirmed cycle after the local one.
func (m *Miner) resync(ctx context.Context, target uint64) error {
	for id := m.canonicalCycle + 1; id <= target; id++ {
		conf, err := m.client.Confirmation(ctx, id)
		if err != nil {
			return fmt.Errorf("minerd: fetch confirmation %d: %w", id, err)
		}
		entries, err := m.client.CycleLog(ctx, id)
		if err != nil {
			return fmt.Errorf("minerd: fetch log %d: %w", id, err)
		}
		r, err := reputation.Replay(m.canonical, entries, m.rate, m.skills)
		if err != nil {
			return err
		}
		if r.State() != conf.State() {
			return fmt.Errorf("%w: cycle %d replays to %s, arbiter confirmed %s", ErrDiverged, id, r.State(), conf.State())
		}
		if err := m.adopt(id, r.Trie()); err != nil {
			return err
		}
	}
	m.work = nil
	return nil
}

func (m *Miner) adopt(cycle uint64, t *reputation.Trie) error {
	// The replayed trie shares its arena with every intermediate snapshot.
	t = t.Compact()
	if err := m.store.SaveTrie(cycle, t); err != nil {
		return fmt.Errorf("minerd: persist cycle %d: %w", cycle, err)
	}
	if cycle > m.cfg.KeepCycles {
		if err := m.store.PruneBefore(cycle - m.cfg.KeepCycles + 1); err != nil {
			m.logger.Warn("prune tries failed", slog.Any("error", err))
		}
	}
	m.canonical = t
	m.canonicalCycle = cycle
	m.logger.Info("canonical state adopted",
		slog.Uint64("cycle", cycle),
		slog.String("root", t.RootHash().Hex()),
		slog.Uint64("nLeaves", t.Len()))
	return nil
}

// prepare replays the active cycle once and reuses the result afterwards.
func (m *Miner) prepare(ctx context.Context, st mining.CycleStatus) (*cycleWork, error) {
	if w := m.work; w != nil && w.cycle == st.ID {
		if w.attempts != st.Attempts {
			w.attempts = st.Attempts
			w.submitted = make(map[uint64]bool)
		}
		return w, nil
	}
	entries, err := m.client.CycleLog(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	if common.Hash(reputation.DigestOf(entries)) != st.LogDigest {
		return nil, fmt.Errorf("%w: cycle %d", ErrLogMismatch, st.ID)
	}
	start := m.clock()
	r, err := reputation.Replay(m.canonical, entries, m.rate, m.skills)
	if err != nil {
		return nil, err
	}
	just := reputation.NewJustification(r.States())
	steps := reputation.TotalSteps(m.canonical.Len(), entries)
	m.metrics.ObserveReplay(steps, m.clock().Sub(start).Seconds())
	m.emitter.Emit(reputation.NewCycleReplayedEvent(st.ID, r.State(), just.Root(), steps))
	m.logger.Info("cycle replayed",
		slog.Uint64("cycle", st.ID),
		slog.Uint64("steps", steps),
		slog.String("root", r.State().Root.Hex()),
		slog.String("jrh", just.Root().Hex()))

	m.work = &cycleWork{
		cycle:     st.ID,
		attempts:  st.Attempts,
		entries:   entries,
		plan:      reputation.NewStepPlan(m.canonical.Len(), entries, m.skills),
		replayer:  r,
		just:      just,
		submitted: make(map[uint64]bool),
	}
	return m.work, nil
}

func (m *Miner) submit(ctx context.Context, st mining.CycleStatus, w *cycleWork) error {
	final := w.replayer.State()
	now := m.clock()
	elapsed := now.Sub(st.WindowStart)
	grace := !now.Before(st.SubmissionEnd)
	for idx := uint64(1); idx <= m.cfg.Entries; idx++ {
		if w.submitted[idx] {
			continue
		}
		if grace && len(w.submitted) == 0 {
			return nil
		}
		if !mining.Eligible(m.addr, idx, final.Root, elapsed, st.Ramp) {
			continue
		}
		sub, err := m.client.Submit(ctx, SubmitRequest{
			Root:       final.Root,
			NLeaves:    final.NLeaves,
			JRH:        w.just.Root(),
			EntryIndex: idx,
		})
		switch {
		case err == nil:
			w.submitted[idx] = true
			m.metrics.ObserveSubmission("accepted")
			m.logger.Info("root hash submitted",
				slog.Uint64("cycle", st.ID),
				slog.Uint64("entryIndex", idx),
				slog.Int("candidate", sub.Candidate))
		case errors.Is(err, mining.ErrEntryUsed):
			w.submitted[idx] = true
		case errors.Is(err, mining.ErrIneligible):
			m.metrics.ObserveSubmission("ineligible")
		case errors.Is(err, mining.ErrEntryIndex),
			errors.Is(err, mining.ErrInsufficientStake),
			errors.Is(err, mining.ErrTooManySubmissions),
			errors.Is(err, mining.ErrSubmitterOnly),
			errors.Is(err, mining.ErrWindowClosed),
			errors.Is(err, mining.ErrCycleDisputing),
			errors.Is(err, mining.ErrMinerSlashed):
			m.metrics.ObserveSubmission("rejected")
			m.logger.Info("submission refused", slog.Uint64("cycle", st.ID), slog.Uint64("entryIndex", idx), slog.Any("error", err))
			return nil
		default:
			m.metrics.ObserveSubmission("error")
			return err
		}
	}
	return nil
}

// defend answers every query addressed to the candidate this miner
// submitted for.
func (m *Miner) defend(ctx context.Context, st mining.CycleStatus, w *cycleWork) error {
	final := w.replayer.State()
	ours := -1
	for _, c := range st.Candidates {
		if c.Root != final.Root || c.NLeaves != final.NLeaves || c.JRH != w.just.Root() {
			continue
		}
		for _, s := range c.Submitters {
			if s == m.addr {
				ours = c.Index
			}
		}
	}
	if ours < 0 {
		return nil
	}
	pairings, err := m.client.Pairings(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairings {
		var side string
		switch ours {
		case p.Candidates[0]:
			side = dispute.SideA.String()
		case p.Candidates[1]:
			side = dispute.SideB.String()
		default:
			continue
		}
		if !awaiting(p.Awaiting, side) {
			continue
		}
		err := m.respond(ctx, p, ours, w)
		switch {
		case err == nil:
			m.metrics.ObserveResponse(p.Phase, "sent")
		case errors.Is(err, dispute.ErrWrongPhase), errors.Is(err, dispute.ErrAlreadyResponded):
			m.metrics.ObserveResponse(p.Phase, "late")
		default:
			m.metrics.ObserveResponse(p.Phase, "error")
			return fmt.Errorf("minerd: pairing %d %s: %w", p.ID, p.Phase, err)
		}
	}
	return nil
}

func (m *Miner) respond(ctx context.Context, p dispute.Status, candidate int, w *cycleWork) error {
	switch p.Phase {
	case dispute.PhaseJustification.String():
		first, err := w.just.Proof(0)
		if err != nil {
			return err
		}
		last, err := w.just.Proof(w.just.Len() - 1)
		if err != nil {
			return err
		}
		return m.client.ConfirmJustification(ctx, p.ID, candidate, first, last)
	case dispute.PhaseBisection.String():
		at, err := w.just.Proof(p.Probe)
		if err != nil {
			return err
		}
		next, err := w.just.Proof(p.Probe + 1)
		if err != nil {
			return err
		}
		return m.client.RespondBisection(ctx, p.ID, candidate, at, next)
	case dispute.PhaseReplay.String():
		if p.Step == nil {
			return fmt.Errorf("minerd: pairing %d has no step under replay", p.ID)
		}
		step, err := w.plan.Step(p.Step.Index)
		if err != nil {
			return err
		}
		witness, err := w.replayer.Witness(step)
		if err != nil {
			return err
		}
		m.logger.Info("answering replay challenge",
			slog.Uint64("pairing", p.ID),
			slog.Uint64("step", step.Index),
			slog.String("kind", step.Kind.String()))
		return m.client.RespondReplay(ctx, p.ID, candidate, witness)
	}
	return nil
}

func awaiting(sides []string, side string) bool {
	for _, s := range sides {
		if s == side {
			return true
		}
	}
	return false
}
