package mining

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"repchain/consensus/mining/dispute"
	"repchain/core/events"
	"repchain/native/reputation"
	"repchain/observability/metrics"
	"repchain/state/bank"
	"repchain/storage"
)

// StakeReader exposes the stake a miner has bonded.
type StakeReader interface {
	Stake(addr common.Address) *big.Int
}

// Option customises an Arbiter.
type Option func(*Arbiter)

// WithClock overrides the arbiter clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(a *Arbiter) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Arbiter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithEmitter routes cycle events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(a *Arbiter) {
		if emitter != nil {
			a.emitter = emitter
		}
	}
}

// Arbiter runs the mining cycle. It owns two cycles: the one accumulating
// update log entries and the one being mined against the canonical state.
// Every mutation is serialised behind one mutex; deadlines are evaluated on
// Tick and on every entry point.
type Arbiter struct {
	mu      sync.Mutex
	cfg     Config
	skills  reputation.SkillTree
	stakes  StakeReader
	slasher bank.Slasher
	store   *store
	emitter events.Emitter
	logger  *slog.Logger
	clock   func() time.Time
	tracer  trace.Tracer
	metrics *metrics.MiningMetrics

	accumulating *Cycle
	active       *Cycle
	canonical    Confirmation
	confirmed    bool
	pairingSeq   uint64
	matches      map[uint64]*match
}

// NewArbiter restores the scheduler from db, or starts at cycle 1 over an
// empty reputation state.
func NewArbiter(cfg Config, skills reputation.SkillTree, stakes StakeReader, slasher bank.Slasher, db storage.Database, opts ...Option) (*Arbiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mining: invalid config: %w", err)
	}
	if skills == nil {
		return nil, errors.New("mining: skill tree required")
	}
	if stakes == nil {
		return nil, errors.New("mining: stake reader required")
	}
	if slasher == nil {
		return nil, errors.New("mining: slasher required")
	}
	if db == nil {
		return nil, errors.New("mining: database required")
	}
	a := &Arbiter{
		cfg:     cfg,
		skills:  skills,
		stakes:  stakes,
		slasher: slasher,
		store:   newStore(db),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		clock:   time.Now,
		tracer:  otel.Tracer("consensus/mining"),
		metrics: metrics.Mining(),
		matches: make(map[uint64]*match),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.restore(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Arbiter) restore() error {
	now := a.clock()
	conf, err := a.store.latest()
	switch {
	case err == nil:
		a.canonical = conf
		a.confirmed = true
	case errors.Is(err, ErrNothingConfirmed):
		a.canonical = Confirmation{Root: reputation.NewTrie().RootHash()}
	default:
		return fmt.Errorf("mining: load canonical state: %w", err)
	}

	meta, ok, err := a.store.loadMeta()
	if err != nil {
		return err
	}
	if !ok {
		a.accumulating = newCycle(a.canonical.Cycle+1, now)
		return a.store.saveMeta(a.accumulating, nil)
	}
	if a.accumulating, err = a.store.restoreCycle(meta.Accumulating, meta.AccumulatingAt); err != nil {
		return err
	}
	if meta.Active != 0 {
		active, err := a.store.restoreCycle(meta.Active, meta.ActiveAt)
		if err != nil {
			return err
		}
		// Submissions are not persisted; the window restarts.
		active.activate(a.canonical.State(), now)
		active.Attempts = int(meta.Attempts)
		a.active = active
	}
	a.logger.Info("mining scheduler restored",
		slog.Uint64("accumulating", a.accumulating.ID),
		slog.Uint64("active", meta.Active),
		slog.Uint64("canonicalCycle", a.canonical.Cycle),
		slog.String("canonicalRoot", a.canonical.Root.Hex()))
	return nil
}

// Config returns the arbiter configuration.
func (a *Arbiter) Config() Config {
	return a.cfg
}

// Run ticks the scheduler every interval until ctx is cancelled.
func (a *Arbiter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Tick(a.clock())
		}
	}
}

// Tick applies every deadline that has passed by now.
func (a *Arbiter) Tick(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(now)
}

func (a *Arbiter) advance(now time.Time) {
	for {
		if a.active == nil {
			if now.Sub(a.accumulating.OpenedAt) < a.cfg.CycleDuration {
				return
			}
			a.promote(now)
		}
		c := a.active
		switch c.Phase {
		case PhaseSubmission:
			if now.Before(c.closeAt(a.cfg)) {
				return
			}
			a.evaluate(now)
		case PhaseDisputing:
			for _, m := range c.bracket.matches {
				if !m.settled && m.pairing.Tick(now) {
					a.settle(m)
				}
			}
			a.nextRound(now)
		}
		if a.active == c {
			return
		}
	}
}

func (a *Arbiter) promote(now time.Time) {
	c := a.accumulating
	c.activate(a.canonical.State(), now)
	a.active = c
	a.accumulating = newCycle(c.ID+1, now)
	a.persistMeta()
	a.emitter.Emit(events.CycleActivated{
		Cycle:       c.ID,
		PrevRoot:    c.Prev.Root,
		PrevLeaves:  c.Prev.NLeaves,
		LogEntries:  len(c.Entries),
		LogUpdates:  reputation.TotalUpdates(c.Entries),
		LogDigest:   reputation.DigestOf(c.Entries),
		WindowStart: now.Unix(),
	})
	a.logger.Info("mining cycle activated",
		slog.Uint64("cycle", c.ID),
		slog.Int("logEntries", len(c.Entries)),
		slog.String("prevRoot", c.Prev.Root.Hex()),
		slog.Uint64("prevLeaves", c.Prev.NLeaves))
}

// evaluate runs once the submitter-only window has closed.
func (a *Arbiter) evaluate(now time.Time) {
	c := a.active
	c.Phase = PhaseDisputing
	c.bracket = &bracket{bye: -1}
	a.nextRound(now)
}

// nextRound opens bracket rounds until one is pending, then confirms the
// survivor or retries the cycle when nobody is left.
func (a *Arbiter) nextRound(now time.Time) {
	c := a.active
	params := dispute.Params{
		Prev:           c.Prev,
		Plan:           reputation.NewStepPlan(c.Prev.NLeaves, c.Entries, a.skills),
		Rate:           a.cfg.Decay,
		ResponseWindow: a.cfg.ResponseWindow,
	}
	for c.Phase == PhaseDisputing && c.bracket.done() {
		live := c.live()
		switch len(live) {
		case 0:
			a.retry(now)
			return
		case 1:
			a.confirm(c.candidates[live[0]], now)
			return
		}
		matches, err := c.bracket.open(c, params, a.nextPairingID, now)
		if err != nil {
			a.logger.Error("open dispute round failed", slog.Uint64("cycle", c.ID), slog.Any("error", err))
			a.retry(now)
			return
		}
		for _, m := range matches {
			a.matches[m.pairing.ID()] = m
			a.emitter.Emit(events.PairingOpened{
				Cycle:   c.ID,
				Pairing: m.pairing.ID(),
				Round:   m.round,
				A:       m.candidates[0],
				B:       m.candidates[1],
			})
			a.logger.Info("dispute pairing opened",
				slog.Uint64("cycle", c.ID),
				slog.Uint64("pairing", m.pairing.ID()),
				slog.Int("round", m.round),
				slog.Int("a", m.candidates[0]),
				slog.Int("b", m.candidates[1]))
			if m.pairing.Phase() == dispute.PhaseResolved {
				a.settle(m)
			}
		}
	}
}

func (a *Arbiter) nextPairingID() uint64 {
	a.pairingSeq++
	return a.pairingSeq
}

// settle applies a resolved pairing to its cycle.
func (a *Arbiter) settle(m *match) {
	res, ok := m.pairing.Result()
	if !ok || m.settled {
		return
	}
	m.settled = true
	c := m.cycle
	losers := make([]int, 0, len(res.Losers))
	for _, side := range res.Losers {
		cand := c.candidates[m.candidates[side]]
		cand.Eliminated = true
		losers = append(losers, cand.Index)
		if res.Slash {
			a.slashCandidate(c, cand, res.Outcome.String())
		}
	}
	winner := -1
	if res.HasWinner {
		winner = m.candidates[res.Winner]
	}
	a.metrics.ObservePairing(res.Outcome.String(), res.Rounds)
	a.emitter.Emit(events.PairingResolved{
		Cycle:      c.ID,
		Pairing:    m.pairing.ID(),
		Outcome:    res.Outcome.String(),
		Winner:     winner,
		Losers:     losers,
		Divergence: res.Divergence,
		Rounds:     res.Rounds,
	})
	a.logger.Info("dispute pairing resolved",
		slog.Uint64("cycle", c.ID),
		slog.Uint64("pairing", m.pairing.ID()),
		slog.String("outcome", res.Outcome.String()),
		slog.Int("winner", winner),
		slog.Any("losers", losers),
		slog.Uint64("divergence", res.Divergence),
		slog.Int("rounds", res.Rounds))
}

func (a *Arbiter) slashCandidate(c *Cycle, cand *Candidate, reason string) {
	for _, addr := range cand.Submitters {
		if _, done := c.slashed[addr]; done {
			continue
		}
		c.slashed[addr] = struct{}{}
		amount := a.cfg.slashAmount(a.stakes.Stake(addr))
		if amount.Sign() > 0 {
			if err := a.slasher.Slash(addr, amount); err != nil {
				a.logger.Error("slash failed",
					slog.Uint64("cycle", c.ID),
					slog.String("miner", addr.Hex()),
					slog.Any("error", err))
				continue
			}
		}
		a.metrics.ObserveSlash(reason)
		a.emitter.Emit(events.MinerSlashed{Cycle: c.ID, Miner: addr, Amount: amount, Reason: reason})
		a.logger.Warn("miner slashed",
			slog.Uint64("cycle", c.ID),
			slog.String("miner", addr.Hex()),
			slog.String("amount", amount.String()),
			slog.String("reason", reason))
	}
}

func (a *Arbiter) dropMatches(c *Cycle) {
	for id, m := range a.matches {
		if m.cycle == c {
			delete(a.matches, id)
		}
	}
}

// retry reopens the submission window of the active cycle.
func (a *Arbiter) retry(now time.Time) {
	c := a.active
	a.dropMatches(c)
	c.Attempts++
	c.reset(now)
	a.persistMeta()
	a.metrics.ObserveRetry()
	a.emitter.Emit(events.CycleRetried{Cycle: c.ID, Attempt: c.Attempts})
	a.logger.Warn("mining cycle retried", slog.Uint64("cycle", c.ID), slog.Int("attempt", c.Attempts))
}

func (a *Arbiter) confirm(cand *Candidate, now time.Time) {
	c := a.active
	conf := Confirmation{
		Cycle:       c.ID,
		Root:        cand.State.Root,
		NLeaves:     cand.State.NLeaves,
		JRH:         cand.JRH,
		ConfirmedAt: now.UnixNano(),
	}
	if err := a.store.saveConfirmation(conf); err != nil {
		// The cycle stays in dispute so the next tick tries again.
		a.logger.Error("persist confirmation failed", slog.Uint64("cycle", c.ID), slog.Any("error", err))
		return
	}
	c.Phase = PhaseConfirmed
	c.winner = cand
	a.dropMatches(c)
	a.canonical = conf
	a.confirmed = true
	a.active = nil
	a.persistMeta()
	a.metrics.ObserveConfirmation(conf.NLeaves)
	a.emitter.Emit(events.CycleConfirmed{Cycle: conf.Cycle, Root: conf.Root, NLeaves: conf.NLeaves, JRH: conf.JRH})
	a.logger.Info("mining cycle confirmed",
		slog.Uint64("cycle", conf.Cycle),
		slog.String("root", conf.Root.Hex()),
		slog.Uint64("nLeaves", conf.NLeaves),
		slog.String("jrh", conf.JRH.Hex()))
}

func (a *Arbiter) persistMeta() {
	if err := a.store.saveMeta(a.accumulating, a.active); err != nil {
		a.logger.Error("persist scheduler failed", slog.Any("error", err))
	}
}

func (a *Arbiter) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return a.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AppendUpdate records a reputation delta in the accumulating cycle and
// returns the cycle it landed in.
func (a *Arbiter) AppendUpdate(ctx context.Context, colony common.Address, skill uint64, user common.Address, amount *big.Int) (cycle uint64, entry reputation.LogEntry, err error) {
	_, span := a.startSpan(ctx, "mining.append_update",
		attribute.String("colony", colony.Hex()),
		attribute.Int64("skill", int64(skill)))
	defer func() { endSpan(span, err) }()
	if amount == nil {
		return 0, reputation.LogEntry{}, errors.New("mining: amount required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(a.clock())

	c := a.accumulating
	entry, err = c.Log.AppendUpdate(colony, skill, user, amount, a.skills)
	if err != nil {
		return 0, reputation.LogEntry{}, err
	}
	if err := a.store.logs.AppendLog(c.ID, c.Log.Len()-1, entry); err != nil {
		a.logger.Error("persist log entry failed", slog.Uint64("cycle", c.ID), slog.Any("error", err))
		return 0, reputation.LogEntry{}, err
	}
	a.metrics.ObserveLogEntry()
	a.emitter.Emit(reputation.NewUpdateLoggedEvent(c.ID, entry))
	return c.ID, entry, nil
}

// SubmitRootHash registers a candidate result for the active cycle against
// one of the miner's stake entries.
func (a *Arbiter) SubmitRootHash(ctx context.Context, miner common.Address, root common.Hash, nLeaves uint64, jrh common.Hash, entryIndex uint64) (sub Submission, err error) {
	_, span := a.startSpan(ctx, "mining.submit_root_hash",
		attribute.String("miner", miner.Hex()),
		attribute.String("root", root.Hex()),
		attribute.Int64("entryIndex", int64(entryIndex)))
	defer func() {
		if err != nil {
			a.metrics.ObserveSubmission(submissionLabel(err))
		}
		endSpan(span, err)
	}()

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock()
	a.advance(now)

	c := a.active
	if c == nil {
		return Submission{}, ErrNoActiveCycle
	}
	if c.Phase == PhaseDisputing {
		return Submission{}, ErrCycleDisputing
	}
	if _, banned := c.slashed[miner]; banned {
		return Submission{}, ErrMinerSlashed
	}
	if !now.Before(c.submissionEnd(a.cfg)) {
		if !now.Before(c.closeAt(a.cfg)) {
			return Submission{}, ErrWindowClosed
		}
		if _, ok := c.submitters[miner]; !ok {
			return Submission{}, ErrSubmitterOnly
		}
	}
	stake := a.stakes.Stake(miner)
	if stake == nil || stake.Cmp(a.cfg.MinStake) < 0 {
		return Submission{}, ErrInsufficientStake
	}
	entries := new(big.Int).Quo(stake, a.cfg.MinStake)
	if entryIndex == 0 || new(big.Int).SetUint64(entryIndex).Cmp(entries) > 0 {
		return Submission{}, ErrEntryIndex
	}
	if _, used := c.used[entryKey{miner: miner, index: entryIndex}]; used {
		return Submission{}, ErrEntryUsed
	}
	if len(c.submissions) >= a.cfg.MaxSubmissions {
		return Submission{}, ErrTooManySubmissions
	}
	if !Eligible(miner, entryIndex, root, now.Sub(c.WindowStart), a.cfg.EligibilityRamp) {
		return Submission{}, ErrIneligible
	}

	sub = Submission{
		Miner:      miner,
		EntryIndex: entryIndex,
		State:      reputation.State{Root: root, NLeaves: nLeaves},
		JRH:        jrh,
		At:         now,
	}
	sub.Candidate = c.record(sub)
	a.metrics.ObserveSubmission("accepted")
	a.emitter.Emit(events.SubmissionAccepted{
		Cycle:      c.ID,
		Miner:      miner,
		EntryIndex: entryIndex,
		Root:       root,
		NLeaves:    nLeaves,
		JRH:        jrh,
		Candidate:  sub.Candidate,
	})
	a.logger.Info("root hash submitted",
		slog.Uint64("cycle", c.ID),
		slog.String("miner", miner.Hex()),
		slog.Uint64("entryIndex", entryIndex),
		slog.String("root", root.Hex()),
		slog.Uint64("nLeaves", nLeaves),
		slog.Int("candidate", sub.Candidate))
	return sub, nil
}

func submissionLabel(err error) string {
	switch {
	case errors.Is(err, ErrNoActiveCycle):
		return "no_cycle"
	case errors.Is(err, ErrCycleDisputing):
		return "disputing"
	case errors.Is(err, ErrWindowClosed), errors.Is(err, ErrSubmitterOnly):
		return "window"
	case errors.Is(err, ErrInsufficientStake), errors.Is(err, ErrEntryIndex), errors.Is(err, ErrEntryUsed):
		return "stake"
	case errors.Is(err, ErrTooManySubmissions):
		return "limit"
	case errors.Is(err, ErrIneligible):
		return "ineligible"
	case errors.Is(err, ErrMinerSlashed):
		return "slashed"
	default:
		return "error"
	}
}

// participant resolves the match a miner answers for on behalf of candidate.
func (a *Arbiter) participant(pairingID uint64, candidate int, miner common.Address) (*match, dispute.Side, error) {
	m, ok := a.matches[pairingID]
	if !ok {
		return nil, 0, ErrUnknownPairing
	}
	side, ok := m.side(candidate)
	if !ok || !m.cycle.candidates[candidate].hasSubmitter(miner) {
		return nil, 0, ErrNotParticipant
	}
	return m, side, nil
}

func (a *Arbiter) respond(ctx context.Context, name string, pairingID uint64, candidate int, miner common.Address, fn func(*dispute.Pairing, dispute.Side, time.Time) error) (err error) {
	_, span := a.startSpan(ctx, name,
		attribute.Int64("pairing", int64(pairingID)),
		attribute.Int("candidate", candidate),
		attribute.String("miner", miner.Hex()))
	defer func() { endSpan(span, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock()
	a.advance(now)

	m, side, err := a.participant(pairingID, candidate, miner)
	if err != nil {
		return err
	}
	if err := fn(m.pairing, side, now); err != nil {
		return err
	}
	if m.pairing.Phase() == dispute.PhaseResolved {
		a.settle(m)
		if a.active == m.cycle {
			a.nextRound(now)
		}
	}
	return nil
}

// ConfirmJustification submits the first and last justification leaves for
// candidate in pairing pairingID.
func (a *Arbiter) ConfirmJustification(ctx context.Context, pairingID uint64, candidate int, miner common.Address, first, last reputation.JustificationProof) error {
	return a.respond(ctx, "mining.confirm_justification", pairingID, candidate, miner,
		func(p *dispute.Pairing, side dispute.Side, now time.Time) error {
			return p.ConfirmJustification(side, first, last, now)
		})
}

// RespondBisection reveals the justification leaves at the current probe.
func (a *Arbiter) RespondBisection(ctx context.Context, pairingID uint64, candidate int, miner common.Address, at, next reputation.JustificationProof) error {
	return a.respond(ctx, "mining.respond_bisection", pairingID, candidate, miner,
		func(p *dispute.Pairing, side dispute.Side, now time.Time) error {
			return p.RespondBisection(side, at, next, now)
		})
}

// RespondReplay submits the witness for the disputed step.
func (a *Arbiter) RespondReplay(ctx context.Context, pairingID uint64, candidate int, miner common.Address, w reputation.StepWitness) error {
	return a.respond(ctx, "mining.respond_replay", pairingID, candidate, miner,
		func(p *dispute.Pairing, side dispute.Side, now time.Time) error {
			return p.RespondReplay(side, w, now)
		})
}

// ConfirmNewHash drives the active cycle to confirmation once its windows
// and disputes allow it, and returns the resulting canonical state.
func (a *Arbiter) ConfirmNewHash(ctx context.Context) (conf Confirmation, err error) {
	_, span := a.startSpan(ctx, "mining.confirm_new_hash")
	defer func() { endSpan(span, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()
	before := a.active
	a.advance(a.clock())

	if before != nil && before.Phase == PhaseConfirmed {
		return a.canonical, nil
	}
	if c := a.active; c != nil {
		switch c.Phase {
		case PhaseSubmission:
			return Confirmation{}, ErrSubmissionsOpen
		default:
			return Confirmation{}, ErrCycleDisputing
		}
	}
	if !a.confirmed {
		return Confirmation{}, ErrNoActiveCycle
	}
	return a.canonical, nil
}

// Canonical returns the latest confirmed state. The bool is false before the
// first confirmation, when the canonical state is the empty trie.
func (a *Arbiter) Canonical() (Confirmation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canonical, a.confirmed
}

// History lists every confirmation in cycle order.
func (a *Arbiter) History() ([]Confirmation, error) {
	return a.store.history()
}

// Confirmation returns the confirmed state of cycle.
func (a *Arbiter) Confirmation(cycle uint64) (Confirmation, error) {
	return a.store.confirmation(cycle)
}

// VerifyProof checks p against the canonical root.
func (a *Arbiter) VerifyProof(p reputation.Proof) (reputation.Key, reputation.Entry, error) {
	a.mu.Lock()
	root := a.canonical.Root
	a.mu.Unlock()
	return reputation.VerifyProof(root, p)
}

// ActiveCycle describes the cycle being mined.
func (a *Arbiter) ActiveCycle() (CycleStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(a.clock())
	if a.active == nil {
		return CycleStatus{}, ErrNoActiveCycle
	}
	return a.active.status(a.cfg), nil
}

// AccumulatingCycle describes the cycle collecting log entries.
func (a *Arbiter) AccumulatingCycle() CycleStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(a.clock())
	return a.accumulating.status(a.cfg)
}

// CycleLog returns the update log of cycle id.
func (a *Arbiter) CycleLog(id uint64) ([]reputation.LogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case id == 0 || id > a.accumulating.ID:
		return nil, ErrUnknownCycle
	case id == a.accumulating.ID:
		return a.accumulating.Log.Entries(), nil
	case a.active != nil && id == a.active.ID:
		out := make([]reputation.LogEntry, len(a.active.Entries))
		for i, e := range a.active.Entries {
			out[i] = e.Clone()
		}
		return out, nil
	}
	return a.store.logs.LoadLog(id)
}

// Pairings lists the disputes of the active cycle, newest round last.
func (a *Arbiter) Pairings() []dispute.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(a.clock())
	out := make([]dispute.Status, 0, len(a.matches))
	for _, m := range a.matches {
		out = append(out, m.pairing.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pairing returns the status of one dispute.
func (a *Arbiter) Pairing(id uint64) (dispute.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(a.clock())
	m, ok := a.matches[id]
	if !ok {
		return dispute.Status{}, ErrUnknownPairing
	}
	return m.pairing.Status(), nil
}
