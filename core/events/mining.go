package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"repchain/core/types"
	"repchain/crypto"
)

const (
	TypeCycleActivated     = "mining.cycleActivated"
	TypeSubmissionAccepted = "mining.submissionAccepted"
	TypePairingOpened      = "mining.pairingOpened"
	TypePairingResolved    = "mining.pairingResolved"
	TypeMinerSlashed       = "mining.minerSlashed"
	TypeCycleRetried       = "mining.cycleRetried"
	TypeCycleConfirmed     = "mining.cycleConfirmed"
)

// CycleActivated is emitted when an accumulating cycle closes and opens for
// submissions.
type CycleActivated struct {
	Cycle       uint64
	PrevRoot    common.Hash
	PrevLeaves  uint64
	LogEntries  int
	LogUpdates  uint64
	LogDigest   [32]byte
	WindowStart int64
}

func (CycleActivated) EventType() string { return TypeCycleActivated }

func (e CycleActivated) Event() *types.Event {
	return &types.Event{Type: TypeCycleActivated, Attributes: map[string]string{
		"cycle":       strconv.FormatUint(e.Cycle, 10),
		"prevRoot":    e.PrevRoot.Hex(),
		"prevLeaves":  strconv.FormatUint(e.PrevLeaves, 10),
		"logEntries":  strconv.Itoa(e.LogEntries),
		"logUpdates":  strconv.FormatUint(e.LogUpdates, 10),
		"logDigest":   common.Hash(e.LogDigest).Hex(),
		"windowStart": strconv.FormatInt(e.WindowStart, 10),
	}}
}

// SubmissionAccepted records one eligible root hash submission.
type SubmissionAccepted struct {
	Cycle      uint64
	Miner      common.Address
	EntryIndex uint64
	Root       common.Hash
	NLeaves    uint64
	JRH        common.Hash
	Candidate  int
}

func (SubmissionAccepted) EventType() string { return TypeSubmissionAccepted }

func (e SubmissionAccepted) Event() *types.Event {
	return &types.Event{Type: TypeSubmissionAccepted, Attributes: map[string]string{
		"cycle":      strconv.FormatUint(e.Cycle, 10),
		"miner":      crypto.MinerAddress(e.Miner),
		"entryIndex": strconv.FormatUint(e.EntryIndex, 10),
		"root":       e.Root.Hex(),
		"nLeaves":    strconv.FormatUint(e.NLeaves, 10),
		"jrh":        e.JRH.Hex(),
		"candidate":  strconv.Itoa(e.Candidate),
	}}
}

// PairingOpened marks the start of a dispute between two candidates.
type PairingOpened struct {
	Cycle   uint64
	Pairing uint64
	Round   int
	A, B    int
}

func (PairingOpened) EventType() string { return TypePairingOpened }

func (e PairingOpened) Event() *types.Event {
	return &types.Event{Type: TypePairingOpened, Attributes: map[string]string{
		"cycle":   strconv.FormatUint(e.Cycle, 10),
		"pairing": strconv.FormatUint(e.Pairing, 10),
		"round":   strconv.Itoa(e.Round),
		"a":       strconv.Itoa(e.A),
		"b":       strconv.Itoa(e.B),
	}}
}

// PairingResolved reports the outcome of a dispute.
type PairingResolved struct {
	Cycle      uint64
	Pairing    uint64
	Outcome    string
	Winner     int
	Losers     []int
	Divergence uint64
	Rounds     int
}

func (PairingResolved) EventType() string { return TypePairingResolved }

func (e PairingResolved) Event() *types.Event {
	attrs := map[string]string{
		"cycle":      strconv.FormatUint(e.Cycle, 10),
		"pairing":    strconv.FormatUint(e.Pairing, 10),
		"outcome":    e.Outcome,
		"winner":     strconv.Itoa(e.Winner),
		"divergence": strconv.FormatUint(e.Divergence, 10),
		"rounds":     strconv.Itoa(e.Rounds),
	}
	for i, l := range e.Losers {
		attrs["loser"+strconv.Itoa(i)] = strconv.Itoa(l)
	}
	return &types.Event{Type: TypePairingResolved, Attributes: attrs}
}

// MinerSlashed reports stake burnt from a losing submitter.
type MinerSlashed struct {
	Cycle  uint64
	Miner  common.Address
	Amount *big.Int
	Reason string
}

func (MinerSlashed) EventType() string { return TypeMinerSlashed }

func (e MinerSlashed) Event() *types.Event {
	return &types.Event{Type: TypeMinerSlashed, Attributes: map[string]string{
		"cycle":  strconv.FormatUint(e.Cycle, 10),
		"miner":  crypto.MinerAddress(e.Miner),
		"amount": formatAmount(e.Amount),
		"reason": e.Reason,
	}}
}

// CycleRetried is emitted when a submission window closes with nothing to
// confirm.
type CycleRetried struct {
	Cycle   uint64
	Attempt int
}

func (CycleRetried) EventType() string { return TypeCycleRetried }

func (e CycleRetried) Event() *types.Event {
	return &types.Event{Type: TypeCycleRetried, Attributes: map[string]string{
		"cycle":   strconv.FormatUint(e.Cycle, 10),
		"attempt": strconv.Itoa(e.Attempt),
	}}
}

// CycleConfirmed announces a new canonical reputation root.
type CycleConfirmed struct {
	Cycle   uint64
	Root    common.Hash
	NLeaves uint64
	JRH     common.Hash
}

func (CycleConfirmed) EventType() string { return TypeCycleConfirmed }

func (e CycleConfirmed) Event() *types.Event {
	return &types.Event{Type: TypeCycleConfirmed, Attributes: map[string]string{
		"cycle":   strconv.FormatUint(e.Cycle, 10),
		"root":    e.Root.Hex(),
		"nLeaves": strconv.FormatUint(e.NLeaves, 10),
		"jrh":     e.JRH.Hex(),
	}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
