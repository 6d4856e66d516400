package minerd

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"repchain/consensus/mining"
	"repchain/consensus/mining/dispute"
	"repchain/native/reputation"
)

// SubmitRequest is one candidate root hash submission.
type SubmitRequest struct {
	Root       common.Hash
	NLeaves    uint64
	JRH        common.Hash
	EntryIndex uint64
}

// ArbiterClient is the miner's view of the arbiter. Implementations
// authenticate requests as the miner they were built for.
type ArbiterClient interface {
	Canonical(ctx context.Context) (mining.Confirmation, bool, error)
	Confirmation(ctx context.Context, cycle uint64) (mining.Confirmation, error)
	ActiveCycle(ctx context.Context) (mining.CycleStatus, error)
	CycleLog(ctx context.Context, cycle uint64) ([]reputation.LogEntry, error)
	Submit(ctx context.Context, req SubmitRequest) (mining.Submission, error)
	Pairings(ctx context.Context) ([]dispute.Status, error)
	ConfirmJustification(ctx context.Context, pairing uint64, candidate int, first, last reputation.JustificationProof) error
	RespondBisection(ctx context.Context, pairing uint64, candidate int, at, next reputation.JustificationProof) error
	RespondReplay(ctx context.Context, pairing uint64, candidate int, w reputation.StepWitness) error
}
