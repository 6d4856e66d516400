package minerd

import (
	"context"
	"fmt"

	"repchain/consensus/mining"
	"repchain/consensus/mining/dispute"
	"repchain/native/reputation"
	"repchain/rpc"
)

// RPCClient talks to a remote arbiter over JSON-RPC. Dispute responses and
// submissions are signed with the miner key held by the underlying client.
type RPCClient struct {
	rpc *rpc.Client
}

// NewRPCClient wraps an rpc.Client.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{rpc: c}
}

var _ ArbiterClient = (*RPCClient)(nil)

func (c *RPCClient) Canonical(ctx context.Context) (mining.Confirmation, bool, error) {
	var result rpc.CanonicalResult
	if err := c.rpc.Call(ctx, rpc.MethodCanonical, nil, &result, false); err != nil {
		return mining.Confirmation{}, false, err
	}
	if !result.Confirmed || result.Confirmation == nil {
		return mining.Confirmation{}, false, nil
	}
	return *result.Confirmation, true, nil
}

func (c *RPCClient) Confirmation(ctx context.Context, cycle uint64) (mining.Confirmation, error) {
	var conf mining.Confirmation
	err := c.rpc.Call(ctx, rpc.MethodConfirmation, rpc.CycleParams{Cycle: cycle}, &conf, false)
	return conf, err
}

func (c *RPCClient) ActiveCycle(ctx context.Context) (mining.CycleStatus, error) {
	var st mining.CycleStatus
	err := c.rpc.Call(ctx, rpc.MethodActiveCycle, nil, &st, false)
	return st, err
}

func (c *RPCClient) CycleLog(ctx context.Context, cycle uint64) ([]reputation.LogEntry, error) {
	var raw []rpc.LogEntryJSON
	if err := c.rpc.Call(ctx, rpc.MethodCycleLog, rpc.CycleParams{Cycle: cycle}, &raw, false); err != nil {
		return nil, err
	}
	entries := make([]reputation.LogEntry, len(raw))
	for i, e := range raw {
		entry, err := e.Entry()
		if err != nil {
			return nil, fmt.Errorf("minerd: log entry %d: %w", i, err)
		}
		entries[i] = entry
	}
	return entries, nil
}

func (c *RPCClient) Submit(ctx context.Context, req SubmitRequest) (mining.Submission, error) {
	var res rpc.SubmissionJSON
	err := c.rpc.Call(ctx, rpc.MethodSubmitRootHash, rpc.SubmitParams{
		Root:       req.Root,
		NLeaves:    req.NLeaves,
		JRH:        req.JRH,
		EntryIndex: req.EntryIndex,
	}, &res, true)
	if err != nil {
		return mining.Submission{}, err
	}
	return mining.Submission{
		Miner:      res.Miner,
		EntryIndex: res.EntryIndex,
		State:      res.State.State(),
		JRH:        res.JRH,
		Candidate:  res.Candidate,
	}, nil
}

func (c *RPCClient) Pairings(ctx context.Context) ([]dispute.Status, error) {
	var out []dispute.Status
	err := c.rpc.Call(ctx, rpc.MethodPairings, nil, &out, false)
	return out, err
}

func (c *RPCClient) ConfirmJustification(ctx context.Context, pairing uint64, candidate int, first, last reputation.JustificationProof) error {
	return c.rpc.Call(ctx, rpc.MethodConfirmJustification, rpc.JustificationParams{
		Pairing:   pairing,
		Candidate: candidate,
		First:     rpc.JustificationToJSON(first),
		Last:      rpc.JustificationToJSON(last),
	}, nil, true)
}

func (c *RPCClient) RespondBisection(ctx context.Context, pairing uint64, candidate int, at, next reputation.JustificationProof) error {
	return c.rpc.Call(ctx, rpc.MethodRespondBisection, rpc.BisectionParams{
		Pairing:   pairing,
		Candidate: candidate,
		At:        rpc.JustificationToJSON(at),
		Next:      rpc.JustificationToJSON(next),
	}, nil, true)
}

func (c *RPCClient) RespondReplay(ctx context.Context, pairing uint64, candidate int, w reputation.StepWitness) error {
	return c.rpc.Call(ctx, rpc.MethodRespondReplay, rpc.ReplayParams{
		Pairing:   pairing,
		Candidate: candidate,
		Witness:   rpc.WitnessToJSON(w),
	}, nil, true)
}
