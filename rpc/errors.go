package rpc

import (
	"errors"
	"fmt"
	"net/http"

	"repchain/consensus/mining"
	"repchain/consensus/mining/dispute"
	"repchain/native/reputation"
	"repchain/state/bank"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeRateLimited    = -32020
	codeRejected       = -32030
)

type domainError struct {
	err    error
	reason string
	status int
	code   int
}

// domainErrors maps arbiter sentinels onto stable reason strings so clients
// can restore them with errors.Is.
var domainErrors = []domainError{
	{mining.ErrNoActiveCycle, "no_active_cycle", http.StatusConflict, codeRejected},
	{mining.ErrCycleDisputing, "cycle_disputing", http.StatusConflict, codeRejected},
	{mining.ErrWindowClosed, "window_closed", http.StatusConflict, codeRejected},
	{mining.ErrSubmitterOnly, "submitter_only", http.StatusConflict, codeRejected},
	{mining.ErrSubmissionsOpen, "submissions_open", http.StatusTooEarly, codeRejected},
	{mining.ErrInsufficientStake, "insufficient_stake", http.StatusForbidden, codeRejected},
	{mining.ErrEntryIndex, "entry_index", http.StatusBadRequest, codeRejected},
	{mining.ErrEntryUsed, "entry_used", http.StatusConflict, codeRejected},
	{mining.ErrTooManySubmissions, "too_many_submissions", http.StatusConflict, codeRejected},
	{mining.ErrIneligible, "ineligible", http.StatusTooEarly, codeRejected},
	{mining.ErrMinerSlashed, "miner_slashed", http.StatusForbidden, codeRejected},
	{mining.ErrNotParticipant, "not_participant", http.StatusForbidden, codeRejected},
	{mining.ErrUnknownPairing, "unknown_pairing", http.StatusNotFound, codeNotFound},
	{mining.ErrUnknownCycle, "unknown_cycle", http.StatusNotFound, codeNotFound},
	{mining.ErrNothingConfirmed, "nothing_confirmed", http.StatusNotFound, codeNotFound},
	{dispute.ErrWrongPhase, "wrong_phase", http.StatusConflict, codeRejected},
	{dispute.ErrAlreadyResponded, "already_responded", http.StatusConflict, codeRejected},
	{dispute.ErrUnknownSide, "unknown_side", http.StatusBadRequest, codeRejected},
	{dispute.ErrInvalidProof, "invalid_proof", http.StatusBadRequest, codeRejected},
	{reputation.ErrJustificationMismatch, "justification_mismatch", http.StatusBadRequest, codeRejected},
	{reputation.ErrProofMismatch, "proof_mismatch", http.StatusBadRequest, codeRejected},
	{reputation.ErrInvalidWitness, "invalid_witness", http.StatusBadRequest, codeRejected},
	{reputation.ErrUnknownSkill, "unknown_skill", http.StatusBadRequest, codeRejected},
	{reputation.ErrMalformedKey, "malformed_key", http.StatusBadRequest, codeRejected},
	{reputation.ErrMalformedValue, "malformed_value", http.StatusBadRequest, codeRejected},
	{bank.ErrInsufficientStake, "insufficient_balance", http.StatusBadRequest, codeRejected},
}

func classify(err error) (domainError, bool) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d, true
		}
	}
	return domainError{}, false
}

// Error is a JSON-RPC error returned by the arbiter. Unwrap restores the
// arbiter sentinel when the reason is known.
type Error struct {
	Code    int
	Message string
	Reason  string
	Status  int
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("rpc: %s (%s, code %d)", e.Message, e.Reason, e.Code)
	}
	return fmt.Sprintf("rpc: %s (code %d)", e.Message, e.Code)
}

// Unwrap implements errors.Unwrap.
func (e *Error) Unwrap() error {
	for _, d := range domainErrors {
		if d.reason == e.Reason {
			return d.err
		}
	}
	return nil
}
