package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"repchain/consensus/mining"
	"repchain/crypto"
	"repchain/native/reputation"
)

// Method names served by the arbiter.
const (
	MethodAppendUpdate         = "mining_appendUpdate"
	MethodActiveCycle          = "mining_activeCycle"
	MethodAccumulatingCycle    = "mining_accumulatingCycle"
	MethodCycleLog             = "mining_cycleLog"
	MethodSubmitRootHash       = "mining_submitRootHash"
	MethodConfirmJustification = "mining_confirmJustification"
	MethodRespondBisection     = "mining_respondBisection"
	MethodRespondReplay        = "mining_respondReplay"
	MethodConfirmNewHash       = "mining_confirmNewHash"
	MethodPairings             = "mining_pairings"
	MethodPairing              = "mining_pairing"
	MethodCanonical            = "mining_canonical"
	MethodConfirmation         = "mining_confirmation"
	MethodHistory              = "mining_history"
	MethodVerifyProof          = "mining_verifyProof"
	MethodStakeDeposit         = "stake_deposit"
	MethodStakeWithdraw        = "stake_withdraw"
	MethodStakeGet             = "stake_get"
	MethodArchiveEvents        = "archive_events"
	MethodArchiveSlashes       = "archive_slashes"
	MethodArchiveConfirmations = "archive_confirmations"
)

// SignatureHeader carries the miner's signature over the raw request body.
const SignatureHeader = "X-Repchain-Signature"

// StateJSON is a trie root together with its leaf count.
type StateJSON struct {
	Root    common.Hash `json:"root"`
	NLeaves uint64      `json:"nLeaves"`
}

func stateToJSON(s reputation.State) StateJSON {
	return StateJSON{Root: s.Root, NLeaves: s.NLeaves}
}

// State converts back into the domain type.
func (s StateJSON) State() reputation.State {
	return reputation.State{Root: s.Root, NLeaves: s.NLeaves}
}

// ProofJSON is a reputation inclusion proof.
type ProofJSON struct {
	Key        hexutil.Bytes `json:"key"`
	Value      hexutil.Bytes `json:"value"`
	BranchMask string        `json:"branchMask"`
	Siblings   []common.Hash `json:"siblings"`
}

// ProofToJSON renders a reputation proof.
func ProofToJSON(p reputation.Proof) ProofJSON {
	return ProofJSON{
		Key:        hexutil.Bytes(p.Key),
		Value:      hexutil.Bytes(p.Value),
		BranchMask: p.BranchMask.Hex(),
		Siblings:   p.Siblings,
	}
}

// Proof decodes the proof.
func (p ProofJSON) Proof() (reputation.Proof, error) {
	mask, err := parseMask(p.BranchMask)
	if err != nil {
		return reputation.Proof{}, err
	}
	return reputation.Proof{
		Key:        []byte(p.Key),
		Value:      []byte(p.Value),
		BranchMask: *mask,
		Siblings:   p.Siblings,
	}, nil
}

// JustificationProofJSON proves one intermediate state of a justification
// tree.
type JustificationProofJSON struct {
	Index      uint64        `json:"index"`
	State      StateJSON     `json:"state"`
	BranchMask string        `json:"branchMask"`
	Siblings   []common.Hash `json:"siblings"`
}

// JustificationToJSON renders a justification proof.
func JustificationToJSON(p reputation.JustificationProof) JustificationProofJSON {
	return JustificationProofJSON{
		Index:      p.Index,
		State:      stateToJSON(p.State),
		BranchMask: p.BranchMask.Hex(),
		Siblings:   p.Siblings,
	}
}

// Proof decodes the justification proof.
func (p JustificationProofJSON) Proof() (reputation.JustificationProof, error) {
	mask, err := parseMask(p.BranchMask)
	if err != nil {
		return reputation.JustificationProof{}, err
	}
	return reputation.JustificationProof{
		Index:      p.Index,
		State:      p.State.State(),
		BranchMask: *mask,
		Siblings:   p.Siblings,
	}, nil
}

// WitnessJSON is the leaf witness for a replayed step.
type WitnessJSON struct {
	Exists bool      `json:"exists"`
	Proof  ProofJSON `json:"proof"`
}

// WitnessToJSON renders a step witness.
func WitnessToJSON(w reputation.StepWitness) WitnessJSON {
	return WitnessJSON{Exists: w.Exists, Proof: ProofToJSON(w.Proof)}
}

// Witness decodes the witness.
func (w WitnessJSON) Witness() (reputation.StepWitness, error) {
	p, err := w.Proof.Proof()
	if err != nil {
		return reputation.StepWitness{}, err
	}
	return reputation.StepWitness{Exists: w.Exists, Proof: p}, nil
}

// LogEntryJSON is one reputation log entry. Amounts are signed decimals.
type LogEntryJSON struct {
	User             common.Address `json:"user"`
	Colony           common.Address `json:"colony"`
	Skill            uint64         `json:"skill"`
	Amount           string         `json:"amount"`
	NUpdates         uint64         `json:"nUpdates"`
	NPreviousUpdates uint64         `json:"nPreviousUpdates"`
}

// LogEntryToJSON renders a log entry.
func LogEntryToJSON(e reputation.LogEntry) LogEntryJSON {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return LogEntryJSON{
		User:             e.User,
		Colony:           e.Colony,
		Skill:            e.Skill,
		Amount:           amount,
		NUpdates:         e.NUpdates,
		NPreviousUpdates: e.NPreviousUpdates,
	}
}

// Entry decodes the log entry.
func (e LogEntryJSON) Entry() (reputation.LogEntry, error) {
	amount, err := ParseAmount(e.Amount)
	if err != nil {
		return reputation.LogEntry{}, err
	}
	return reputation.LogEntry{
		User:             e.User,
		Colony:           e.Colony,
		Skill:            e.Skill,
		Amount:           amount,
		NUpdates:         e.NUpdates,
		NPreviousUpdates: e.NPreviousUpdates,
	}, nil
}

// SubmissionJSON reports an accepted submission.
type SubmissionJSON struct {
	Miner      common.Address `json:"miner"`
	EntryIndex uint64         `json:"entryIndex"`
	State      StateJSON      `json:"state"`
	JRH        common.Hash    `json:"jrh"`
	Candidate  int            `json:"candidate"`
	At         int64          `json:"at"`
}

func submissionToJSON(s mining.Submission) SubmissionJSON {
	return SubmissionJSON{
		Miner:      s.Miner,
		EntryIndex: s.EntryIndex,
		State:      stateToJSON(s.State),
		JRH:        s.JRH,
		Candidate:  s.Candidate,
		At:         s.At.Unix(),
	}
}

// AppendUpdateParams records a reputation delta. An empty user targets the
// colony-wide totals only.
type AppendUpdateParams struct {
	Colony string `json:"colony"`
	Skill  uint64 `json:"skill"`
	User   string `json:"user,omitempty"`
	Amount string `json:"amount"`
}

// AppendUpdateResult names the cycle the delta was logged in.
type AppendUpdateResult struct {
	Cycle uint64       `json:"cycle"`
	Entry LogEntryJSON `json:"entry"`
}

// CycleParams selects a cycle.
type CycleParams struct {
	Cycle uint64 `json:"cycle"`
}

// SubmitParams is a root hash submission. The miner is the request signer.
type SubmitParams struct {
	Root       common.Hash `json:"root"`
	NLeaves    uint64      `json:"nLeaves"`
	JRH        common.Hash `json:"jrh"`
	EntryIndex uint64      `json:"entryIndex"`
}

// JustificationParams answers the opening query of a pairing.
type JustificationParams struct {
	Pairing   uint64                 `json:"pairing"`
	Candidate int                    `json:"candidate"`
	First     JustificationProofJSON `json:"first"`
	Last      JustificationProofJSON `json:"last"`
}

// BisectionParams answers one bisection probe.
type BisectionParams struct {
	Pairing   uint64                 `json:"pairing"`
	Candidate int                    `json:"candidate"`
	At        JustificationProofJSON `json:"at"`
	Next      JustificationProofJSON `json:"next"`
}

// ReplayParams answers the replay challenge.
type ReplayParams struct {
	Pairing   uint64      `json:"pairing"`
	Candidate int         `json:"candidate"`
	Witness   WitnessJSON `json:"witness"`
}

// PairingParams selects a pairing.
type PairingParams struct {
	Pairing uint64 `json:"pairing"`
}

// CanonicalResult wraps the canonical confirmation, absent before the first
// cycle is confirmed.
type CanonicalResult struct {
	Confirmed    bool                 `json:"confirmed"`
	Confirmation *mining.Confirmation `json:"confirmation,omitempty"`
}

// VerifyResult is a decoded, verified reputation leaf.
type VerifyResult struct {
	Colony   common.Address  `json:"colony"`
	Skill    uint64          `json:"skill"`
	User     *common.Address `json:"user,omitempty"`
	Amount   string          `json:"amount"`
	UID      uint64          `json:"uid"`
	NUpdates uint64          `json:"nUpdates"`
}

// StakeParams moves stake for a miner.
type StakeParams struct {
	Miner  string `json:"miner"`
	Amount string `json:"amount,omitempty"`
}

// StakeResult reports a miner's stake.
type StakeResult struct {
	Miner   common.Address `json:"miner"`
	Bech32  string         `json:"bech32"`
	Stake   string         `json:"stake"`
	Slashed string         `json:"slashed"`
}

// ParseAmount parses a signed decimal amount.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func parseMask(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	mask, err := uint256.FromHex(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid branch mask: %w", err)
	}
	return mask, nil
}

func parseOptionalAddress(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return crypto.ParseAddress(strings.TrimSpace(raw))
}
