package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"repchain/crypto"
	"repchain/native/reputation"
)

func (s *Server) handleAppendUpdate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params AppendUpdateParams
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	colony, err := crypto.ParseAddress(params.Colony)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "colony: "+err.Error())
		return
	}
	user, err := parseOptionalAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "user: "+err.Error())
		return
	}
	amount, err := ParseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	cycle, entry, err := s.arbiter.AppendUpdate(r.Context(), colony, params.Skill, user, amount)
	if err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, AppendUpdateResult{Cycle: cycle, Entry: LogEntryToJSON(entry)})
}

func (s *Server) handleActiveCycle(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	status, err := s.arbiter.ActiveCycle()
	if err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, status)
}

func (s *Server) handleAccumulatingCycle(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.arbiter.AccumulatingCycle())
}

func (s *Server) handleCycleLog(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params CycleParams
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	entries, err := s.arbiter.CycleLog(params.Cycle)
	if err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	out := make([]LogEntryJSON, len(entries))
	for i, e := range entries {
		out[i] = LogEntryToJSON(e)
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleSubmitRootHash(w http.ResponseWriter, r *http.Request, req *RPCRequest, miner common.Address) {
	var params SubmitParams
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	sub, err := s.arbiter.SubmitRootHash(r.Context(), miner, params.Root, params.NLeaves, params.JRH, params.EntryIndex)
	if err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, submissionToJSON(sub))
}

func (s *Server) handleConfirmJustification(w http.ResponseWriter, r *http.Request, req *RPCRequest, miner common.Address) {
	var params JustificationParams
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	first, err := params.First.Proof()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "first: "+err.Error())
		return
	}
	last, err := params.Last.Proof()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "last: "+err.Error())
		return
	}
	if err := s.arbiter.ConfirmJustification(r.Context(), params.Pairing, params.Candidate, miner, first, last); err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	s.writePairing(w, r, req, params.Pairing)
}

func (s *Server) handleRespondBisection(w http.ResponseWriter, r *http.Request, req *RPCRequest, miner common.Address) {
	var params BisectionParams
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	at, err := params.At.Proof()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at: "+err.Error())
		return
	}
	next, err := params.Next.Proof()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "next: "+err.Error())
		return
	}
	if err := s.arbiter.RespondBisection(r.Context(), params.Pairing, params.Candidate, miner, at, next); err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	s.writePairing(w, r, req, params.Pairing)
}

func (s *Server) handleRespondReplay(w http.ResponseWriter, r *http.Request, req *RPCRequest, miner common.Address) {
	var params ReplayParams
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	witness, err := params.Witness.Witness()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "witness: "+err.Error())
		return
	}
	if err := s.arbiter.RespondReplay(r.Context(), params.Pairing, params.Candidate, miner, witness); err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	s.writePairing(w, r, req, params.Pairing)
}

// writePairing answers a dispute response with the pairing's new status. A
// pairing that resolved and was cleared with its cycle reports null.
func (s *Server) writePairing(w http.ResponseWriter, _ *http.Request, req *RPCRequest, id uint64) {
	status, err := s.arbiter.Pairing(id)
	if err != nil {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, status)
}

func (s *Server) handleConfirmNewHash(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	conf, err := s.arbiter.ConfirmNewHash(r.Context())
	if err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, conf)
}

func (s *Server) handlePairings(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.arbiter.Pairings())
}

func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params PairingParams
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	status, err := s.arbiter.Pairing(params.Pairing)
	if err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, status)
}

func (s *Server) handleCanonical(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	conf, ok := s.arbiter.Canonical()
	result := CanonicalResult{Confirmed: ok}
	if ok {
		result.Confirmation = &conf
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params CycleParams
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	conf, err := s.arbiter.Confirmation(params.Cycle)
	if err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, conf)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	history, err := s.arbiter.History()
	if err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, history)
}

func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params ProofJSON
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	proof, err := params.Proof()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, entry, err := s.arbiter.VerifyProof(proof)
	if err != nil {
		s.writeDomainError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, verifyResult(key, entry))
}

func verifyResult(key reputation.Key, entry reputation.Entry) VerifyResult {
	out := VerifyResult{
		Colony:   key.Colony,
		Skill:    key.Skill,
		Amount:   "0",
		UID:      entry.UID,
		NUpdates: entry.NUpdates,
	}
	if !key.ColonyWide() {
		user := key.User
		out.User = &user
	}
	if entry.Amount != nil {
		out.Amount = entry.Amount.String()
	}
	return out
}
