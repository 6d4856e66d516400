package rpc

import (
	"log/slog"
	"net/http"

	"repchain/crypto"
)

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params StakeParams
	if perr := decodeParams(req, &params, false); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	miner, err := crypto.ParseAddress(params.Miner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "miner: "+err.Error())
		return
	}
	if req.Method != MethodStakeGet {
		amount, err := ParseAmount(params.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		if req.Method == MethodStakeDeposit {
			err = s.stakes.Deposit(miner, amount)
		} else {
			err = s.stakes.Withdraw(miner, amount)
		}
		if err != nil {
			if _, ok := classify(err); ok {
				s.writeDomainError(w, r, req.ID, err)
			} else {
				writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			}
			return
		}
		s.logger.Info("stake updated",
			slog.String("requestId", RequestIDFrom(r.Context())),
			slog.String("method", req.Method),
			slog.String("miner", crypto.MinerAddress(miner)),
			slog.String("amount", amount.String()))
	}
	writeResult(w, req.ID, StakeResult{
		Miner:   miner,
		Bech32:  crypto.MinerAddress(miner),
		Stake:   s.stakes.Stake(miner).String(),
		Slashed: s.stakes.Slashed(miner).String(),
	})
}
