package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"repchain/crypto"
	"repchain/services/archive"
)

const maxArchiveRows = 1000

// ArchiveQuery narrows the archive_* methods. Miner applies to
// archive_slashes only.
type ArchiveQuery struct {
	Type      string `json:"type,omitempty"`
	FromCycle uint64 `json:"fromCycle,omitempty"`
	ToCycle   uint64 `json:"toCycle,omitempty"`
	Miner     string `json:"miner,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ArchivedEvent is one stored event.
type ArchivedEvent struct {
	ID         uint64            `json:"id"`
	Type       string            `json:"type"`
	Cycle      uint64            `json:"cycle"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ArchivedSlash is one recorded slash.
type ArchivedSlash struct {
	Cycle     uint64    `json:"cycle"`
	Miner     string    `json:"miner"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ArchivedConfirmation is a confirmed cycle root.
type ArchivedConfirmation struct {
	Cycle       uint64    `json:"cycle"`
	Root        string    `json:"root"`
	NLeaves     uint64    `json:"nLeaves"`
	JRH         string    `json:"jrh,omitempty"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var q ArchiveQuery
	if perr := decodeParams(req, &q, true); perr != nil {
		writeError(w, http.StatusBadRequest, req.ID, perr.Code, perr.Message, perr.Data)
		return
	}
	if q.Limit <= 0 || q.Limit > maxArchiveRows {
		q.Limit = maxArchiveRows
	}
	switch req.Method {
	case MethodArchiveEvents:
		rows, err := s.archive.Events(archive.EventFilter{Type: q.Type, FromCycle: q.FromCycle, ToCycle: q.ToCycle, Limit: q.Limit})
		if err != nil {
			s.writeDomainError(w, r, req.ID, err)
			return
		}
		out := make([]ArchivedEvent, 0, len(rows))
		for _, row := range rows {
			evt := ArchivedEvent{ID: row.ID, Type: row.Type, Cycle: row.Cycle, CreatedAt: row.CreatedAt}
			_ = json.Unmarshal([]byte(row.Attributes), &evt.Attributes)
			out = append(out, evt)
		}
		writeResult(w, req.ID, out)
	case MethodArchiveSlashes:
		miner := ""
		if q.Miner != "" {
			addr, err := crypto.ParseAddress(q.Miner)
			if err != nil {
				writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "miner: "+err.Error())
				return
			}
			miner = crypto.MinerAddress(addr)
		}
		rows, err := s.archive.Slashes(miner)
		if err != nil {
			s.writeDomainError(w, r, req.ID, err)
			return
		}
		out := make([]ArchivedSlash, 0, len(rows))
		for _, row := range rows {
			out = append(out, ArchivedSlash{Cycle: row.Cycle, Miner: row.Miner, Amount: row.Amount, Reason: row.Reason, CreatedAt: row.CreatedAt})
		}
		writeResult(w, req.ID, out)
	default:
		rows, err := s.archive.Confirmations(q.Limit)
		if err != nil {
			s.writeDomainError(w, r, req.ID, err)
			return
		}
		out := make([]ArchivedConfirmation, 0, len(rows))
		for _, row := range rows {
			out = append(out, ArchivedConfirmation{Cycle: row.Cycle, Root: row.Root, NLeaves: row.NLeaves, JRH: row.JRH, ConfirmedAt: row.ConfirmedAt})
		}
		writeResult(w, req.ID, out)
	}
}
