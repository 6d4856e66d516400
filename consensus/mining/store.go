package mining

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"repchain/native/reputation"
	"repchain/storage"
)

var (
	confirmationPrefix = []byte("mining/confirmed/")
	confirmedHeadKey   = []byte("mining/head")
	schedulerKey       = []byte("mining/scheduler")
)

// Confirmation is one canonical state in the chain of confirmed cycles.
type Confirmation struct {
	Cycle       uint64      `json:"cycle"`
	Root        common.Hash `json:"root"`
	NLeaves     uint64      `json:"nLeaves"`
	JRH         common.Hash `json:"jrh"`
	ConfirmedAt int64       `json:"confirmedAt"`
}

// State returns the confirmed reputation state.
func (c Confirmation) State() reputation.State {
	return reputation.State{Root: c.Root, NLeaves: c.NLeaves}
}

type schedulerMeta struct {
	Accumulating   uint64
	AccumulatingAt int64
	Active         uint64
	ActiveAt       int64
	Attempts       uint64
}

// store persists the scheduler position, confirmations and cycle logs.
type store struct {
	db   storage.Database
	logs *reputation.Store
}

func newStore(db storage.Database) *store {
	return &store{db: db, logs: reputation.NewStore(db)}
}

func confirmationKey(cycle uint64) []byte {
	key := make([]byte, len(confirmationPrefix)+8)
	copy(key, confirmationPrefix)
	binary.BigEndian.PutUint64(key[len(confirmationPrefix):], cycle)
	return key
}

func (s *store) saveConfirmation(c Confirmation) error {
	raw, err := rlp.EncodeToBytes(c)
	if err != nil {
		return fmt.Errorf("mining: encode confirmation: %w", err)
	}
	if err := s.db.Put(confirmationKey(c.Cycle), raw); err != nil {
		return err
	}
	var head [8]byte
	binary.BigEndian.PutUint64(head[:], c.Cycle)
	return s.db.Put(confirmedHeadKey, head[:])
}

func (s *store) confirmation(cycle uint64) (Confirmation, error) {
	raw, err := s.db.Get(confirmationKey(cycle))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Confirmation{}, ErrUnknownCycle
		}
		return Confirmation{}, err
	}
	var c Confirmation
	if err := rlp.DecodeBytes(raw, &c); err != nil {
		return Confirmation{}, fmt.Errorf("mining: decode confirmation: %w", err)
	}
	return c, nil
}

// latest returns the newest confirmation, or ErrNothingConfirmed.
func (s *store) latest() (Confirmation, error) {
	raw, err := s.db.Get(confirmedHeadKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Confirmation{}, ErrNothingConfirmed
		}
		return Confirmation{}, err
	}
	if len(raw) != 8 {
		return Confirmation{}, fmt.Errorf("mining: corrupt confirmation head")
	}
	return s.confirmation(binary.BigEndian.Uint64(raw))
}

func (s *store) history() ([]Confirmation, error) {
	var (
		out    []Confirmation
		decErr error
	)
	err := s.db.Iterate(confirmationPrefix, func(_, value []byte) bool {
		var c Confirmation
		if decErr = rlp.DecodeBytes(value, &c); decErr != nil {
			decErr = fmt.Errorf("mining: decode confirmation: %w", decErr)
			return false
		}
		out = append(out, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decErr
}

func (s *store) saveMeta(acc, active *Cycle) error {
	meta := schedulerMeta{}
	if acc != nil {
		meta.Accumulating = acc.ID
		meta.AccumulatingAt = acc.OpenedAt.UnixNano()
	}
	if active != nil {
		meta.Active = active.ID
		meta.ActiveAt = active.OpenedAt.UnixNano()
		meta.Attempts = uint64(active.Attempts)
	}
	raw, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return fmt.Errorf("mining: encode scheduler: %w", err)
	}
	return s.db.Put(schedulerKey, raw)
}

func (s *store) loadMeta() (schedulerMeta, bool, error) {
	raw, err := s.db.Get(schedulerKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return schedulerMeta{}, false, nil
		}
		return schedulerMeta{}, false, err
	}
	var meta schedulerMeta
	if err := rlp.DecodeBytes(raw, &meta); err != nil {
		return schedulerMeta{}, false, fmt.Errorf("mining: decode scheduler: %w", err)
	}
	return meta, true, nil
}

// restoreCycle rebuilds a cycle's log from its persisted entries.
func (s *store) restoreCycle(id uint64, openedAt int64) (*Cycle, error) {
	entries, err := s.logs.LoadLog(id)
	if err != nil {
		return nil, err
	}
	log, err := reputation.LogFromEntries(entries)
	if err != nil {
		return nil, fmt.Errorf("mining: restore cycle %d log: %w", id, err)
	}
	c := newCycle(id, time.Unix(0, openedAt))
	c.Log = log
	return c, nil
}
