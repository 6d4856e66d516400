package reputation

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"repchain/storage"
)

var (
	trieSnapshotPrefix = []byte("reputation/trie/")
	updateLogPrefix    = []byte("reputation/log/")
	headKey            = []byte("reputation/head")

	// ErrSnapshotNotFound marks cycles without a persisted trie.
	ErrSnapshotNotFound = errors.New("reputation: snapshot not found")
	// ErrSnapshotCorrupt is returned when a persisted trie does not rebuild to
	// the root it was stored with.
	ErrSnapshotCorrupt = errors.New("reputation: snapshot corrupt")
)

func cycleKey(prefix []byte, cycle uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], cycle)
	return key
}

type storedLeaf struct {
	Key   []byte
	Value []byte
}

type storedTrie struct {
	Cycle   uint64
	Root    common.Hash
	NLeaves uint64
	Leaves  []storedLeaf
}

type storedLogEntry struct {
	User             common.Address
	Amount           [32]byte
	Skill            uint64
	Colony           common.Address
	NUpdates         uint64
	NPreviousUpdates uint64
}

// Store persists confirmed tries and cycle logs so a restarted node resumes
// from the last canonical state.
type Store struct {
	db storage.Database
}

// NewStore binds a store to db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// SaveTrie persists the leaf set of t as the confirmed trie of cycle and
// advances the head.
func (s *Store) SaveTrie(cycle uint64, t *Trie) error {
	if s == nil || s.db == nil {
		return errors.New("reputation: storage unavailable")
	}
	stored := storedTrie{Cycle: cycle, Root: t.RootHash(), NLeaves: t.Len()}
	t.Walk(func(rawKey, rawValue []byte) bool {
		stored.Leaves = append(stored.Leaves, storedLeaf{Key: rawKey, Value: rawValue})
		return true
	})
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	if err := s.db.Put(cycleKey(trieSnapshotPrefix, cycle), encoded); err != nil {
		return err
	}
	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, cycle)
	return s.db.Put(headKey, head)
}

// LoadTrie rebuilds the confirmed trie of cycle.
func (s *Store) LoadTrie(cycle uint64) (*Trie, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("reputation: storage unavailable")
	}
	encoded, err := s.db.Get(cycleKey(trieSnapshotPrefix, cycle))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: cycle %d", ErrSnapshotNotFound, cycle)
	}
	if err != nil {
		return nil, err
	}
	var stored storedTrie
	if err := rlp.DecodeBytes(encoded, &stored); err != nil {
		return nil, err
	}
	t := NewTrie()
	for _, leaf := range stored.Leaves {
		t.Insert(leaf.Key, leaf.Value)
	}
	if t.RootHash() != stored.Root || t.Len() != stored.NLeaves {
		return nil, fmt.Errorf("%w: cycle %d", ErrSnapshotCorrupt, cycle)
	}
	return t, nil
}

// Latest returns the most recently saved trie and its cycle.
func (s *Store) Latest() (uint64, *Trie, error) {
	if s == nil || s.db == nil {
		return 0, nil, errors.New("reputation: storage unavailable")
	}
	head, err := s.db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil, ErrSnapshotNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	if len(head) != 8 {
		return 0, nil, ErrSnapshotCorrupt
	}
	cycle := binary.BigEndian.Uint64(head)
	t, err := s.LoadTrie(cycle)
	if err != nil {
		return 0, nil, err
	}
	return cycle, t, nil
}

// PruneBefore drops tries of cycles older than cycle.
func (s *Store) PruneBefore(cycle uint64) error {
	var stale [][]byte
	err := s.db.Iterate(trieSnapshotPrefix, func(key, _ []byte) bool {
		if len(key) != len(trieSnapshotPrefix)+8 {
			return true
		}
		if binary.BigEndian.Uint64(key[len(trieSnapshotPrefix):]) < cycle {
			stale = append(stale, key)
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	for _, key := range stale {
		if err := s.db.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func logEntryKey(cycle uint64, index int) []byte {
	key := cycleKey(updateLogPrefix, cycle)
	return binary.BigEndian.AppendUint64(key, uint64(index))
}

func encodeLogEntry(e LogEntry) ([]byte, error) {
	return rlp.EncodeToBytes(&storedLogEntry{
		User:             e.User,
		Amount:           EncodeAmount(e.Amount),
		Skill:            e.Skill,
		Colony:           e.Colony,
		NUpdates:         e.NUpdates,
		NPreviousUpdates: e.NPreviousUpdates,
	})
}

// AppendLog persists entry as the index-th entry of cycle's update log.
func (s *Store) AppendLog(cycle uint64, index int, entry LogEntry) error {
	if s == nil || s.db == nil {
		return errors.New("reputation: storage unavailable")
	}
	encoded, err := encodeLogEntry(entry)
	if err != nil {
		return err
	}
	return s.db.Put(logEntryKey(cycle, index), encoded)
}

// SaveLog persists the whole update log of cycle.
func (s *Store) SaveLog(cycle uint64, entries []LogEntry) error {
	for i, e := range entries {
		if err := s.AppendLog(cycle, i, e); err != nil {
			return err
		}
	}
	return nil
}

// LoadLog returns the persisted update log of cycle in append order. A cycle
// without entries yields an empty log.
func (s *Store) LoadLog(cycle uint64) ([]LogEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("reputation: storage unavailable")
	}
	var (
		entries []LogEntry
		decErr  error
	)
	err := s.db.Iterate(cycleKey(updateLogPrefix, cycle), func(_, value []byte) bool {
		var stored storedLogEntry
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			decErr = err
			return false
		}
		amount, err := DecodeAmount(stored.Amount[:])
		if err != nil {
			decErr = fmt.Errorf("log entry %d: %w", len(entries), err)
			return false
		}
		entries = append(entries, LogEntry{
			User:             stored.User,
			Amount:           amount,
			Skill:            stored.Skill,
			Colony:           stored.Colony,
			NUpdates:         stored.NUpdates,
			NPreviousUpdates: stored.NPreviousUpdates,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, decErr
	}
	return entries, nil
}
