package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"repchain/storage"
)

var (
	stakePrefix = []byte("bank/stake/")
	genesisKey  = []byte("bank/genesis")

	// ErrInsufficientStake is returned when a withdrawal exceeds the stake.
	ErrInsufficientStake = errors.New("bank: insufficient stake")
)

// Slasher burns part of a miner's stake.
type Slasher interface {
	Slash(addr common.Address, amount *big.Int) error
}

// NoopSlasher refuses to slash. It backs deployments that track stake
// elsewhere and only want the decision logged.
type NoopSlasher struct {
	enabled bool
}

func NewNoopSlasher(enabled bool) *NoopSlasher {
	return &NoopSlasher{enabled: enabled}
}

func (s *NoopSlasher) Slash(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errors.New("bank: slash amount cannot be negative")
	}
	if !s.enabled {
		return errors.New("bank: slashing disabled")
	}
	return errors.New("bank: slashing not implemented")
}

// StakeLedger tracks miner stakes in a storage.Database. It satisfies Slasher.
type StakeLedger struct {
	mu sync.Mutex
	db storage.Database
}

// NewStakeLedger binds a ledger to db.
func NewStakeLedger(db storage.Database) *StakeLedger {
	return &StakeLedger{db: db}
}

type storedStake struct {
	Amount  *big.Int
	Slashed *big.Int
}

func stakeKey(addr common.Address) []byte {
	return append(append([]byte(nil), stakePrefix...), addr[:]...)
}

func (l *StakeLedger) load(addr common.Address) (storedStake, error) {
	raw, err := l.db.Get(stakeKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return storedStake{Amount: new(big.Int), Slashed: new(big.Int)}, nil
	}
	if err != nil {
		return storedStake{}, err
	}
	var s storedStake
	if err := rlp.DecodeBytes(raw, &s); err != nil {
		return storedStake{}, err
	}
	if s.Amount == nil {
		s.Amount = new(big.Int)
	}
	if s.Slashed == nil {
		s.Slashed = new(big.Int)
	}
	return s, nil
}

func (l *StakeLedger) save(addr common.Address, s storedStake) error {
	raw, err := rlp.EncodeToBytes(&s)
	if err != nil {
		return err
	}
	return l.db.Put(stakeKey(addr), raw)
}

// Deposit adds amount to addr's stake.
func (l *StakeLedger) Deposit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("bank: deposit must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.load(addr)
	if err != nil {
		return err
	}
	s.Amount.Add(s.Amount, amount)
	return l.save(addr, s)
}

// Withdraw removes amount from addr's stake.
func (l *StakeLedger) Withdraw(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("bank: withdrawal must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.load(addr)
	if err != nil {
		return err
	}
	if s.Amount.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientStake, s.Amount, amount)
	}
	s.Amount.Sub(s.Amount, amount)
	return l.save(addr, s)
}

// Stake returns addr's current stake. Read errors count as zero stake.
func (l *StakeLedger) Stake(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.load(addr)
	if err != nil {
		return new(big.Int)
	}
	return s.Amount
}

// Slashed returns the total burnt from addr so far.
func (l *StakeLedger) Slashed(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.load(addr)
	if err != nil {
		return new(big.Int)
	}
	return s.Slashed
}

// Slash burns up to amount of addr's stake.
func (l *StakeLedger) Slash(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errors.New("bank: slash amount cannot be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.load(addr)
	if err != nil {
		return err
	}
	burn := new(big.Int).Set(amount)
	if burn.Cmp(s.Amount) > 0 {
		burn.Set(s.Amount)
	}
	s.Amount.Sub(s.Amount, burn)
	s.Slashed.Add(s.Slashed, burn)
	return l.save(addr, s)
}

// Allocation is an initial stake credited by ApplyGenesis.
type Allocation struct {
	Miner  common.Address
	Amount *big.Int
}

// ApplyGenesis credits allocs once per database. It reports false when a
// genesis was already applied, leaving balances untouched.
func (l *StakeLedger) ApplyGenesis(allocs []Allocation) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.db.Get(genesisKey); err == nil {
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	for _, a := range allocs {
		if a.Amount == nil || a.Amount.Sign() <= 0 {
			return false, fmt.Errorf("bank: genesis stake for %s must be positive", a.Miner.Hex())
		}
		s, err := l.load(a.Miner)
		if err != nil {
			return false, err
		}
		s.Amount.Add(s.Amount, a.Amount)
		if err := l.save(a.Miner, s); err != nil {
			return false, err
		}
	}
	return true, l.db.Put(genesisKey, []byte{1})
}
