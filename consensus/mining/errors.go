package mining

import "errors"

var (
	ErrNoActiveCycle      = errors.New("mining: no cycle is being mined")
	ErrCycleDisputing     = errors.New("mining: cycle is in dispute")
	ErrWindowClosed       = errors.New("mining: submission window closed")
	ErrSubmitterOnly      = errors.New("mining: window reserved for earlier submitters")
	ErrSubmissionsOpen    = errors.New("mining: submission window still open")
	ErrInsufficientStake  = errors.New("mining: stake below minimum")
	ErrEntryIndex         = errors.New("mining: entry index out of range")
	ErrEntryUsed          = errors.New("mining: entry index already used")
	ErrTooManySubmissions = errors.New("mining: submission limit reached")
	ErrIneligible         = errors.New("mining: entry not yet eligible")
	ErrMinerSlashed       = errors.New("mining: miner was slashed this cycle")
	ErrUnknownPairing     = errors.New("mining: unknown pairing")
	ErrNotParticipant     = errors.New("mining: miner is not a submitter of this candidate")
	ErrUnknownCycle       = errors.New("mining: unknown cycle")
	ErrNothingConfirmed   = errors.New("mining: no confirmed state yet")
)
