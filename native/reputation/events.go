package reputation

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"repchain/core/types"
)

const (
	// EventTypeUpdateLogged is emitted when a delta is appended to a cycle log.
	EventTypeUpdateLogged = "reputation.updateLogged"
	// EventTypeCycleReplayed is emitted when a miner finishes replaying a cycle.
	EventTypeCycleReplayed = "reputation.cycleReplayed"
)

// NewUpdateLoggedEvent returns the canonical event payload for a log append.
func NewUpdateLoggedEvent(cycle uint64, e LogEntry) *types.Event {
	attrs := map[string]string{
		"cycle":            strconv.FormatUint(cycle, 10),
		"colony":           e.Colony.Hex(),
		"skill":            strconv.FormatUint(e.Skill, 10),
		"nUpdates":         strconv.FormatUint(e.NUpdates, 10),
		"nPreviousUpdates": strconv.FormatUint(e.NPreviousUpdates, 10),
	}
	if e.User != (common.Address{}) {
		attrs["user"] = e.User.Hex()
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: EventTypeUpdateLogged, Attributes: attrs}
}

// NewCycleReplayedEvent describes the outcome of a full replay.
func NewCycleReplayedEvent(cycle uint64, final State, jrh common.Hash, steps uint64) *types.Event {
	attrs := map[string]string{
		"cycle":   strconv.FormatUint(cycle, 10),
		"root":    final.Root.Hex(),
		"nLeaves": strconv.FormatUint(final.NLeaves, 10),
		"jrh":     jrh.Hex(),
		"steps":   strconv.FormatUint(steps, 10),
	}
	return &types.Event{Type: EventTypeCycleReplayed, Attributes: attrs}
}
