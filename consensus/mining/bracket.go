package mining

import (
	"time"

	"repchain/consensus/mining/dispute"
)

// match is a pairing between two candidates of the same cycle.
type match struct {
	cycle      *Cycle
	pairing    *dispute.Pairing
	candidates [2]int
	round      int
	settled    bool
}

func (m *match) side(candidate int) (dispute.Side, bool) {
	switch candidate {
	case m.candidates[0]:
		return dispute.SideA, true
	case m.candidates[1]:
		return dispute.SideB, true
	}
	return 0, false
}

// bracket runs single elimination over the live candidates of one cycle.
// Candidates are paired in submission order; an odd one out gets a bye.
type bracket struct {
	round   int
	matches []*match
	bye     int
}

// open starts the next round. It returns nil when fewer than two candidates
// remain.
func (b *bracket) open(c *Cycle, params dispute.Params, nextID func() uint64, now time.Time) ([]*match, error) {
	live := c.live()
	if len(live) < 2 {
		return nil, nil
	}
	b.round++
	b.matches = b.matches[:0]
	b.bye = -1
	for i := 0; i+1 < len(live); i += 2 {
		a, z := live[i], live[i+1]
		p, err := dispute.NewPairing(nextID(), params, c.claim(a), c.claim(z), now)
		if err != nil {
			return nil, err
		}
		b.matches = append(b.matches, &match{cycle: c, pairing: p, candidates: [2]int{a, z}, round: b.round})
	}
	if len(live)%2 == 1 {
		b.bye = live[len(live)-1]
	}
	return b.matches, nil
}

func (b *bracket) done() bool {
	for _, m := range b.matches {
		if !m.settled {
			return false
		}
	}
	return true
}
