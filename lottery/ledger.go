package lottery

import (
	"fmt"
	"math/bits"
)

// Ledger is the per-round accounting embedded in Round. The per-pick sales
// tally lives in the Store so the round record stays a fixed size.
type Ledger struct {
	TicketsSold  uint64   `json:"tickets_sold"`
	Revenue      uint64   `json:"revenue"`
	WinnerCounts []uint64 `json:"winner_counts,omitempty"`
	ClaimedCount uint64   `json:"claimed_count"`
	TotalClaimed uint64   `json:"total_claimed"`
}

func (l Ledger) clone() Ledger {
	c := l
	if l.WinnerCounts != nil {
		c.WinnerCounts = append([]uint64(nil), l.WinnerCounts...)
	}
	return c
}

// TotalWinners returns the number of winning tickets across every tier.
func (l *Ledger) TotalWinners() uint64 {
	var n uint64
	for _, w := range l.WinnerCounts {
		n += w
	}
	return n
}

// WinnersAt returns the tallied winner count of tier, zero when out of range.
func (l *Ledger) WinnersAt(tier int) uint64 {
	if tier < 0 || tier >= len(l.WinnerCounts) {
		return 0
	}
	return l.WinnerCounts[tier]
}

// checkSale reports whether recording n tickets costing cost in total would
// overflow any counter.
func (l *Ledger) checkSale(n, cost uint64) error {
	if _, carry := bits.Add64(l.TicketsSold, n, 0); carry != 0 {
		return fmt.Errorf("%w: tickets sold overflows", ErrInvalidPricing)
	}
	if _, carry := bits.Add64(l.Revenue, cost, 0); carry != 0 {
		return fmt.Errorf("%w: revenue overflows", ErrInvalidPricing)
	}
	return nil
}

// recordSale adds one purchase of n tickets. checkSale must pass first.
func (l *Ledger) recordSale(n, cost uint64) {
	l.TicketsSold += n
	l.Revenue += cost
}

// recordDraw tallies winners per tier from picks (encoded pick -> tickets
// sold). Every ticket is counted once, in its best tier.
func (l *Ledger) recordDraw(c Codec, winning Pick, d Distribution, picks map[uint64]uint64) error {
	counts := make([]uint64, d.Tiers())
	for key, n := range picks {
		p, err := c.Decode(key)
		if err != nil {
			return err
		}
		tier, err := BestTier(c, winning, p, d)
		if err != nil {
			return err
		}
		if tier != NoTier {
			counts[tier] += n
		}
	}
	l.WinnerCounts = counts
	return nil
}

func (l *Ledger) recordClaim(amount uint64) {
	l.ClaimedCount++
	l.TotalClaimed += amount
}
