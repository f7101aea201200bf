package lottery

import "fmt"

// PercentUnit is the fixed-point value of 100%: shares are basis points.
const PercentUnit = 10_000

// Distribution lists the share of the prize pool paid to each tier, in basis
// points. Tier 0 is the most selective (every position matches); tier t needs
// at least Length-t matching positions.
type Distribution []uint32

// Tiers returns the number of prize tiers.
func (d Distribution) Tiers() int { return len(d) }

// RequiredMatches returns the minimum match count for tier under codec c.
func (d Distribution) RequiredMatches(c Codec, tier int) int {
	return c.Length - tier
}

// ValidateDistribution accepts d only when it has between 1 and c.Length tiers
// and its shares sum to exactly PercentUnit.
func ValidateDistribution(d Distribution, c Codec) error {
	if len(d) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidDistribution)
	}
	if len(d) > c.Length {
		return fmt.Errorf("%w: %d tiers exceed pick length %d", ErrInvalidDistribution, len(d), c.Length)
	}
	var total uint64
	for _, share := range d {
		total += uint64(share)
	}
	if total != PercentUnit {
		return fmt.Errorf("%w: shares sum to %d, want %d", ErrInvalidDistribution, total, PercentUnit)
	}
	return nil
}
