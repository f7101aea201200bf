package lottery

import (
	"fmt"
	"math/bits"
)

// ClaimableAmount returns the payout of one winner in tier when winners
// tickets share it:
//
//	floor(PrizePool * Distribution[tier] / (PercentUnit * winners))
//
// The pool*share product is computed in 128 bits. Rounding always goes down
// and the remainder (at most winners-1 units plus the basis-point truncation)
// stays with the treasury; it is never redistributed.
func ClaimableAmount(r *Round, tier int, winners uint64) (uint64, error) {
	if !r.Drawn() {
		return 0, fmt.Errorf("%w: round %d is not drawn", ErrInvalidState, r.ID)
	}
	if tier == NoTier {
		return 0, ErrNoTier
	}
	if tier < 0 || tier >= r.Distribution.Tiers() {
		return 0, fmt.Errorf("%w: tier %d outside distribution", ErrNoTier, tier)
	}
	if winners == 0 {
		return 0, fmt.Errorf("%w: zero winners at tier %d", ErrInvalidWinnerCount, tier)
	}
	return share(r.PrizePool, r.Distribution[tier], winners)
}

// share computes floor(pool*bps / (PercentUnit*winners)) as
// floor(floor(pool*bps/PercentUnit)/winners), which is equal for positive
// integers and keeps the divisor within 64 bits.
func share(pool uint64, bps uint32, winners uint64) (uint64, error) {
	hi, lo := bits.Mul64(pool, uint64(bps))
	if hi >= PercentUnit {
		return 0, fmt.Errorf("%w: tier allocation overflows", ErrInvalidPricing)
	}
	alloc, _ := bits.Div64(hi, lo, PercentUnit)
	return alloc / winners, nil
}

// TierAllocation is the part of the pool reserved for tier before it is split
// among winners.
func TierAllocation(r *Round, tier int) (uint64, error) {
	if tier < 0 || tier >= r.Distribution.Tiers() {
		return 0, fmt.Errorf("%w: tier %d outside distribution", ErrNoTier, tier)
	}
	return share(r.PrizePool, r.Distribution[tier], 1)
}
