package lottery

import (
	"fmt"
	"math/bits"
	"time"
)

// CostToBuy returns count*TicketCost for an open round. The unit price is the
// same for every count; there are no batch discounts.
func CostToBuy(r *Round, count uint64, now time.Time) (uint64, error) {
	if p := r.Phase(now); p != PhaseOpen {
		return 0, fmt.Errorf("%w: round %d is %s, not open", ErrInvalidState, r.ID, p)
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: zero tickets", ErrInvalidCount)
	}
	hi, lo := bits.Mul64(count, r.TicketCost)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d tickets at %d overflows", ErrInvalidPricing, count, r.TicketCost)
	}
	return lo, nil
}
