package lottery

import (
	"fmt"
	"time"
)

// Phase is the lifecycle position of a round.
type Phase uint8

const (
	PhaseCreated Phase = iota
	PhaseOpen
	PhaseClosed
	PhaseDrawn
	PhaseSettled
)

var phaseNames = [...]string{"created", "open", "closed", "drawn", "settled"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// MarshalText lets phases appear as names in JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for i, name := range phaseNames {
		if name == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// RoundSpec is the admin input to CreateRound.
type RoundSpec struct {
	Distribution Distribution `json:"distribution"`
	PrizePool    uint64       `json:"prize_pool"`
	TicketCost   uint64       `json:"ticket_cost"`
	StartTime    int64        `json:"start_time"` // unix seconds
	EndTime      int64        `json:"end_time"`   // unix seconds, exclusive
}

// DrawRequest is the pending randomness request of a closed round.
type DrawRequest struct {
	Token       string `json:"token"`
	Hint        string `json:"hint"`
	RequestedAt int64  `json:"requested_at"`
}

// Round is the persisted record of one lottery instance.
type Round struct {
	ID           uint64       `json:"id"`
	Admin        string       `json:"admin"`
	Distribution Distribution `json:"distribution"`
	PrizePool    uint64       `json:"prize_pool"`
	TicketCost   uint64       `json:"ticket_cost"`
	StartTime    int64        `json:"start_time"`
	EndTime      int64        `json:"end_time"`
	CreatedPhase Phase        `json:"created_phase"`

	Draw        *DrawRequest `json:"draw,omitempty"`
	WinningPick Pick         `json:"winning_pick,omitempty"`
	DrawnAt     int64        `json:"drawn_at,omitempty"`

	Ledger
}

// Drawn reports whether a winning pick has been recorded.
func (r *Round) Drawn() bool { return r.WinningPick != nil }

// Phase derives the lifecycle phase at now. A drawn round is Settled once
// every winning ticket has been claimed; Settled never blocks claims.
func (r *Round) Phase(now time.Time) Phase {
	if r.Drawn() {
		if w := r.TotalWinners(); w > 0 && r.ClaimedCount >= w {
			return PhaseSettled
		}
		return PhaseDrawn
	}
	t := now.Unix()
	switch {
	case t < r.StartTime:
		return PhaseCreated
	case t < r.EndTime:
		return PhaseOpen
	default:
		return PhaseClosed
	}
}

// Clone returns a deep copy that shares no maps or slices with r.
func (r *Round) Clone() *Round {
	c := *r
	c.Distribution = append(Distribution(nil), r.Distribution...)
	if r.Draw != nil {
		d := *r.Draw
		c.Draw = &d
	}
	if r.WinningPick != nil {
		c.WinningPick = append(Pick(nil), r.WinningPick...)
	}
	c.Ledger = r.Ledger.clone()
	return &c
}

// Ticket is the engine's view of a registry ticket.
type Ticket struct {
	ID      uint64 `json:"id"`
	RoundID uint64 `json:"round_id"`
	Owner   string `json:"owner"`
	Pick    Pick   `json:"pick"`
}
