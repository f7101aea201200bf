package lottery

import "errors"

// Error kinds returned by the engine. Callers match them with errors.Is; the
// engine adds detail with fmt.Errorf("%w: ...").
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidState        = errors.New("invalid round state")
	ErrInvalidDistribution = errors.New("invalid distribution")
	ErrInvalidPricing      = errors.New("invalid prize pool or ticket cost")
	ErrInvalidWindow       = errors.New("invalid round window")
	ErrInvalidCount        = errors.New("invalid ticket count")
	ErrInvalidPick         = errors.New("invalid pick")
	ErrNoTier              = errors.New("ticket matches no prize tier")
	ErrAlreadyClaimed      = errors.New("ticket already claimed")
	ErrInvalidWinnerCount  = errors.New("invalid winner count")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrInvalidState, "INVALID_STATE"},
	{ErrInvalidDistribution, "INVALID_DISTRIBUTION"},
	{ErrInvalidPricing, "INVALID_PRICING"},
	{ErrInvalidWindow, "INVALID_WINDOW"},
	{ErrInvalidCount, "INVALID_COUNT"},
	{ErrInvalidPick, "INVALID_PICK"},
	{ErrNoTier, "NO_TIER"},
	{ErrAlreadyClaimed, "ALREADY_CLAIMED"},
	{ErrInvalidWinnerCount, "INVALID_WINNER_COUNT"},
}

// Code returns a stable machine-readable code for err, or "" when err is nil
// or not an engine error.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// ErrNotFound is returned by Store and Registry implementations for unknown
// rounds and tickets. The engine reports it to callers as ErrInvalidState.
var ErrNotFound = errors.New("not found")
