package lottery

// NoTier is returned by BestTier when a pick earns nothing.
const NoTier = -1

// BestTier returns the most rewarding tier whose match requirement the ticket
// meets, or NoTier. A pick matching more positions never lands in a worse tier.
func BestTier(c Codec, winning, ticket Pick, d Distribution) (int, error) {
	matches, err := c.MatchCount(winning, ticket)
	if err != nil {
		return NoTier, err
	}
	return tierFor(c, matches, d), nil
}

// tierFor maps a match count onto d. Tier t requires Length-t matches, so the
// best tier is Length-matches as long as the distribution has that many tiers.
func tierFor(c Codec, matches int, d Distribution) int {
	tier := c.Length - matches
	if tier < 0 || tier >= d.Tiers() {
		return NoTier
	}
	return tier
}
