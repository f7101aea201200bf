package lottery

// Policy decides which callers may administer rounds and deliver randomness.
type Policy interface {
	IsAdmin(caller string) bool
	IsOracle(caller string) bool
}

// AllowList is a Policy backed by two fixed sets of identities.
type AllowList struct {
	admins  map[string]struct{}
	oracles map[string]struct{}
}

// NewAllowList builds an AllowList. Empty identities are ignored.
func NewAllowList(admins, oracles []string) *AllowList {
	return &AllowList{admins: toSet(admins), oracles: toSet(oracles)}
}

func (a *AllowList) IsAdmin(caller string) bool {
	_, ok := a.admins[caller]
	return ok
}

func (a *AllowList) IsOracle(caller string) bool {
	_, ok := a.oracles[caller]
	return ok
}

// PolicyFuncs adapts two predicates to a Policy. A nil predicate denies.
type PolicyFuncs struct {
	Admin  func(caller string) bool
	Oracle func(caller string) bool
}

func (p PolicyFuncs) IsAdmin(caller string) bool  { return p.Admin != nil && p.Admin(caller) }
func (p PolicyFuncs) IsOracle(caller string) bool { return p.Oracle != nil && p.Oracle(caller) }

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			m[id] = struct{}{}
		}
	}
	return m
}
