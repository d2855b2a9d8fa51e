package roster

import "strings"

// ScopeKind selects which slice of the roster a batch targets.
type ScopeKind int

const (
	// ScopeNone matches nothing; it is what unknown scope strings parse to,
	// so a typo in config yields an empty batch instead of a surprise
	// full-roster run.
	ScopeNone ScopeKind = iota
	ScopeAll
	ScopeHonors
	ScopeRegular
	ScopeCustom
)

// Scope is a target selector. Match is consulted only for ScopeCustom.
type Scope struct {
	Kind  ScopeKind
	Match func(Student) bool
}

// CustomScope wraps an arbitrary predicate as a scope.
func CustomScope(match func(Student) bool) Scope {
	return Scope{Kind: ScopeCustom, Match: match}
}

// ParseScope maps a scope string ("all", "honors", "regular") to a Scope.
// Unknown strings map to ScopeNone.
func ParseScope(s string) Scope {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return Scope{Kind: ScopeAll}
	case "honors":
		return Scope{Kind: ScopeHonors}
	case "regular":
		return Scope{Kind: ScopeRegular}
	default:
		return Scope{Kind: ScopeNone}
	}
}

func (sc Scope) String() string {
	switch sc.Kind {
	case ScopeAll:
		return "all"
	case ScopeHonors:
		return "honors"
	case ScopeRegular:
		return "regular"
	case ScopeCustom:
		return "custom"
	default:
		return "none"
	}
}

func (sc Scope) matches(s Student) bool {
	switch sc.Kind {
	case ScopeAll:
		return true
	case ScopeHonors:
		return s.Honors
	case ScopeRegular:
		return !s.Honors
	case ScopeCustom:
		return sc.Match != nil && sc.Match(s)
	default:
		return false
	}
}

// ResolveTargets returns the ids of students the scope selects, ordered
// by id. A ScopeNone scope yields an empty slice.
func (st *Store) ResolveTargets(sc Scope) []string {
	students := st.Filter(sc.matches)
	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
	}
	return ids
}
