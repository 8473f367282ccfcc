package esearch

import "overlay/internal/domain"

// AttrSelectionKind controls which attributes are reported for a matched
// peer (spec §4.6.4's `selection` field -- distinct from Selection below,
// which picks candidate *peers*, not reported *attributes*).
type AttrSelectionKind int

const (
	AttrSelectAll        AttrSelectionKind = iota // ALL_ATTRS: every known attribute
	AttrSelectSpecific                            // SPECIFIC(keys): only AttrKeys
	AttrSelectUnspecific                          // UNSPECIFIC: NodeInfo only, no attributes
)

// Scope controls how many matching peers a FindQuery wants: every match
// (All) or up to a fixed count (Some).
type Scope int

const (
	ScopeAll Scope = iota
	ScopeSome
)

// Selection controls which peers are considered candidates at all, before
// Expr is evaluated against them.
type Selection int

const (
	SelectAll        Selection = iota // every peer in scope is a candidate
	SelectSpecific                    // only the peers named in Targets
	SelectUnspecific                  // every peer except those named in Targets
)

// FindQuery is the distributed find request (component C9): an expression
// to evaluate against each candidate peer's attributes, plus the scope and
// selection policy controlling which peers are considered at all.
type FindQuery struct {
	Scope     Scope
	Selection Selection
	Targets   []string // peer UUIDs, meaningful when Selection != SelectAll
	SomeCount int      // result cap, meaningful when Scope == ScopeSome
	Expr      Expr
	Info      EvaluationInfo

	// AttrSelection and AttrKeys implement spec §4.6.5's attribute
	// selection policy for matched peers: which of their attributes (if
	// any) get reported back alongside the NodeInfo.
	AttrSelection AttrSelectionKind
	AttrKeys      []string
}

// SelectedAttributes reports the attribute entries of data that this
// query's attribute-selection policy says to return for a True match.
// Missing SPECIFIC keys are silently omitted -- callers that need inquiry
// of a missing key use MissingAttributes beforehand.
func (q FindQuery) SelectedAttributes(data NodeData) map[string]domain.Entry {
	switch q.AttrSelection {
	case AttrSelectUnspecific:
		return nil
	case AttrSelectSpecific:
		out := make(map[string]domain.Entry, len(q.AttrKeys))
		for _, k := range q.AttrKeys {
			if e, ok := data.Entry(k); ok {
				out[k] = e
			}
		}
		return out
	default:
		return data.AllEntries()
	}
}

// NewFindQuery builds a FindQuery selecting every peer in scope and
// evaluating expr against each.
func NewFindQuery(expr Expr, info EvaluationInfo) FindQuery {
	return FindQuery{Scope: ScopeAll, Selection: SelectAll, Expr: expr, Info: info}
}

// Considers reports whether peerUUID is a candidate at all under the
// query's selection policy.
func (q FindQuery) Considers(peerUUID string) bool {
	switch q.Selection {
	case SelectSpecific:
		return contains(q.Targets, peerUUID)
	case SelectUnspecific:
		return !contains(q.Targets, peerUUID)
	default:
		return true
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Evaluate runs the query's expression against a candidate's attribute
// store.
func (q FindQuery) Evaluate(data NodeData) FuzzyValue {
	return q.Expr.Evaluate(data, q.Info)
}

// MissingAttributes lists the attributes needed from data's owner to turn an
// Undecided result into a definite one.
func (q FindQuery) MissingAttributes(data NodeData) []string {
	return q.Expr.MissingAttributes(data, q.Info)
}

// Satisfied reports whether enough peers have matched to stop searching:
// always false for ScopeAll (exhaustive), true once count reaches
// SomeCount for ScopeSome. A ScopeSome query with no explicit count wants
// one match, never zero.
func (q FindQuery) Satisfied(matchCount int) bool {
	if q.Scope != ScopeSome {
		return false
	}
	want := q.SomeCount
	if want <= 0 {
		want = 1
	}
	return matchCount >= want
}
