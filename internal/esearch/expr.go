package esearch

import "overlay/internal/domain"

// EvaluationInfo carries the policy an evaluation runs under: how fresh an
// attribute must be, and what to do when an attribute is missing or stale
// locally -- inquire it from its owner, or fall back to a permissive or
// strict default. This mirrors the original evaluation_information.h
// structure one field at a time.
type EvaluationInfo struct {
	ValidityThreshold         int64
	AllInformationPresent     bool
	InquireUnknownAttributes  bool
	InquireOutdatedAttributes bool
	Permissive                bool
}

// Expr is a node in the polymorphic boolean find-query expression tree. Go
// has no virtual dispatch; a small closed interface with one struct per
// original subclass plays the same role.
type Expr interface {
	// Evaluate computes this expression's truth value against data, which
	// may be Undecided if a needed attribute is missing or stale and the
	// evaluation policy says to inquire rather than assume.
	Evaluate(data NodeData, info EvaluationInfo) FuzzyValue
	// MissingAttributes lists the keys this expression would need fetched
	// from their owning peer to resolve an Undecided result.
	MissingAttributes(data NodeData, info EvaluationInfo) []string
	// RelevantKeys lists every attribute key this expression reads.
	RelevantKeys() []string
	// Depth returns the expression tree's depth, used to bound recursive
	// evaluation and for diagnostics.
	Depth() int
}

// Empty always evaluates to True and reads no attributes; it selects every
// peer in scope regardless of attribute values (find-query "select all").
type Empty struct{}

func (Empty) Evaluate(NodeData, EvaluationInfo) FuzzyValue        { return FuzzyTrue }
func (Empty) MissingAttributes(NodeData, EvaluationInfo) []string { return nil }
func (Empty) RelevantKeys() []string                              { return nil }
func (Empty) Depth() int                                          { return 0 }

// And is the conjunction of two subexpressions.
type And struct{ Left, Right Expr }

func (e And) Evaluate(data NodeData, info EvaluationInfo) FuzzyValue {
	return e.Left.Evaluate(data, info).And(e.Right.Evaluate(data, info))
}

func (e And) MissingAttributes(data NodeData, info EvaluationInfo) []string {
	return append(e.Left.MissingAttributes(data, info), e.Right.MissingAttributes(data, info)...)
}

func (e And) RelevantKeys() []string {
	return append(e.Left.RelevantKeys(), e.Right.RelevantKeys()...)
}

func (e And) Depth() int { return 1 + maxInt(e.Left.Depth(), e.Right.Depth()) }

// Or is the disjunction of two subexpressions.
type Or struct{ Left, Right Expr }

func (e Or) Evaluate(data NodeData, info EvaluationInfo) FuzzyValue {
	return e.Left.Evaluate(data, info).Or(e.Right.Evaluate(data, info))
}

func (e Or) MissingAttributes(data NodeData, info EvaluationInfo) []string {
	return append(e.Left.MissingAttributes(data, info), e.Right.MissingAttributes(data, info)...)
}

func (e Or) RelevantKeys() []string {
	return append(e.Left.RelevantKeys(), e.Right.RelevantKeys()...)
}

func (e Or) Depth() int { return 1 + maxInt(e.Left.Depth(), e.Right.Depth()) }

// Not negates a subexpression.
type Not struct{ Inner Expr }

func (e Not) Evaluate(data NodeData, info EvaluationInfo) FuzzyValue {
	return e.Inner.Evaluate(data, info).Not()
}

func (e Not) MissingAttributes(data NodeData, info EvaluationInfo) []string {
	return e.Inner.MissingAttributes(data, info)
}

func (e Not) RelevantKeys() []string { return e.Inner.RelevantKeys() }
func (e Not) Depth() int             { return 1 + e.Inner.Depth() }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// atomicResolve is the shared missing/stale decision every leaf expression
// makes before it can compare a concrete value, following the evaluation
// table of AtomicBooleanExpression::evaluate. Local data never resolves to
// Undecided: a peer's own attribute store is always authoritative about
// itself, regardless of the validity threshold or the policy flags, which
// only govern a DSN's cached view of a *remote* peer. For remote data,
// AllInformationPresent asserts that every inquirable attribute has already
// been fetched, so a still-missing key is definitively absent and a
// still-stale value decides definitively instead of deferring to another
// inquiry round.
func atomicResolve(key string, data NodeData, info EvaluationInfo, decide func(domain.Entry) bool) FuzzyValue {
	entry, ok := data.Entry(key)
	if data.IsLocal() {
		if !ok {
			return FuzzyFalse
		}
		return FromBool(decide(entry))
	}
	if ok && data.IsUpToDate(key, info.ValidityThreshold) {
		return FromBool(decide(entry))
	}
	if !ok {
		if info.AllInformationPresent {
			return FuzzyFalse
		}
		if info.InquireUnknownAttributes {
			return FuzzyUndecided
		}
		if info.Permissive {
			return FuzzyTrue
		}
		return FuzzyFalse
	}
	// Present but stale. Without the inquire-outdated policy the cached
	// value is still the best answer available and decides concretely.
	if !info.InquireOutdatedAttributes {
		return FromBool(decide(entry))
	}
	if info.AllInformationPresent {
		return FuzzyFalse
	}
	return FuzzyUndecided
}

func atomicMissing(key string, data NodeData, info EvaluationInfo) []string {
	if data.IsLocal() || info.AllInformationPresent {
		return nil
	}
	_, ok := data.Entry(key)
	if !ok && info.InquireUnknownAttributes {
		return []string{key}
	}
	if ok && !data.IsUpToDate(key, info.ValidityThreshold) && info.InquireOutdatedAttributes {
		return []string{key}
	}
	return nil
}

// Presence evaluates to True iff Key exists in data (subject to the usual
// missing/stale policy).
type Presence struct{ Key string }

func (e Presence) Evaluate(data NodeData, info EvaluationInfo) FuzzyValue {
	return atomicResolve(e.Key, data, info, func(domain.Entry) bool { return true })
}
func (e Presence) MissingAttributes(data NodeData, info EvaluationInfo) []string {
	return atomicMissing(e.Key, data, info)
}
func (e Presence) RelevantKeys() []string { return []string{e.Key} }
func (e Presence) Depth() int             { return 0 }

// StringEquals evaluates to True iff Key's string value equals Want.
type StringEquals struct {
	Key  string
	Want string
}

func (e StringEquals) Evaluate(data NodeData, info EvaluationInfo) FuzzyValue {
	return atomicResolve(e.Key, data, info, func(entry domain.Entry) bool {
		s, ok := entry.Value.String()
		return ok && s == e.Want
	})
}
func (e StringEquals) MissingAttributes(data NodeData, info EvaluationInfo) []string {
	return atomicMissing(e.Key, data, info)
}
func (e StringEquals) RelevantKeys() []string { return []string{e.Key} }
func (e StringEquals) Depth() int             { return 0 }

// CompareOp names a numeric comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func compareOrdered[T int32 | float32 | float64](op CompareOp, got, want T) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpLt:
		return got < want
	case OpLe:
		return got <= want
	case OpGt:
		return got > want
	case OpGe:
		return got >= want
	default:
		return false
	}
}

// NumericComparison evaluates Key Op Want over int32 or float32 attributes,
// generic over the two numeric AttributeValue kinds the way the original's
// NumericComparisonExpression<T> template is.
type NumericComparison[T int32 | float32] struct {
	Key  string
	Op   CompareOp
	Want T
}

func (e NumericComparison[T]) Evaluate(data NodeData, info EvaluationInfo) FuzzyValue {
	return atomicResolve(e.Key, data, info, func(entry domain.Entry) bool {
		// Coercion happens here, at compare time: an int32-valued attribute
		// still answers a float32 comparison and vice versa, both widened to
		// float64 where neither loses precision.
		got, ok := numericValue(entry.Value)
		return ok && compareOrdered(e.Op, got, float64(e.Want))
	})
}

func numericValue(v domain.AttributeValue) (float64, bool) {
	if i, ok := v.Int32(); ok {
		return float64(i), true
	}
	if f, ok := v.Float32(); ok {
		return float64(f), true
	}
	return 0, false
}
func (e NumericComparison[T]) MissingAttributes(data NodeData, info EvaluationInfo) []string {
	return atomicMissing(e.Key, data, info)
}
func (e NumericComparison[T]) RelevantKeys() []string { return []string{e.Key} }
func (e NumericComparison[T]) Depth() int             { return 0 }
