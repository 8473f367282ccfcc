package esearch

import (
	"testing"

	"overlay/internal/domain"
)

func freshInfo() EvaluationInfo {
	return EvaluationInfo{ValidityThreshold: 0, InquireUnknownAttributes: true}
}

func TestPresenceEvaluateLocal(t *testing.T) {
	data := NewLocalData()
	data.Insert(domain.Entry{Key: "role", Value: domain.NewStringValue("sensor"), Type: domain.ValueStatic})

	tests := []struct {
		name string
		expr Expr
		want FuzzyValue
	}{
		{"present", Presence{Key: "role"}, FuzzyTrue},
		// A peer's own store is authoritative: a key it does not have is
		// definitively absent, never worth an inquiry.
		{"missing", Presence{Key: "battery"}, FuzzyFalse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.expr.Evaluate(data, freshInfo()); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPresenceEvaluateRemote(t *testing.T) {
	owner := domain.NewNodeInfo(domain.Position{Level: 1, Number: 0}, domain.PhysicalAddr{IP: "10.0.0.2", Port: 4000})
	data := NewDistributedData(owner, 5)
	data.Insert(domain.Entry{Key: "role", Value: domain.NewStringValue("sensor"), Type: domain.ValueStatic})

	if got := (Presence{Key: "role"}).Evaluate(data, freshInfo()); got != FuzzyTrue {
		t.Errorf("present key = %v, want true", got)
	}
	// A DSN's cached view of someone else may simply not know the key yet.
	if got := (Presence{Key: "battery"}).Evaluate(data, freshInfo()); got != FuzzyUndecided {
		t.Errorf("missing key under inquire policy = %v, want undecided", got)
	}
	strict := EvaluationInfo{AllInformationPresent: true}
	if got := (Presence{Key: "battery"}).Evaluate(data, strict); got != FuzzyFalse {
		t.Errorf("missing key under strict policy = %v, want false", got)
	}
}

func TestStaleRemoteValue(t *testing.T) {
	owner := domain.NewNodeInfo(domain.Position{Level: 1, Number: 1}, domain.PhysicalAddr{IP: "10.0.0.3", Port: 4000})
	data := NewDistributedData(owner, 5)
	data.Insert(domain.Entry{Key: "pos_x", Value: domain.NewInt32Value(100), Type: domain.ValueDynamic, Timestamp: 100})

	expr := NumericComparison[int32]{Key: "pos_x", Op: OpGe, Want: 100}

	fresh := EvaluationInfo{ValidityThreshold: 50}
	if got := expr.Evaluate(data, fresh); got != FuzzyTrue {
		t.Errorf("fresh value = %v, want true", got)
	}
	stale := EvaluationInfo{ValidityThreshold: 350, InquireOutdatedAttributes: true}
	if got := expr.Evaluate(data, stale); got != FuzzyUndecided {
		t.Errorf("stale value under inquire policy = %v, want undecided", got)
	}
	// Subscribed keys are pushed on change, so staleness does not apply.
	data.MarkSubscribed("pos_x")
	if got := expr.Evaluate(data, stale); got != FuzzyTrue {
		t.Errorf("stale but subscribed value = %v, want true", got)
	}
}

func TestAllInformationPresentDecidesDefinitively(t *testing.T) {
	owner := domain.NewNodeInfo(domain.Position{Level: 1, Number: 1}, domain.PhysicalAddr{IP: "10.0.0.4", Port: 4000})
	data := NewDistributedData(owner, 5)
	data.Insert(domain.Entry{Key: "pos_x", Value: domain.NewInt32Value(100), Type: domain.ValueDynamic, Timestamp: 100})

	// Once every inquirable attribute has been fetched, the inquire flags no
	// longer defer anything: a still-missing key is definitively absent and
	// a still-stale value decides definitively, never Undecided.
	info := EvaluationInfo{
		ValidityThreshold:         350,
		AllInformationPresent:     true,
		InquireUnknownAttributes:  true,
		InquireOutdatedAttributes: true,
	}
	if got := (Presence{Key: "battery"}).Evaluate(data, info); got != FuzzyFalse {
		t.Errorf("missing key with all information present = %v, want false", got)
	}
	stale := NumericComparison[int32]{Key: "pos_x", Op: OpGe, Want: 100}
	if got := stale.Evaluate(data, info); got != FuzzyFalse {
		t.Errorf("stale value with all information present = %v, want false", got)
	}
	if got := stale.MissingAttributes(data, info); len(got) != 0 {
		t.Errorf("MissingAttributes with all information present = %v, want none", got)
	}
}

func TestNumericComparisonCoercesKinds(t *testing.T) {
	data := NewLocalData()
	data.Insert(domain.Entry{Key: "weight", Value: domain.NewInt32Value(101), Type: domain.ValueDynamic, Timestamp: 1})

	expr := NumericComparison[float32]{Key: "weight", Op: OpGt, Want: 100.5}
	if got := expr.Evaluate(data, freshInfo()); got != FuzzyTrue {
		t.Errorf("int32 attribute against float32 comparison = %v, want true", got)
	}
}

func TestStringEqualsAndAnd(t *testing.T) {
	data := NewLocalData()
	data.Insert(domain.Entry{Key: "role", Value: domain.NewStringValue("sensor"), Type: domain.ValueStatic})
	data.Insert(domain.Entry{Key: "active", Value: domain.NewBoolValue(true), Type: domain.ValueDynamic, Timestamp: 5})

	expr := And{
		Left:  StringEquals{Key: "role", Want: "sensor"},
		Right: NumericComparison[int32]{Key: "count", Op: OpGe, Want: 1},
	}
	info := EvaluationInfo{ValidityThreshold: 0, InquireUnknownAttributes: false, Permissive: false}
	if got := expr.Evaluate(data, info); got != FuzzyFalse {
		t.Errorf("expected FuzzyFalse for missing count under strict policy, got %v", got)
	}
}

func TestNotFlipsResult(t *testing.T) {
	data := NewLocalData()
	data.Insert(domain.Entry{Key: "role", Value: domain.NewStringValue("sensor"), Type: domain.ValueStatic})
	expr := Not{Inner: StringEquals{Key: "role", Want: "sensor"}}
	if got := expr.Evaluate(data, freshInfo()); got != FuzzyFalse {
		t.Errorf("Not(true) = %v, want false", got)
	}
}

func TestFindQuerySelection(t *testing.T) {
	q := FindQuery{Selection: SelectSpecific, Targets: []string{"a", "b"}}
	if !q.Considers("a") {
		t.Error("expected SelectSpecific to consider target a")
	}
	if q.Considers("c") {
		t.Error("expected SelectSpecific to exclude non-target c")
	}
}
