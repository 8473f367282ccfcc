package esearch

import "testing"

func TestFuzzyNot(t *testing.T) {
	tests := []struct {
		in   FuzzyValue
		want FuzzyValue
	}{
		{FuzzyFalse, FuzzyTrue},
		{FuzzyTrue, FuzzyFalse},
		{FuzzyUndecided, FuzzyUndecided},
	}
	for _, tt := range tests {
		if got := tt.in.Not(); got != tt.want {
			t.Errorf("Not(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFuzzyAndOr(t *testing.T) {
	tests := []struct {
		a, b    FuzzyValue
		wantAnd FuzzyValue
		wantOr  FuzzyValue
	}{
		{FuzzyTrue, FuzzyTrue, FuzzyTrue, FuzzyTrue},
		{FuzzyTrue, FuzzyFalse, FuzzyFalse, FuzzyTrue},
		{FuzzyTrue, FuzzyUndecided, FuzzyUndecided, FuzzyTrue},
		{FuzzyFalse, FuzzyUndecided, FuzzyFalse, FuzzyUndecided},
		{FuzzyUndecided, FuzzyUndecided, FuzzyUndecided, FuzzyUndecided},
	}
	for _, tt := range tests {
		if got := tt.a.And(tt.b); got != tt.wantAnd {
			t.Errorf("%v.And(%v) = %v, want %v", tt.a, tt.b, got, tt.wantAnd)
		}
		if got := tt.a.Or(tt.b); got != tt.wantOr {
			t.Errorf("%v.Or(%v) = %v, want %v", tt.a, tt.b, got, tt.wantOr)
		}
	}
}
