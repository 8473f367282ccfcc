package wire

import (
	"reflect"
	"testing"

	"overlay/internal/domain"
	"overlay/internal/esearch"
)

func roundTrip(t *testing.T, env *Envelope) *Envelope {
	t.Helper()
	data, err := Codec{}.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := new(Envelope)
	if err := (Codec{}).Unmarshal(data, out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return out
}

func TestEnvelopeRoundTrip(t *testing.T) {
	sender := domain.NewNodeInfo(domain.Position{Level: 2, Number: 3}, domain.PhysicalAddr{IP: "10.0.0.1", Port: 4000})
	joiner := domain.NewNodeInfo(domain.Position{}, domain.PhysicalAddr{IP: "10.0.0.2", Port: 4001})

	tests := []struct {
		name    string
		payload any
	}{
		{"join request", JoinRequestPayload{Joiner: joiner}},
		{"join accept", JoinAcceptPayload{
			Parent:     sender,
			Position:   domain.Position{Level: 3, Number: 6},
			Adjacents:  []domain.NodeInfo{joiner},
			AckEventID: "p-01ABC",
		}},
		{"search exact", SearchExactRequestPayload{
			Target: domain.Position{Level: 1, Number: 1}, HopsLeft: 9, Originator: sender,
		}},
		{"neighbor removal", NeighborUpdatePayload{
			Relationship: domain.RelationshipAdjacent,
			Position:     domain.Position{Level: 2, Number: 2},
			Node:         nil,
		}},
		{"replacement complete", ReplacementCompletePayload{
			Position: domain.Position{Level: 1, Number: 0},
			Parent:   &sender,
			Children: []ChildSlot{{Index: 1, Node: joiner}},
			AdjLeft:  &joiner,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{Kind: KindJoinRequest, EventID: "e1", RefEventID: "e0", Sender: sender, Payload: tt.payload}
			got := roundTrip(t, env)
			if !reflect.DeepEqual(got, env) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, env)
			}
		})
	}
}

func TestAttributeEntryRoundTrip(t *testing.T) {
	sender := domain.NewNodeInfo(domain.Root, domain.PhysicalAddr{IP: "10.0.0.1", Port: 4000})
	entries := []domain.Entry{
		{Key: "count", Value: domain.NewInt32Value(-17), Timestamp: 1000, Type: domain.ValueDynamic},
		{Key: "weight", Value: domain.NewFloat32Value(2.5), Timestamp: 1001, Type: domain.ValueDynamic},
		{Key: "active", Value: domain.NewBoolValue(true), Timestamp: 1002, Type: domain.ValueStatic},
		{Key: "role", Value: domain.NewStringValue("sensor"), Timestamp: 1003, Type: domain.ValueStatic},
	}
	env := &Envelope{Kind: KindAttributeInform, EventID: "e1", Sender: sender,
		Payload: AttributeInformPayload{Owner: sender, Entries: entries, Removed: []string{"gone"}}}

	got := roundTrip(t, env)
	payload, ok := got.Payload.(AttributeInformPayload)
	if !ok {
		t.Fatalf("payload decoded as %T", got.Payload)
	}
	if !reflect.DeepEqual(payload.Entries, entries) {
		t.Errorf("entries mismatch:\n got %#v\nwant %#v", payload.Entries, entries)
	}
}

func TestFindQueryExpressionRoundTrip(t *testing.T) {
	sender := domain.NewNodeInfo(domain.Root, domain.PhysicalAddr{IP: "10.0.0.1", Port: 4000})
	query := esearch.FindQuery{
		Scope:     esearch.ScopeAll,
		Selection: esearch.SelectAll,
		Expr: esearch.And{
			Left:  esearch.Presence{Key: "wetter"},
			Right: esearch.Or{
				Left:  esearch.StringEquals{Key: "wetter", Want: "schlecht"},
				Right: esearch.NumericComparison[float32]{Key: "temp", Op: esearch.OpLt, Want: 3.5},
			},
		},
		Info:          esearch.EvaluationInfo{ValidityThreshold: 350, InquireOutdatedAttributes: true},
		AttrSelection: esearch.AttrSelectSpecific,
		AttrKeys:      []string{"wetter"},
	}
	env := &Envelope{Kind: KindFindQueryRequest, EventID: "e1", Sender: sender,
		Payload: FindQueryRequestPayload{Query: query, HopsLeft: 12}}

	got := roundTrip(t, env)
	payload, ok := got.Payload.(FindQueryRequestPayload)
	if !ok {
		t.Fatalf("payload decoded as %T", got.Payload)
	}
	if !reflect.DeepEqual(payload.Query, query) {
		t.Errorf("query mismatch:\n got %#v\nwant %#v", payload.Query, query)
	}
}
