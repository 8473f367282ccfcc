package esearch

import (
	"testing"
	"time"

	"overlay/internal/domain"
)

func testDSN(t *testing.T) (*DSNHandler, domain.NodeInfo) {
	t.Helper()
	topo, err := domain.NewTopology(2, domain.DefaultTreeMapperRoot)
	if err != nil {
		t.Fatal(err)
	}
	self := domain.NewNodeInfo(domain.Root, domain.PhysicalAddr{IP: "10.0.0.1", Port: 4000})
	h := NewDSNHandler(self, topo)
	h.SetActive(true)
	covered := domain.NewNodeInfo(domain.Position{Level: 1, Number: 0}, domain.PhysicalAddr{IP: "10.0.0.2", Port: 4000})
	h.OnNeighborChangeNotification(domain.RelationshipChild, covered.Logical, &covered)
	return h, covered
}

func TestGetTrueNodesEvaluatesCover(t *testing.T) {
	h, covered := testDSN(t)
	h.UpdateInquiredOrSubscribedAttributeValues(covered, []domain.Entry{
		{Key: "wetter", Value: domain.NewStringValue("schlecht"), Timestamp: 1000, Type: domain.ValueDynamic},
	}, 5)

	query := NewFindQuery(
		And{Left: Presence{Key: "wetter"}, Right: StringEquals{Key: "wetter", Want: "schlecht"}},
		EvaluationInfo{ValidityThreshold: 350, InquireOutdatedAttributes: true},
	)
	nodes, attrs := h.GetTrueNodes(query)
	if len(nodes) != 1 || nodes[0].UUID != covered.UUID {
		t.Fatalf("GetTrueNodes = %v, want exactly the covered peer", nodes)
	}
	sel := attrs[covered.UUID.String()]
	if _, ok := sel["wetter"]; !ok {
		t.Errorf("expected the wetter attribute reported, got %v", sel)
	}
}

func TestUndecidedNodesReportMissingKeys(t *testing.T) {
	h, covered := testDSN(t)

	query := NewFindQuery(Presence{Key: "battery"}, EvaluationInfo{InquireUnknownAttributes: true})
	undecided := h.GetUndecidedNodesAndMissingKeys(query)
	keys, ok := undecided[covered.UUID.String()]
	if !ok {
		t.Fatalf("expected the covered peer undecided, got %v", undecided)
	}
	if len(keys) != 1 || keys[0] != "battery" {
		t.Errorf("missing keys = %v, want [battery]", keys)
	}
}

func TestCoverEntryRemovedOnNeighborClear(t *testing.T) {
	h, covered := testDSN(t)
	h.UpdateInquiredOrSubscribedAttributeValues(covered, []domain.Entry{
		{Key: "role", Value: domain.NewStringValue("sensor"), Timestamp: 1, Type: domain.ValueStatic},
	}, 5)

	h.OnNeighborChangeNotification(domain.RelationshipChild, covered.Logical, nil)

	nodes, _ := h.GetTrueNodes(NewFindQuery(Presence{Key: "role"}, EvaluationInfo{AllInformationPresent: true}))
	if len(nodes) != 0 {
		t.Errorf("expected no matches after the covered peer was removed, got %v", nodes)
	}
}

func TestSubscriptionHysteresis(t *testing.T) {
	h, covered := testDSN(t)
	h.thresholds = subscriptionThresholds{RequestRateWindow: time.Minute, MinRequests: 3}
	h.UpdateInquiredOrSubscribedAttributeValues(covered, []domain.Entry{
		{Key: "pos_x", Value: domain.NewInt32Value(1), Timestamp: 1, Type: domain.ValueDynamic},
	}, 5)
	uuid := covered.UUID.String()

	if acts := h.SubscribeActions(); len(acts) != 0 {
		t.Fatalf("no inquiries yet, but SubscribeActions = %v", acts)
	}
	for i := 0; i < 3; i++ {
		h.NotifyAboutQueryRequest(uuid, "pos_x")
	}
	acts := h.SubscribeActions()
	if len(acts) != 1 || len(acts[0].Keys) != 1 || acts[0].Keys[0] != "pos_x" {
		t.Fatalf("SubscribeActions after 3 inquiries = %v, want pos_x at the covered peer", acts)
	}
	h.MarkSubscribed(uuid, acts[0].Keys)

	if acts := h.SubscribeActions(); len(acts) != 0 {
		t.Errorf("already subscribed, but SubscribeActions = %v", acts)
	}
	// Inquiries inside the window keep the subscription; UnsubscribeActions
	// only fires once the window has fully drained.
	if acts := h.UnsubscribeActions(); len(acts) != 0 {
		t.Errorf("requests still in window, but UnsubscribeActions = %v", acts)
	}

	h.thresholds.RequestRateWindow = time.Nanosecond
	time.Sleep(time.Millisecond)
	acts = h.UnsubscribeActions()
	if len(acts) != 1 || acts[0].Keys[0] != "pos_x" {
		t.Errorf("UnsubscribeActions after the window drained = %v, want pos_x", acts)
	}
}
