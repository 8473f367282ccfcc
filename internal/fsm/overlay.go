package fsm

import "overlay/internal/domain"

// States a peer can be in across its lifetime.
const (
	StateIdle      State = "idle"
	StateJoining   State = "joining"
	StateJoined    State = "joined"
	StateLeaving   State = "leaving"
	StateReplacing State = "replacing"
	StateSearching State = "searching"
)

// Events correspond 1:1 to the message kinds of spec §6.2, plus the
// internal triggers (*Ready) a peer raises on itself once a multi-hop
// procedure completes.
const (
	EventJoinRequest     Event = "join_request"
	EventJoinAccept      Event = "join_accept"
	EventJoinAcceptAck   Event = "join_accept_ack"
	EventJoinReady       Event = "join_ready"
	EventJoinFailed      Event = "join_failed"
	EventLeaveRequest    Event = "leave_request"
	EventLeaveAccept     Event = "leave_accept"
	EventLeaveReady      Event = "leave_ready"
	EventReplacementReq  Event = "replacement_request"
	EventReplacementAck  Event = "replacement_ack"
	EventReplacementDone Event = "replacement_done"
	EventSearchStart     Event = "search_start"
	EventSearchDone      Event = "search_done"
)

// NewOverlayTable builds the transition table shared by every peer. A
// concurrent join guard is passed in so that Add's guard can consult the
// node's own "is a join already accepting at this parent" flag (Open
// Question: concurrent joins at the same parent are refused for
// determinism, not queued).
func NewOverlayTable(concurrentJoinGuard func() error) Table {
	t := NewTable()

	t.Add(StateIdle, EventJoinRequest, StateJoining, concurrentJoinGuard)
	t.Add(StateJoining, EventJoinAccept, StateJoining, nil)
	t.Add(StateJoining, EventJoinAcceptAck, StateJoining, nil)
	t.Add(StateJoining, EventJoinReady, StateJoined, nil)
	t.Add(StateJoining, EventJoinFailed, StateIdle, nil)

	t.Add(StateJoined, EventLeaveRequest, StateLeaving, nil)
	t.Add(StateLeaving, EventLeaveAccept, StateLeaving, nil)
	t.Add(StateLeaving, EventLeaveReady, StateIdle, nil)

	t.Add(StateJoined, EventReplacementReq, StateReplacing, nil)
	t.Add(StateReplacing, EventReplacementAck, StateReplacing, nil)
	t.Add(StateReplacing, EventReplacementDone, StateJoined, nil)

	t.Add(StateJoined, EventSearchStart, StateSearching, nil)
	t.Add(StateSearching, EventSearchDone, StateJoined, nil)

	return t
}

// RefuseConcurrentJoin is the default concurrentJoinGuard: it rejects with
// domain.ErrConcurrentJoin whenever joinInProgress reports a join already
// in flight, used by a peer that tracks in-flight joins with a simple bool
// rather than a queue (spec's documented determinism choice).
func RefuseConcurrentJoin(joinInProgress func() bool) func() error {
	return func() error {
		if joinInProgress() {
			return domain.ErrConcurrentJoin
		}
		return nil
	}
}
