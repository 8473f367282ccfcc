package peer

import (
	"context"
	"fmt"

	"overlay/internal/wire"
)

// handleClientInsert/Update/Remove/Find/State are the out-of-process
// counterparts of facade.go's Insert/Update/Remove/FindEntities/State,
// reached over Dispatch so a separate CLI process (cmd/client) can drive
// the same component C11 operations a direct in-process embedder would
// call on a *Peer value.

func (p *Peer) handleClientInsert(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.ClientInsertPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed ClientInsert payload")
	}
	ack := wire.ClientAckPayload{}
	if err := p.Insert(ctx, payload.Entries); err != nil {
		ack.Err = err.Error()
	}
	return &wire.Envelope{Kind: wire.KindClientAck, Sender: p.Self(), RefEventID: env.EventID, Payload: ack}, nil
}

func (p *Peer) handleClientUpdate(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.ClientUpdatePayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed ClientUpdate payload")
	}
	ack := wire.ClientAckPayload{}
	if err := p.Update(ctx, payload.Entries); err != nil {
		ack.Err = err.Error()
	}
	return &wire.Envelope{Kind: wire.KindClientAck, Sender: p.Self(), RefEventID: env.EventID, Payload: ack}, nil
}

func (p *Peer) handleClientRemove(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.ClientRemovePayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed ClientRemove payload")
	}
	ack := wire.ClientAckPayload{}
	if err := p.Remove(ctx, payload.Keys); err != nil {
		ack.Err = err.Error()
	}
	return &wire.Envelope{Kind: wire.KindClientAck, Sender: p.Self(), RefEventID: env.EventID, Payload: ack}, nil
}

func (p *Peer) handleClientFind(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.ClientFindPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed ClientFind payload")
	}
	resp := wire.ClientFindResponsePayload{}
	results, err := p.FindEntities(ctx, payload.Query)
	if err != nil {
		resp.Err = err.Error()
	} else {
		resp.Results = make([]wire.ClientFindResultEntry, 0, len(results))
		for _, r := range results {
			resp.Results = append(resp.Results, wire.ClientFindResultEntry{Node: r.Node, Attributes: r.Attributes})
		}
	}
	return &wire.Envelope{Kind: wire.KindClientFindResponse, Sender: p.Self(), RefEventID: env.EventID, Payload: resp}, nil
}

func (p *Peer) handleClientState(env *wire.Envelope) (*wire.Envelope, error) {
	payload := wire.ClientStateReplyPayload{State: p.State().String()}
	return &wire.Envelope{Kind: wire.KindClientStateReply, Sender: p.Self(), RefEventID: env.EventID, Payload: payload}, nil
}
