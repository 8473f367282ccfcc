// Package ctxutil provides the standard "is this context still alive" guard
// every Dispatch handler checks before doing work. Search-exact and
// find-query carry their own hop budgets and correlation ids on the wire
// envelope itself (wire.SearchExactRequestPayload.HopsLeft, Envelope.EventID),
// so this package stays limited to the one cross-cutting concern every RPC
// shares: rejecting work on a context that is already gone.
package ctxutil

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CheckContext returns a gRPC status error if ctx has already been
// cancelled or its deadline exceeded, nil otherwise. Call at the top of
// every RPC handler before doing work.
func CheckContext(ctx context.Context) error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled by caller")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request deadline exceeded")
	default:
		return nil
	}
}
