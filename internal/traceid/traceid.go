// Package traceid generates and propagates human-readable correlation
// identifiers, independent of OpenTelemetry's own span/trace IDs (see
// internal/telemetry) -- this is the procedure-registry event_id/ref_event_id
// correlation, not distributed tracing.
package traceid

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/oklog/ulid/v2"
)

type contextKey struct{}

// New generates a new globally-ordered, sortable correlation id in the form
// <prefix>-<ulid>.
func New(prefix string) string {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		// crypto/rand.Reader does not fail in practice; fall back defensively.
		id = ulid.ULID{}
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Attach returns a context carrying id for later retrieval with FromContext.
func Attach(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id attached by Attach, or "" if none.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}
