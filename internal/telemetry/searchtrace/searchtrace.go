// Package searchtrace creates OpenTelemetry spans for the two
// multi-hop read paths that matter most operationally: SearchExact and
// FindQuery evaluation. It only spans calls already flagged by the
// initiating hop, so routine maintenance traffic (stabilization, neighbor
// notifications) never pays tracing overhead.
package searchtrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"overlay/internal/wire"
)

const (
	tracedMetaKey = "x-overlay-traced"
	tracerName    = "overlay/searchtrace"
)

var tracer = otel.Tracer(tracerName)

// WithTraced marks ctx so downstream hops know to keep spanning this call.
func WithTraced(ctx context.Context) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(tracedMetaKey, "true")
	return metadata.NewOutgoingContext(ctx, md)
}

// IsTraced reports whether ctx was marked by WithTraced, whether that
// happened on this call's way in (an intermediate forwarding hop, carried
// as incoming metadata) or on its way out (the originating hop, which has
// no incoming metadata of its own yet).
func IsTraced(ctx context.Context) bool {
	if md, ok := metadata.FromIncomingContext(ctx); ok && flagSet(md) {
		return true
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	return ok && flagSet(md)
}

func flagSet(md metadata.MD) bool {
	values := md.Get(tracedMetaKey)
	return len(values) > 0 && values[0] == "true"
}

func isSpannedKind(kind wire.Kind) bool {
	return kind == wire.KindSearchExactRequest || kind == wire.KindFindQueryRequest
}

// ServerInterceptor spans Dispatch calls carrying a SearchExact or FindQuery
// envelope, once the call has been marked traced by an earlier hop. Every
// message kind shares the same gRPC method name (the multiplexed Dispatch
// RPC), so the span name comes from the decoded envelope's Kind rather than
// info.FullMethod.
func ServerInterceptor() grpc.UnaryServerInterceptor {
	propagator := otel.GetTextMapPropagator()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = propagator.Extract(ctx, metadataCarrier(md))
		}
		env, ok := req.(*wire.Envelope)
		if IsTraced(ctx) && ok && isSpannedKind(env.Kind) {
			var span trace.Span
			ctx, span = tracer.Start(ctx, string(env.Kind), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		}
		return handler(ctx, req)
	}
}

// ClientInterceptor propagates the traced flag and OTEL context whenever the
// caller has marked ctx with WithTraced.
func ClientInterceptor() grpc.UnaryClientInterceptor {
	propagator := otel.GetTextMapPropagator()

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if !IsTraced(ctx) {
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		ctx = WithTraced(ctx)
		spanName := method
		if env, ok := req.(*wire.Envelope); ok {
			spanName = string(env.Kind)
		}
		var span trace.Span
		ctx, span = tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()

		md, _ := metadata.FromOutgoingContext(ctx)
		md = md.Copy()
		propagator.Inject(ctx, metadataCarrier(md))
		ctx = metadata.NewOutgoingContext(ctx, md)

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

type metadataCarrier metadata.MD

func (mc metadataCarrier) Get(key string) string {
	vals := metadata.MD(mc).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (mc metadataCarrier) Set(key, value string) { metadata.MD(mc).Set(key, value) }

func (mc metadataCarrier) Keys() []string {
	out := make([]string, 0, len(mc))
	for k := range mc {
		out = append(out, k)
	}
	return out
}
