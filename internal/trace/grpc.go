package trace

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryClientInterceptor sends the caller's span, session and cycle to the
// inference service as metadata. Calls made outside a span get a new trace.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(outgoing(ctx), method, req, reply, cc, opts...)
	}
}

func outgoing(ctx context.Context) context.Context {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
		ctx = WithContext(ctx, tc)
	}

	pairs := []string{TraceIDKey, tc.TraceID, SpanIDKey, tc.SpanID}
	if tc.ParentSpanID != "" {
		pairs = append(pairs, ParentSpanIDKey, tc.ParentSpanID)
	}
	if id := SessionFrom(ctx); id != "" {
		pairs = append(pairs, SessionKey, id)
	}
	if n := CycleFrom(ctx); n > 0 {
		pairs = append(pairs, CycleKey, strconv.Itoa(n))
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
