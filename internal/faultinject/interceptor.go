package faultinject

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryClientInterceptor applies rules to outgoing unary calls. Dropped calls
// fail with codes.Unavailable, as a partitioned peer would.
func UnaryClientInterceptor(rules *Rules) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		msg := &Message{Method: method, Request: req}
		send := func(m Message) {
			if m.Method == "" {
				m.Method = method
			}
			out := m.Reply
			if out == nil {
				out = new(map[string]any)
			}
			// Injected calls are fire-and-forget.
			_ = invoker(ctx, m.Method, m.Request, out, cc, opts...)
		}
		if !rules.Evaluate(msg, send) {
			return status.Errorf(codes.Unavailable, "faultinject: dropped %s", method)
		}
		return invoker(ctx, msg.Method, msg.Request, reply, cc, opts...)
	}
}
