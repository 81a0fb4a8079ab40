package guard

import (
	"context"

	"github.com/goliatone/go-credentials/core"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryClientInterceptor sends the session's access token as bearer
// authorization metadata. codes.Unauthenticated forces logout and
// codes.PermissionDenied maps to PermissionDenied.
func UnaryClientInterceptor(sessions SessionSource, opts ...Option) grpc.UnaryClientInterceptor {
	g := newGuard(sessions, opts)
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		token, sessionID, err := g.credential(ctx)
		if err != nil {
			return err
		}
		outCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		err = invoker(outCtx, method, req, reply, cc, callOpts...)
		if err == nil {
			return nil
		}
		st, ok := status.FromError(err)
		if !ok {
			return err
		}
		switch st.Code() {
		case codes.Unauthenticated:
			return g.unauthorized(ctx, sessionID, err)
		case codes.PermissionDenied:
			return core.PermissionDeniedError(st.Message(), err)
		}
		return err
	}
}
