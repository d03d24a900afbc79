package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"linkchat/internal/auth"
	"linkchat/internal/observability"
)

// ValidateTokenMethod takes the raw token as a StringValue and answers with
// the owner's id as a StringValue; an empty id means the token is invalid.
const ValidateTokenMethod = "/auth.AuthService/ValidateToken"

// AuthClient resolves session tokens against the auth service over gRPC.
type AuthClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// Dial connects to the auth service at addr.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial auth grpc: %w", err)
	}
	return conn, nil
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn grpc.ClientConnInterface, timeout time.Duration) *AuthClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AuthClient{conn: conn, timeout: timeout}
}

// CurrentUserID implements auth.Provider.
func (a *AuthClient) CurrentUserID(ctx context.Context, token string) (string, error) {
	token = auth.StripBearer(token)
	if token == "" {
		return "", auth.ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp := &wrapperspb.StringValue{}
	if err := a.conn.Invoke(ctx, ValidateTokenMethod, wrapperspb.String(token), resp); err != nil {
		return "", err
	}
	if resp.GetValue() == "" {
		return "", auth.ErrInvalidToken
	}
	return resp.GetValue(), nil
}

var _ auth.Provider = (*AuthClient)(nil)
