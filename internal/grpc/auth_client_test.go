package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"linkchat/internal/auth"
)

type tokenValidator interface {
	validate(token string) (string, error)
}

type staticValidator map[string]string

func (s staticValidator) validate(token string) (string, error) {
	if token == "boom" {
		return "", status.Error(codes.Unavailable, "auth down")
	}
	return s[token], nil
}

var authServiceDesc = grpc.ServiceDesc{
	ServiceName: "auth.AuthService",
	HandlerType: (*tokenValidator)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "ValidateToken",
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			in := &wrapperspb.StringValue{}
			if err := dec(in); err != nil {
				return nil, err
			}
			userID, err := srv.(tokenValidator).validate(in.GetValue())
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(userID), nil
		},
	}},
}

func newTestClient(t *testing.T) *AuthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&authServiceDesc, staticValidator{"good": "alice"})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewAuthClient(conn, 0)
}

func TestAuthClientResolvesUser(t *testing.T) {
	client := newTestClient(t)

	userID, err := client.CurrentUserID(context.Background(), "Bearer good")

	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestAuthClientRejectsUnknownToken(t *testing.T) {
	client := newTestClient(t)

	_, err := client.CurrentUserID(context.Background(), "forged")
	require.Error(t, err)

	_, err = client.CurrentUserID(context.Background(), "")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAuthClientPropagatesTransportErrors(t *testing.T) {
	client := newTestClient(t)

	_, err := client.CurrentUserID(context.Background(), "boom")

	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
