package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func TestRecoverUnaryConvertsPanic(t *testing.T) {
	intercept := recoverUnary(utils.NewLogger("error", false))
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodGetRealtimeAnalytics)}

	resp, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, "internal error", status.Convert(err).Message())
}

func TestLogUnaryPassesThrough(t *testing.T) {
	intercept := logUnary(utils.NewLogger("error", false))
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodGetLayerHealth)}

	resp, err := intercept(context.Background(), "in", info, func(_ context.Context, req any) (any, error) {
		return req, status.Error(codes.NotFound, "missing")
	})
	assert.Equal(t, "in", resp)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
