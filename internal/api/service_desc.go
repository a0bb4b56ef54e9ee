package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "mirador.resilience.v1.ResilienceEngine"

// Method names exposed by the ResilienceEngine service.
const (
	MethodIngestEvents               = "IngestEvents"
	MethodRecordHealthCheck          = "RecordHealthCheck"
	MethodRecordRequestVolume        = "RecordRequestVolume"
	MethodGetLayerHealth             = "GetLayerHealth"
	MethodGeneratePrediction         = "GeneratePrediction"
	MethodGenerateBatchPredictions   = "GenerateBatchPredictions"
	MethodValidatePredictionAccuracy = "ValidatePredictionAccuracy"
	MethodGetBusinessImpactMetrics   = "GetBusinessImpactMetrics"
	MethodGetSystemHealthMetrics     = "GetSystemHealthMetrics"
	MethodGetAnomalyAnalytics        = "GetAnomalyAnalytics"
	MethodGetPreventionAnalytics     = "GetPreventionAnalytics"
	MethodGetDashboardData           = "GetDashboardData"
	MethodGetRealtimeAnalytics       = "GetRealtimeAnalytics"
	MethodHandleTrigger              = "HandleTrigger"
	MethodExecuteEmergencyContinuity = "ExecuteEmergencyContinuity"
	MethodGetCascadeRecord           = "GetCascadeRecord"
	MethodListCascadeRecords         = "ListCascadeRecords"
	MethodGetQueueStats              = "GetQueueStats"
)

// UnaryFunc is the shape of every ResilienceEngine method.
type UnaryFunc func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// ResilienceEngineServer is implemented by Handler.
type ResilienceEngineServer interface {
	Methods() map[string]UnaryFunc
}

// FullMethod returns the "/service/method" path used by clients.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// NewServiceDesc builds the descriptor for srv. Methods the server does not implement are
// omitted so the gRPC runtime answers Unimplemented.
func NewServiceDesc(srv ResilienceEngineServer) grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*ResilienceEngineServer)(nil),
		Metadata:    "mirador/resilience/v1/engine.proto",
	}
	for name, fn := range srv.Methods() {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(name, fn),
		})
	}
	return desc
}

func unaryHandler(method string, fn UnaryFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls ResilienceEngine methods over an established connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with in.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
