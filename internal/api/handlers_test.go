package api

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-resilience/internal/config"
	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/services"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// stubService answers every call from canned values.
type stubService struct {
	ingested []models.ErrorEvent
	ranges   []models.AnalyticsTimeRange
	err      error
}

func (s *stubService) IngestEvents(_ context.Context, events []models.ErrorEvent) (services.IngestResult, error) {
	s.ingested = append(s.ingested, events...)
	return services.IngestResult{Accepted: len(events)}, s.err
}

func (s *stubService) RecordHealthCheck(_ context.Context, sample engine.HealthSample) (models.SystemLayerHealth, error) {
	return models.SystemLayerHealth{Layer: sample.Layer, ErrorRate: sample.ErrorRate}, s.err
}

func (s *stubService) RecordRequestVolume(context.Context, models.SystemLayer, int, time.Time) error {
	return s.err
}

func (s *stubService) LayerHealth(_ context.Context, layer string) ([]models.SystemLayerHealth, error) {
	return []models.SystemLayerHealth{{Layer: models.SystemLayer(layer), Health: models.HealthDegraded}}, s.err
}

func (s *stubService) GeneratePrediction(_ context.Context, pc models.PredictionContext) (models.ErrorPredictionResult, error) {
	return models.ErrorPredictionResult{PredictionID: "p-1", Layer: pc.Layer}, s.err
}

func (s *stubService) GenerateBatchPredictions(_ context.Context, contexts []models.PredictionContext) ([]models.ErrorPredictionResult, error) {
	out := make([]models.ErrorPredictionResult, len(contexts))
	for i, pc := range contexts {
		out[i] = models.ErrorPredictionResult{PredictionID: fmt.Sprintf("p-%d", i), Layer: pc.Layer}
	}
	return out, s.err
}

func (s *stubService) ValidatePredictionAccuracy(context.Context, []models.AccuracySample) (models.AccuracyMetrics, error) {
	return models.AccuracyMetrics{}, s.err
}

func (s *stubService) BusinessImpactMetrics(_ context.Context, r models.AnalyticsTimeRange) (models.BusinessImpactMetrics, error) {
	s.ranges = append(s.ranges, r)
	return models.BusinessImpactMetrics{TotalEvents: 7}, s.err
}

func (s *stubService) SystemHealthMetrics(context.Context, models.AnalyticsTimeRange) (models.SystemHealthMetrics, error) {
	return models.SystemHealthMetrics{}, s.err
}

func (s *stubService) AnomalyAnalytics(context.Context, models.AnalyticsTimeRange) (models.AnomalyAnalytics, error) {
	return models.AnomalyAnalytics{}, s.err
}

func (s *stubService) PreventionAnalytics(context.Context, models.AnalyticsTimeRange) (models.PreventionAnalytics, error) {
	return models.PreventionAnalytics{}, s.err
}

func (s *stubService) DashboardData(context.Context, models.AnalyticsTimeRange) (models.DashboardData, error) {
	return models.DashboardData{}, s.err
}

func (s *stubService) RealtimeAnalytics(context.Context) (models.RealtimeAnalytics, error) {
	return models.RealtimeAnalytics{ErrorsInWindow: 3}, s.err
}

func (s *stubService) HandleTrigger(context.Context, models.TriggerRequest) (models.TriggerOutcome, error) {
	return models.TriggerOutcome{}, s.err
}

func (s *stubService) ExecuteEmergencyContinuity(context.Context, models.EmergencyRequest) (models.ContinuityExecution, error) {
	return models.ContinuityExecution{}, s.err
}

func (s *stubService) GetCascadeRecord(_ context.Context, id string) (models.CascadePreventionRecord, error) {
	return models.CascadePreventionRecord{PropagationID: id}, s.err
}

func (s *stubService) ListCascadeRecords(context.Context, models.AnalyticsTimeRange) ([]models.CascadePreventionRecord, error) {
	return nil, s.err
}

func (s *stubService) QueueStats() models.QueueStats { return models.QueueStats{Queued: 2} }

func mustStruct(t *testing.T, v map[string]any) *structpb.Struct {
	t.Helper()
	st, err := structpb.NewStruct(v)
	require.NoError(t, err)
	return st
}

func TestToStatusMapsErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{utils.NewValidationError("op", "bad"), codes.InvalidArgument},
		{utils.NewInvalidPredictionError("op", "bad"), codes.InvalidArgument},
		{utils.NewConfigurationError("op", "missing"), codes.FailedPrecondition},
		{utils.NewAuthorizationError("op", "denied"), codes.PermissionDenied},
		{utils.NewDependencyError("op", "down", errors.New("dial")), codes.Unavailable},
		{utils.NewTimeoutError("op", "slow", context.DeadlineExceeded), codes.DeadlineExceeded},
		{utils.NewNotFoundError("op", "gone"), codes.NotFound},
		{fmt.Errorf("wrapped: %w", utils.NewValidationError("op", "bad")), codes.InvalidArgument},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, ToStatus(tc.err).Code(), tc.err.Error())
	}
}

func TestToStatusHidesUnderlyingErrors(t *testing.T) {
	st := ToStatus(utils.NewDependencyError("op", "events upstream unavailable", errors.New("dial tcp 10.0.0.1:443: secret")))
	assert.Equal(t, "events upstream unavailable", st.Message())

	st = ToStatus(errors.New("password=hunter2"))
	assert.Equal(t, "internal error", st.Message())
}

func TestHandlerDecodesRangeRequests(t *testing.T) {
	svc := &stubService{}
	h := NewHandler(svc, nil)
	out, err := h.Methods()[MethodGetBusinessImpactMetrics](context.Background(), mustStruct(t, map[string]any{
		"start":       "2026-03-09T12:00:00Z",
		"end":         "2026-03-10T12:00:00Z",
		"granularity": "hour",
	}))
	require.NoError(t, err)
	require.Len(t, svc.ranges, 1)
	assert.Equal(t, time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC), svc.ranges[0].Start.UTC())
	assert.Equal(t, models.GranularityHour, svc.ranges[0].Granularity)
	assert.EqualValues(t, 7, out.GetFields()["totalEvents"].GetNumberValue())
}

func TestHandlerRejectsUndecodablePayload(t *testing.T) {
	h := NewHandler(&stubService{}, nil)
	_, err := h.Methods()[MethodIngestEvents](context.Background(), mustStruct(t, map[string]any{
		"events": "not-a-list",
	}))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHandlerRequiresPropagationID(t *testing.T) {
	h := NewHandler(&stubService{}, nil)
	_, err := h.Methods()[MethodGetCascadeRecord](context.Background(), &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServerRoundTrip(t *testing.T) {
	svc := &stubService{}
	srv, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second}, NewHandler(svc, nil), nil)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), srv.GracefulTimeout())
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(conn)
	out, err := client.Call(ctx, MethodIngestEvents, mustStruct(t, map[string]any{
		"events": []any{
			map[string]any{"timestamp": "2026-03-10T12:00:00Z", "systemLayer": "api", "severity": "high"},
		},
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, out.GetFields()["accepted"].GetNumberValue())
	require.Len(t, svc.ingested, 1)
	assert.Equal(t, models.SeverityHigh, svc.ingested[0].Severity)

	out, err = client.Call(ctx, MethodGetRealtimeAnalytics, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, out.GetFields()["errorsInWindow"].GetNumberValue())

	svc.err = utils.NewAuthorizationError("op", "authorization required")
	_, err = client.Call(ctx, MethodExecuteEmergencyContinuity, mustStruct(t, map[string]any{"layers": []any{"api"}}))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = client.Call(ctx, "Unknown", nil)
	assert.Equal(t, codes.Unimplemented, status.Code(err))

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
