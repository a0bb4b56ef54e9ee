package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/services"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// Service is the set of operations the transport exposes.
type Service interface {
	IngestEvents(ctx context.Context, events []models.ErrorEvent) (services.IngestResult, error)
	RecordHealthCheck(ctx context.Context, sample engine.HealthSample) (models.SystemLayerHealth, error)
	RecordRequestVolume(ctx context.Context, layer models.SystemLayer, count int, at time.Time) error
	LayerHealth(ctx context.Context, layer string) ([]models.SystemLayerHealth, error)
	GeneratePrediction(ctx context.Context, pc models.PredictionContext) (models.ErrorPredictionResult, error)
	GenerateBatchPredictions(ctx context.Context, contexts []models.PredictionContext) ([]models.ErrorPredictionResult, error)
	ValidatePredictionAccuracy(ctx context.Context, samples []models.AccuracySample) (models.AccuracyMetrics, error)
	BusinessImpactMetrics(ctx context.Context, r models.AnalyticsTimeRange) (models.BusinessImpactMetrics, error)
	SystemHealthMetrics(ctx context.Context, r models.AnalyticsTimeRange) (models.SystemHealthMetrics, error)
	AnomalyAnalytics(ctx context.Context, r models.AnalyticsTimeRange) (models.AnomalyAnalytics, error)
	PreventionAnalytics(ctx context.Context, r models.AnalyticsTimeRange) (models.PreventionAnalytics, error)
	DashboardData(ctx context.Context, r models.AnalyticsTimeRange) (models.DashboardData, error)
	RealtimeAnalytics(ctx context.Context) (models.RealtimeAnalytics, error)
	HandleTrigger(ctx context.Context, req models.TriggerRequest) (models.TriggerOutcome, error)
	ExecuteEmergencyContinuity(ctx context.Context, req models.EmergencyRequest) (models.ContinuityExecution, error)
	GetCascadeRecord(ctx context.Context, propagationID string) (models.CascadePreventionRecord, error)
	ListCascadeRecords(ctx context.Context, r models.AnalyticsTimeRange) ([]models.CascadePreventionRecord, error)
	QueueStats() models.QueueStats
}

// Handler maps structpb payloads onto Service calls.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: utils.LoggerOr(logger)}
}

type eventsRequest struct {
	Events []models.ErrorEvent `json:"events"`
}

type requestVolumeRequest struct {
	Layer models.SystemLayer `json:"systemLayer"`
	Count int                `json:"count"`
	At    time.Time          `json:"at"`
}

type layerRequest struct {
	Layer string `json:"systemLayer"`
}

type batchPredictionRequest struct {
	Contexts []models.PredictionContext `json:"contexts"`
}

type accuracyRequest struct {
	Samples []models.AccuracySample `json:"samples"`
}

type recordRequest struct {
	PropagationID string `json:"propagationId"`
}

// Methods returns every implemented method keyed by name.
func (h *Handler) Methods() map[string]UnaryFunc {
	return map[string]UnaryFunc{
		MethodIngestEvents:               handle(h, MethodIngestEvents, h.ingestEvents),
		MethodRecordHealthCheck:          handle(h, MethodRecordHealthCheck, h.svc.RecordHealthCheck),
		MethodRecordRequestVolume:        handle(h, MethodRecordRequestVolume, h.recordRequestVolume),
		MethodGetLayerHealth:             handle(h, MethodGetLayerHealth, h.layerHealth),
		MethodGeneratePrediction:         handle(h, MethodGeneratePrediction, h.svc.GeneratePrediction),
		MethodGenerateBatchPredictions:   handle(h, MethodGenerateBatchPredictions, h.batchPredictions),
		MethodValidatePredictionAccuracy: handle(h, MethodValidatePredictionAccuracy, h.validateAccuracy),
		MethodGetBusinessImpactMetrics:   handle(h, MethodGetBusinessImpactMetrics, h.svc.BusinessImpactMetrics),
		MethodGetSystemHealthMetrics:     handle(h, MethodGetSystemHealthMetrics, h.svc.SystemHealthMetrics),
		MethodGetAnomalyAnalytics:        handle(h, MethodGetAnomalyAnalytics, h.svc.AnomalyAnalytics),
		MethodGetPreventionAnalytics:     handle(h, MethodGetPreventionAnalytics, h.svc.PreventionAnalytics),
		MethodGetDashboardData:           handle(h, MethodGetDashboardData, h.svc.DashboardData),
		MethodGetRealtimeAnalytics:       handle(h, MethodGetRealtimeAnalytics, h.realtime),
		MethodHandleTrigger:              handle(h, MethodHandleTrigger, h.svc.HandleTrigger),
		MethodExecuteEmergencyContinuity: handle(h, MethodExecuteEmergencyContinuity, h.svc.ExecuteEmergencyContinuity),
		MethodGetCascadeRecord:           handle(h, MethodGetCascadeRecord, h.cascadeRecord),
		MethodListCascadeRecords:         handle(h, MethodListCascadeRecords, h.listCascadeRecords),
		MethodGetQueueStats:              handle(h, MethodGetQueueStats, h.queueStats),
	}
}

func (h *Handler) ingestEvents(ctx context.Context, req eventsRequest) (services.IngestResult, error) {
	return h.svc.IngestEvents(ctx, req.Events)
}

func (h *Handler) recordRequestVolume(ctx context.Context, req requestVolumeRequest) (map[string]any, error) {
	if err := h.svc.RecordRequestVolume(ctx, req.Layer, req.Count, req.At); err != nil {
		return nil, err
	}
	return map[string]any{"accepted": true}, nil
}

func (h *Handler) layerHealth(ctx context.Context, req layerRequest) (map[string]any, error) {
	layers, err := h.svc.LayerHealth(ctx, req.Layer)
	if err != nil {
		return nil, err
	}
	return map[string]any{"layers": layers}, nil
}

func (h *Handler) batchPredictions(ctx context.Context, req batchPredictionRequest) (map[string]any, error) {
	results, err := h.svc.GenerateBatchPredictions(ctx, req.Contexts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": results}, nil
}

func (h *Handler) validateAccuracy(ctx context.Context, req accuracyRequest) (models.AccuracyMetrics, error) {
	return h.svc.ValidatePredictionAccuracy(ctx, req.Samples)
}

func (h *Handler) realtime(ctx context.Context, _ struct{}) (models.RealtimeAnalytics, error) {
	return h.svc.RealtimeAnalytics(ctx)
}

func (h *Handler) cascadeRecord(ctx context.Context, req recordRequest) (models.CascadePreventionRecord, error) {
	if req.PropagationID == "" {
		return models.CascadePreventionRecord{}, utils.NewValidationError("api.GetCascadeRecord", "propagationId is required")
	}
	return h.svc.GetCascadeRecord(ctx, req.PropagationID)
}

func (h *Handler) listCascadeRecords(ctx context.Context, r models.AnalyticsTimeRange) (map[string]any, error) {
	records, err := h.svc.ListCascadeRecords(ctx, r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"records": records}, nil
}

func (h *Handler) queueStats(context.Context, struct{}) (models.QueueStats, error) {
	return h.svc.QueueStats(), nil
}

// handle decodes the payload into Req, runs fn, and encodes its result.
func handle[Req, Resp any](h *Handler, method string, fn func(context.Context, Req) (Resp, error)) UnaryFunc {
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		var req Req
		if err := FromStruct(in, &req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		resp, err := fn(ctx, req)
		if err != nil {
			st := ToStatus(err)
			if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
				h.logger.Error("request failed", slog.String("method", method), slog.Any("error", err))
			}
			return nil, st.Err()
		}
		out, err := ToStruct(resp)
		if err != nil {
			h.logger.Error("encode response", slog.String("method", method), slog.Any("error", err))
			return nil, status.Error(codes.Internal, "encode response")
		}
		return out, nil
	}
}

// FromStruct decodes a structpb payload into out through its JSON form.
func FromStruct(in *structpb.Struct, out any) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// ToStruct encodes v as a structpb payload. v must encode to a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToStatus maps an error onto a gRPC status. Only the application message is exposed.
func ToStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return status.New(codes.DeadlineExceeded, "deadline exceeded")
		case errors.Is(err, context.Canceled):
			return status.New(codes.Canceled, "request cancelled")
		}
		return status.New(codes.Internal, "internal error")
	}
	msg := appErr.Msg
	if msg == "" {
		msg = string(appErr.Kind)
	}
	switch appErr.Kind {
	case utils.KindValidation, utils.KindInvalidPrediction:
		return status.New(codes.InvalidArgument, msg)
	case utils.KindConfiguration:
		return status.New(codes.FailedPrecondition, msg)
	case utils.KindAuthorization:
		return status.New(codes.PermissionDenied, msg)
	case utils.KindDependencyUnavailable:
		return status.New(codes.Unavailable, msg)
	case utils.KindTimeout:
		return status.New(codes.DeadlineExceeded, msg)
	case utils.KindNotFound:
		return status.New(codes.NotFound, msg)
	default:
		return status.New(codes.Internal, "internal error")
	}
}
