package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// ImpactClassifier scores the impact of a triggering signal.
type ImpactClassifier interface {
	Classify(in ImpactInput) (models.BusinessImpact, float64, error)
}

// HealthReader exposes the published per-layer health.
type HealthReader interface {
	GetLayerHealth(layer models.SystemLayer) (models.SystemLayerHealth, error)
}

// Actuator delivers containment directives to external executors.
type Actuator interface {
	Dispatch(ctx context.Context, directive models.ContainmentDirective) error
}

// AuditTrail is the append-only store of cascade prevention records.
type AuditTrail interface {
	Append(ctx context.Context, rec models.CascadePreventionRecord) error
	Get(ctx context.Context, propagationID string) (models.CascadePreventionRecord, error)
	ListRange(ctx context.Context, start, end time.Time) ([]models.CascadePreventionRecord, error)
}

// JobQueue accepts continuity jobs for asynchronous execution.
type JobQueue interface {
	Enqueue(ctx context.Context, job models.ContinuityJob) error
	Stats() models.QueueStats
}

// OrchestratorSettings tunes containment decisions.
type OrchestratorSettings struct {
	HighLoadThreshold   float64
	MaxPropagationDepth int
}

// Orchestrator decides containment for triggering signals and runs emergency continuity.
type Orchestrator struct {
	logger     *slog.Logger
	classifier ImpactClassifier
	health     HealthReader
	graph      *PropagationGraph
	playbooks  *PlaybookSet
	actuator   Actuator
	audit      AuditTrail
	jobs       JobQueue
	settings   OrchestratorSettings

	floorsMu sync.RWMutex
	floors   map[models.SystemLayer]models.BusinessImpact

	now   func() time.Time
	newID func() string
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(
	logger *slog.Logger,
	classifier ImpactClassifier,
	health HealthReader,
	graph *PropagationGraph,
	playbooks *PlaybookSet,
	actuator Actuator,
	audit AuditTrail,
	jobs JobQueue,
	settings OrchestratorSettings,
) *Orchestrator {
	if graph == nil {
		graph = &PropagationGraph{dependents: DefaultDependents()}
	}
	if settings.HighLoadThreshold <= 0 {
		settings.HighLoadThreshold = 0.8
	}
	if settings.MaxPropagationDepth <= 0 {
		settings.MaxPropagationDepth = 3
	}
	return &Orchestrator{
		logger:     utils.LoggerOr(logger),
		classifier: classifier,
		health:     health,
		graph:      graph,
		playbooks:  playbooks,
		actuator:   actuator,
		audit:      audit,
		jobs:       jobs,
		settings:   settings,
		floors:     make(map[models.SystemLayer]models.BusinessImpact),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// HandleTrigger walks one incident through detection, classification and containment.
// Signals below the threshold return Detected=false and leave no record.
func (o *Orchestrator) HandleTrigger(ctx context.Context, req models.TriggerRequest) (models.TriggerOutcome, error) {
	const op = "orchestrator.HandleTrigger"
	if !req.MaxImpactThreshold.Valid() {
		return models.TriggerOutcome{}, utils.NewValidationError(op, "maxImpactThreshold must be one of LOW, MEDIUM, HIGH, CRITICAL")
	}
	sig, err := o.signalFor(req)
	if err != nil {
		return models.TriggerOutcome{}, err
	}

	failSafe := false
	metadata := map[string]string{}

	impact, score, classifyErr := o.classify(sig.input)
	if classifyErr != nil {
		if utils.IsInputError(classifyErr) {
			return models.TriggerOutcome{}, classifyErr
		}
		impact = models.MaxImpact(o.Floor(sig.source), sig.floor)
		if impact == models.ImpactUnknown {
			return models.TriggerOutcome{}, utils.NewDependencyError(op, "no impact signal available", classifyErr)
		}
		failSafe = true
		metadata["failsafe_reason"] = "classifier_unavailable"
		o.logger.Warn("classifier unavailable, using impact floor",
			slog.String("layer", string(sig.source)),
			slog.String("impact", impact.String()),
			slog.Any("error", classifyErr))
	} else {
		metadata["impact_score"] = strconv.FormatFloat(score, 'f', 2, 64)
		o.setFloor(sig.source, impact)
	}

	if impact < req.MaxImpactThreshold {
		return models.TriggerOutcome{Detected: false}, nil
	}

	rec := models.CascadePreventionRecord{
		PropagationID:  o.newID(),
		IncidentID:     req.IncidentID,
		SourceSystem:   sig.source,
		BusinessImpact: impact,
		Timestamp:      o.now().UTC(),
		Metadata:       metadata,
	}
	if rec.IncidentID == "" {
		rec.IncidentID = rec.PropagationID
	}
	inc := &incident{rec: &rec}
	if err := inc.advance(models.StateDetected, models.StateClassified); err != nil {
		return models.TriggerOutcome{}, err
	}

	targets, healthErr := o.targets(sig.source)
	load := req.CurrentLoad
	if healthErr != nil {
		failSafe = true
		load = 1
		if _, ok := metadata["failsafe_reason"]; ok {
			metadata["failsafe_reason"] = "classifier_and_health_unavailable"
		} else {
			metadata["failsafe_reason"] = "health_unavailable"
		}
		o.logger.Warn("health unavailable, assuming every reachable layer is affected",
			slog.String("layer", string(sig.source)), slog.Any("error", healthErr))
	}
	if load >= 0 {
		metadata["load"] = strconv.FormatFloat(load, 'f', 2, 64)
	}

	rec.PropagationPath = mergePaths(targets)
	for _, t := range targets {
		rec.TargetSystems = append(rec.TargetSystems, t.Layer)
	}

	highLoad := load >= o.settings.HighLoadThreshold
	strategy := decideStrategy(impact, len(rec.PropagationPath), len(targets), highLoad)
	if failSafe {
		strategy = failSafeStrategy(impact)
	}
	rec.ContainmentStrategy = strategy
	rec.FailSafe = failSafe
	if err := inc.advance(models.StateContainmentDecided); err != nil {
		return models.TriggerOutcome{}, err
	}

	scope := scopeDepth(strategy)
	covered := true
	for _, t := range targets {
		if t.Depth > scope {
			covered = false
			continue
		}
		rec.PreventedCascades = append(rec.PreventedCascades, fmt.Sprintf("%s->%s", sig.source, t.Layer))
	}
	residual := impact
	if covered {
		residual = models.ReduceImpact(impact, impactReduction(strategy))
	}
	metadata["residual_impact"] = residual.String()
	escalated := !covered || residual > req.MaxImpactThreshold

	directive := models.ContainmentDirective{
		PropagationID: rec.PropagationID,
		Strategy:      strategy,
		TargetSystems: append([]models.SystemLayer{sig.source}, rec.TargetSystems...),
		IssuedAt:      rec.Timestamp,
	}

	outcome := models.TriggerOutcome{Detected: true, Directive: &directive, Escalated: escalated}
	var continuity *models.EmergencyRequest
	if escalated {
		if err := inc.advance(models.StateEscalated); err != nil {
			return models.TriggerOutcome{}, err
		}
		rec.Outcome = models.OutcomeEscalated
		if req.Authorization.Asserted {
			continuity = &models.EmergencyRequest{
				PropagationID: rec.PropagationID,
				Layers:        directive.TargetSystems,
				Impact:        impact,
				Reason:        "cascade escalation",
				Authorization: req.Authorization,
			}
			metadata["continuity"] = "requested"
			metadata["continuity_execution"] = o.newID()
		} else {
			metadata["continuity"] = "pending_authorization"
		}
	} else {
		if err := inc.advance(models.StateContained); err != nil {
			return models.TriggerOutcome{}, err
		}
		rec.Outcome = models.OutcomeContained
	}
	if err := inc.advance(models.StateResolved); err != nil {
		return models.TriggerOutcome{}, err
	}

	// Nothing leaves the process until the record is durable.
	if o.audit != nil {
		if err := o.audit.Append(ctx, rec); err != nil {
			return models.TriggerOutcome{}, utils.NewDependencyError(op, "append cascade record", err)
		}
	}

	if o.actuator != nil {
		if err := o.actuator.Dispatch(ctx, directive); err != nil {
			outcome.Warnings = append(outcome.Warnings, "containment directive dispatch failed")
			o.logger.Warn("containment directive dispatch failed",
				slog.String("propagation_id", rec.PropagationID), slog.Any("error", err))
		}
	}
	if continuity != nil {
		exec, err := o.executeContinuity(ctx, *continuity, metadata["continuity_execution"])
		if err != nil {
			outcome.Warnings = append(outcome.Warnings, "emergency continuity failed")
			o.logger.Error("emergency continuity failed",
				slog.String("propagation_id", rec.PropagationID), slog.Any("error", err))
		} else {
			outcome.Continuity = &exec
		}
	}

	o.logger.Info("containment decided",
		slog.String("propagation_id", rec.PropagationID),
		slog.String("source", string(rec.SourceSystem)),
		slog.String("impact", impact.String()),
		slog.String("strategy", string(strategy)),
		slog.String("outcome", rec.Outcome),
		slog.Bool("fail_safe", failSafe))

	final := rec.Clone()
	outcome.Record = &final
	return outcome, nil
}

// ExecuteEmergencyContinuity queues the matching playbook actions. It requires an asserted
// authorization and executes nothing without one.
func (o *Orchestrator) ExecuteEmergencyContinuity(ctx context.Context, req models.EmergencyRequest) (models.ContinuityExecution, error) {
	const op = "orchestrator.ExecuteEmergencyContinuity"
	if !req.Authorization.Asserted {
		return models.ContinuityExecution{}, utils.NewAuthorizationError(op, "emergency continuity requires an asserted authorization")
	}
	if len(req.Layers) == 0 {
		return models.ContinuityExecution{}, utils.NewValidationError(op, "at least one layer is required")
	}
	for _, layer := range req.Layers {
		if _, err := models.ParseSystemLayer(string(layer)); err != nil {
			return models.ContinuityExecution{}, utils.NewValidationError(op, err.Error())
		}
	}
	if !req.Impact.Valid() {
		return models.ContinuityExecution{}, utils.NewValidationError(op, "impact must be one of LOW, MEDIUM, HIGH, CRITICAL")
	}
	return o.executeContinuity(ctx, req, o.newID())
}

func (o *Orchestrator) executeContinuity(ctx context.Context, req models.EmergencyRequest, executionID string) (models.ContinuityExecution, error) {
	const op = "orchestrator.ExecuteEmergencyContinuity"
	if o.jobs == nil {
		return models.ContinuityExecution{}, utils.NewConfigurationError(op, "job queue not configured")
	}

	exec := models.ContinuityExecution{ExecutionID: executionID, StartedAt: o.now().UTC()}
	for _, pb := range o.playbooks.Select(req.Layers, req.Impact) {
		exec.Playbooks = append(exec.Playbooks, pb.Name)
		for _, step := range pb.expand(req.Layers) {
			job := models.ContinuityJob{
				ID:          o.newID(),
				ExecutionID: exec.ExecutionID,
				Playbook:    step.Playbook,
				Action:      step.Action,
				Target:      step.Target,
				Impact:      req.Impact,
				Reason:      req.Reason,
				EnqueuedAt:  exec.StartedAt,
			}
			if err := o.jobs.Enqueue(ctx, job); err != nil {
				return exec, utils.NewDependencyError(op, "enqueue continuity job", err)
			}
			step.JobID = job.ID
			exec.Steps = append(exec.Steps, step)
		}
	}

	o.logger.Info("emergency continuity queued",
		slog.String("execution_id", exec.ExecutionID),
		slog.String("propagation_id", req.PropagationID),
		slog.Int("steps", len(exec.Steps)),
		slog.String("authority", req.Authorization.Authority))
	return exec, nil
}

// ObserveHealthTransition refreshes the impact floor used when classification is unavailable.
func (o *Orchestrator) ObserveHealthTransition(t models.HealthTransition) {
	o.setFloor(t.Layer, models.ImpactForHealth(t.To))
}

// Floor returns the cached impact floor of a layer.
func (o *Orchestrator) Floor(layer models.SystemLayer) models.BusinessImpact {
	o.floorsMu.RLock()
	defer o.floorsMu.RUnlock()
	return o.floors[layer]
}

// Record returns one audit entry.
func (o *Orchestrator) Record(ctx context.Context, propagationID string) (models.CascadePreventionRecord, error) {
	const op = "orchestrator.Record"
	if propagationID == "" {
		return models.CascadePreventionRecord{}, utils.NewValidationError(op, "propagationId is required")
	}
	if o.audit == nil {
		return models.CascadePreventionRecord{}, utils.NewConfigurationError(op, "audit trail not configured")
	}
	rec, err := o.audit.Get(ctx, propagationID)
	if errors.Is(err, models.ErrRecordNotFound) {
		return models.CascadePreventionRecord{}, utils.NewNotFoundError(op, fmt.Sprintf("no cascade record %q", propagationID))
	}
	if err != nil {
		return models.CascadePreventionRecord{}, utils.NewDependencyError(op, "read audit trail", err)
	}
	return rec, nil
}

// Records returns every audit entry in the range.
func (o *Orchestrator) Records(ctx context.Context, r models.AnalyticsTimeRange) ([]models.CascadePreventionRecord, error) {
	const op = "orchestrator.Records"
	if err := r.Validate(); err != nil {
		return nil, utils.NewValidationError(op, err.Error())
	}
	if o.audit == nil {
		return nil, utils.NewConfigurationError(op, "audit trail not configured")
	}
	recs, err := o.audit.ListRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, utils.NewDependencyError(op, "list audit trail", err)
	}
	return recs, nil
}

// QueueStats reports continuity job throughput.
func (o *Orchestrator) QueueStats() models.QueueStats {
	if o.jobs == nil {
		return models.QueueStats{}
	}
	return o.jobs.Stats()
}

type triggerSignal struct {
	source models.SystemLayer
	input  ImpactInput
	floor  models.BusinessImpact
}

func (o *Orchestrator) signalFor(req models.TriggerRequest) (triggerSignal, error) {
	const op = "orchestrator.HandleTrigger"
	switch {
	case req.Event != nil && req.Transition != nil:
		return triggerSignal{}, utils.NewValidationError(op, "trigger must carry either an event or a health transition, not both")
	case req.Event != nil:
		ev := *req.Event
		if err := ev.Validate(); err != nil {
			return triggerSignal{}, utils.NewValidationError(op, err.Error())
		}
		rate := req.ErrorRate
		if rate == 0 && o.health != nil {
			if h, err := o.health.GetLayerHealth(ev.Layer); err == nil {
				rate = h.ErrorRate
			}
		}
		return triggerSignal{
			source: ev.Layer,
			input:  ImpactInput{Severity: ev.Severity, ErrorRate: rate, AffectedCustomers: ev.AffectedCustomers},
			floor:  models.ImpactForSeverity(ev.Severity),
		}, nil
	case req.Transition != nil:
		t := *req.Transition
		if _, err := models.ParseSystemLayer(string(t.Layer)); err != nil {
			return triggerSignal{}, utils.NewValidationError(op, err.Error())
		}
		floor := models.ImpactForHealth(t.To)
		return triggerSignal{
			source: t.Layer,
			input:  ImpactInput{Severity: models.SeverityForImpact(floor), ErrorRate: t.ErrorRate},
			floor:  floor,
		}, nil
	default:
		return triggerSignal{}, utils.NewValidationError(op, "trigger must carry an event or a health transition")
	}
}

func (o *Orchestrator) classify(in ImpactInput) (models.BusinessImpact, float64, error) {
	if o.classifier == nil {
		return models.ImpactUnknown, 0, errors.New("classifier not configured")
	}
	return o.classifier.Classify(in)
}

// targets returns direct dependents plus deeper dependents that are currently unhealthy.
// When health cannot be read every reachable dependent is returned with the error.
func (o *Orchestrator) targets(source models.SystemLayer) ([]Reach, error) {
	reaches := o.graph.Reachable(source, o.settings.MaxPropagationDepth)
	if o.health == nil {
		return reaches, errors.New("health reader not configured")
	}
	if _, err := o.health.GetLayerHealth(source); err != nil {
		return reaches, err
	}
	var out []Reach
	for _, r := range reaches {
		if r.Depth == 1 {
			out = append(out, r)
			continue
		}
		h, err := o.health.GetLayerHealth(r.Layer)
		if err != nil {
			return reaches, err
		}
		if h.Health > models.HealthHealthy {
			out = append(out, r)
		}
	}
	return out, nil
}

func (o *Orchestrator) setFloor(layer models.SystemLayer, impact models.BusinessImpact) {
	o.floorsMu.Lock()
	defer o.floorsMu.Unlock()
	o.floors[layer] = impact
}

// decideStrategy applies the containment decision table.
func decideStrategy(impact models.BusinessImpact, pathLen, targetCount int, highLoad bool) models.ContainmentStrategy {
	switch impact {
	case models.ImpactCritical:
		if pathLen > 1 || highLoad {
			return models.StrategyFailover
		}
		return models.StrategyIsolate
	case models.ImpactHigh:
		if highLoad || targetCount > 2 {
			return models.StrategyThrottle
		}
		return models.StrategyIsolate
	default:
		if highLoad {
			return models.StrategyThrottle
		}
		return models.StrategyIsolate
	}
}

// failSafeStrategy is the most invasive strategy allowed for an impact floor.
func failSafeStrategy(impact models.BusinessImpact) models.ContainmentStrategy {
	switch impact {
	case models.ImpactCritical:
		return models.StrategyFailover
	case models.ImpactHigh:
		return models.StrategyThrottle
	default:
		return models.StrategyIsolate
	}
}

// scopeDepth is how many hops from the source a strategy contains.
func scopeDepth(s models.ContainmentStrategy) int {
	switch s {
	case models.StrategyIsolate:
		return 1
	case models.StrategyThrottle:
		return 2
	default:
		return math.MaxInt
	}
}

func impactReduction(s models.ContainmentStrategy) int {
	if s == models.StrategyFailover {
		return 2
	}
	return 1
}

// incident enforces the incident state machine on a record.
type incident struct {
	rec *models.CascadePreventionRecord
}

func (i *incident) advance(states ...models.IncidentState) error {
	for _, to := range states {
		if len(i.rec.States) == 0 {
			if to != models.StateDetected {
				return utils.NewAppError("orchestrator.advance", fmt.Sprintf("incident must start detected, not %s", to), nil)
			}
			i.rec.States = append(i.rec.States, to)
			continue
		}
		from := i.rec.States[len(i.rec.States)-1]
		if !models.CanTransition(from, to) {
			return utils.NewAppError("orchestrator.advance", fmt.Sprintf("illegal incident transition %s -> %s", from, to), nil)
		}
		i.rec.States = append(i.rec.States, to)
	}
	return nil
}
