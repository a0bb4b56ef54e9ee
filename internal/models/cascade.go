package models

import (
	"errors"
	"time"
)

// Audit trail lookup failures.
var (
	ErrRecordNotFound       = errors.New("cascade record not found")
	ErrDuplicatePropagation = errors.New("propagation id already recorded")
)

// ContainmentStrategy is the mitigation chosen to stop cascade propagation.
type ContainmentStrategy string

const (
	StrategyIsolate  ContainmentStrategy = "isolate"
	StrategyThrottle ContainmentStrategy = "throttle"
	StrategyFailover ContainmentStrategy = "failover"
)

// Invasiveness orders strategies from least to most invasive.
func (s ContainmentStrategy) Invasiveness() int {
	switch s {
	case StrategyIsolate:
		return 1
	case StrategyThrottle:
		return 2
	case StrategyFailover:
		return 3
	default:
		return 0
	}
}

// IncidentState is a node of the per-incident state machine.
type IncidentState string

const (
	StateDetected           IncidentState = "detected"
	StateClassified         IncidentState = "classified"
	StateContainmentDecided IncidentState = "containment_decided"
	StateContained          IncidentState = "contained"
	StateEscalated          IncidentState = "escalated"
	StateResolved           IncidentState = "resolved"
)

var incidentTransitions = map[IncidentState][]IncidentState{
	StateDetected:           {StateClassified},
	StateClassified:         {StateContainmentDecided},
	StateContainmentDecided: {StateContained, StateEscalated},
	StateContained:          {StateResolved},
	StateEscalated:          {StateResolved},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to IncidentState) bool {
	for _, next := range incidentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Outcome values recorded on a finalized record.
const (
	OutcomeContained = "contained"
	OutcomeEscalated = "escalated"
)

// PropagationEdge is one hop of a cascade.
type PropagationEdge struct {
	From SystemLayer `json:"from"`
	To   SystemLayer `json:"to"`
}

// CascadePreventionRecord is the append-only audit entry for one incident.
type CascadePreventionRecord struct {
	PropagationID       string              `json:"propagationId"`
	IncidentID          string              `json:"incidentId,omitempty"`
	SourceSystem        SystemLayer         `json:"sourceSystem"`
	TargetSystems       []SystemLayer       `json:"targetSystems"`
	PropagationPath     []PropagationEdge   `json:"propagationPath"`
	BusinessImpact      BusinessImpact      `json:"businessImpact"`
	ContainmentStrategy ContainmentStrategy `json:"containmentStrategy"`
	PreventedCascades   []string            `json:"preventedCascades"`
	Outcome             string              `json:"outcome"`
	FailSafe            bool                `json:"failSafe"`
	States              []IncidentState     `json:"states"`
	Timestamp           time.Time           `json:"timestamp"`
	Metadata            map[string]string   `json:"metadata,omitempty"`
}

// Clone deep-copies the record so callers can never mutate the audit trail.
func (r CascadePreventionRecord) Clone() CascadePreventionRecord {
	out := r
	out.TargetSystems = append([]SystemLayer(nil), r.TargetSystems...)
	out.PropagationPath = append([]PropagationEdge(nil), r.PropagationPath...)
	out.PreventedCascades = append([]string(nil), r.PreventedCascades...)
	out.States = append([]IncidentState(nil), r.States...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ContainmentDirective is emitted to external actuators; the core only decides.
type ContainmentDirective struct {
	PropagationID string              `json:"propagationId"`
	Strategy      ContainmentStrategy `json:"strategy"`
	TargetSystems []SystemLayer       `json:"targetSystems"`
	IssuedAt      time.Time           `json:"issuedAt"`
}

// Authorization is the opaque assertion a collaborator produced after checking credentials.
type Authorization struct {
	Asserted  bool   `json:"asserted"`
	Token     string `json:"token,omitempty"`
	Authority string `json:"authority,omitempty"`
}

// TriggerRequest asks the orchestrator to evaluate a triggering signal.
type TriggerRequest struct {
	IncidentID         string            `json:"incidentId,omitempty"`
	Event              *ErrorEvent       `json:"event,omitempty"`
	Transition         *HealthTransition `json:"transition,omitempty"`
	MaxImpactThreshold BusinessImpact    `json:"maxImpactThreshold"`
	ErrorRate          float64           `json:"errorRate,omitempty"`
	// CurrentLoad is the caller's utilisation estimate in [0,1]; negative means unknown.
	CurrentLoad   float64       `json:"currentLoad"`
	Authorization Authorization `json:"authorization"`
}

// TriggerOutcome reports what the orchestrator decided for a trigger.
type TriggerOutcome struct {
	Detected   bool                     `json:"detected"`
	Record     *CascadePreventionRecord `json:"record,omitempty"`
	Directive  *ContainmentDirective    `json:"directive,omitempty"`
	Escalated  bool                     `json:"escalated"`
	Continuity *ContinuityExecution     `json:"continuity,omitempty"`
	// Warnings lists side effects that failed after the record was stored.
	Warnings []string `json:"warnings,omitempty"`
}

// EmergencyRequest asks for execution of emergency continuity playbooks.
type EmergencyRequest struct {
	PropagationID string         `json:"propagationId,omitempty"`
	Layers        []SystemLayer  `json:"layers"`
	Impact        BusinessImpact `json:"impact"`
	Reason        string         `json:"reason,omitempty"`
	Authorization Authorization  `json:"authorization"`
}

// ContinuityStep is a single queued playbook action.
type ContinuityStep struct {
	JobID    string      `json:"jobId"`
	Playbook string      `json:"playbook"`
	Action   string      `json:"action"`
	Target   SystemLayer `json:"target,omitempty"`
}

// ContinuityExecution summarises an emergency continuity run.
type ContinuityExecution struct {
	ExecutionID string           `json:"executionId"`
	Playbooks   []string         `json:"playbooks"`
	Steps       []ContinuityStep `json:"steps"`
	StartedAt   time.Time        `json:"startedAt"`
}

// ContinuityJob is one playbook action handed to the job queue.
type ContinuityJob struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"executionId"`
	Playbook    string         `json:"playbook"`
	Action      string         `json:"action"`
	Target      SystemLayer    `json:"target,omitempty"`
	Impact      BusinessImpact `json:"impact"`
	Reason      string         `json:"reason,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueuedAt"`
}

// QueueStats reports job queue throughput.
type QueueStats struct {
	Queued    int64 `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}
