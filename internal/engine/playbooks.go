package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// Playbook action types.
const (
	ActionIsolate  = "isolate"
	ActionThrottle = "throttle"
	ActionFailover = "failover"
	ActionNotify   = "notify"
)

// Playbook is one YAML-defined emergency continuity plan.
type Playbook struct {
	Name      string           `yaml:"name"`
	Enabled   *bool            `yaml:"enabled"`
	Triggers  PlaybookTriggers `yaml:"triggers"`
	MinImpact string           `yaml:"minImpact"`
	Actions   []PlaybookAction `yaml:"actions"`

	minImpact models.BusinessImpact
	layers    map[models.SystemLayer]bool
}

// PlaybookTriggers lists the layers a playbook responds to; empty means any layer.
type PlaybookTriggers struct {
	Layers []string `yaml:"layers"`
}

// PlaybookAction is one ordered step. An empty target applies the action to each affected layer.
type PlaybookAction struct {
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
}

// PlaybookFile is the YAML root structure.
type PlaybookFile struct {
	Playbooks []Playbook `yaml:"playbooks"`
}

// PlaybookSet holds the validated playbooks in file order.
type PlaybookSet struct {
	playbooks []Playbook
	logger    *slog.Logger
}

// LoadPlaybooks reads playbooks from path. A missing file yields an empty set so the
// built-in fallback plan is used.
func LoadPlaybooks(path string, logger *slog.Logger) (*PlaybookSet, error) {
	logger = utils.LoggerOr(logger)
	if path == "" {
		return &PlaybookSet{logger: logger}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("playbook file not found, using fallback plan", slog.String("path", path))
			return &PlaybookSet{logger: logger}, nil
		}
		return nil, fmt.Errorf("read playbooks: %w", err)
	}
	return ParsePlaybooks(data, logger)
}

// ParsePlaybooks validates a YAML document of playbooks.
func ParsePlaybooks(data []byte, logger *slog.Logger) (*PlaybookSet, error) {
	const op = "engine.ParsePlaybooks"
	var file PlaybookFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, utils.NewConfigurationError(op, fmt.Sprintf("parse playbooks: %v", err))
	}

	set := &PlaybookSet{logger: utils.LoggerOr(logger)}
	for i, pb := range file.Playbooks {
		if strings.TrimSpace(pb.Name) == "" {
			return nil, utils.NewConfigurationError(op, fmt.Sprintf("playbook %d has no name", i))
		}
		impact, err := models.ParseBusinessImpact(pb.MinImpact)
		if err != nil {
			return nil, utils.NewConfigurationError(op, fmt.Sprintf("playbook %s: %v", pb.Name, err))
		}
		if impact == models.ImpactUnknown {
			impact = models.ImpactLow
		}
		pb.minImpact = impact
		pb.layers = make(map[models.SystemLayer]bool, len(pb.Triggers.Layers))
		for _, raw := range pb.Triggers.Layers {
			layer, err := models.ParseSystemLayer(raw)
			if err != nil {
				return nil, utils.NewConfigurationError(op, fmt.Sprintf("playbook %s: %v", pb.Name, err))
			}
			pb.layers[layer] = true
		}
		if len(pb.Actions) == 0 {
			return nil, utils.NewConfigurationError(op, fmt.Sprintf("playbook %s has no actions", pb.Name))
		}
		for j, action := range pb.Actions {
			switch strings.ToLower(action.Type) {
			case ActionIsolate, ActionThrottle, ActionFailover, ActionNotify:
				pb.Actions[j].Type = strings.ToLower(action.Type)
			default:
				return nil, utils.NewConfigurationError(op, fmt.Sprintf("playbook %s: unknown action %q", pb.Name, action.Type))
			}
			if action.Target != "" {
				if _, err := models.ParseSystemLayer(action.Target); err != nil {
					return nil, utils.NewConfigurationError(op, fmt.Sprintf("playbook %s: %v", pb.Name, err))
				}
			}
		}
		set.playbooks = append(set.playbooks, pb)
	}
	return set, nil
}

// IsEnabled reports whether the playbook may run; playbooks default to enabled.
func (p Playbook) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Matches reports whether the playbook applies to the layers at the given impact.
func (p Playbook) Matches(layers []models.SystemLayer, impact models.BusinessImpact) bool {
	if !p.IsEnabled() || impact < p.minImpact {
		return false
	}
	if len(p.layers) == 0 {
		return true
	}
	for _, layer := range layers {
		if p.layers[layer] {
			return true
		}
	}
	return false
}

// Len reports the number of loaded playbooks.
func (s *PlaybookSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.playbooks)
}

// Select returns matching playbooks, or the fallback plan when none match.
func (s *PlaybookSet) Select(layers []models.SystemLayer, impact models.BusinessImpact) []Playbook {
	var matched []Playbook
	if s != nil {
		for _, pb := range s.playbooks {
			if pb.Matches(layers, impact) {
				matched = append(matched, pb)
			}
		}
	}
	if len(matched) == 0 {
		if s != nil {
			s.logger.Warn("no playbook matched, using fallback plan", slog.String("impact", impact.String()))
		}
		return []Playbook{fallbackPlaybook(impact)}
	}
	return matched
}

// fallbackPlaybook applies the most conservative action allowed for the impact, then notifies.
func fallbackPlaybook(impact models.BusinessImpact) Playbook {
	return Playbook{
		Name: "fallback-continuity",
		Actions: []PlaybookAction{
			{Type: string(failSafeStrategy(impact))},
			{Type: ActionNotify},
		},
		minImpact: models.ImpactLow,
	}
}

// expand turns the playbook actions into concrete steps for the affected layers.
func (p Playbook) expand(layers []models.SystemLayer) []models.ContinuityStep {
	var steps []models.ContinuityStep
	for _, action := range p.Actions {
		if action.Type == ActionNotify && action.Target == "" {
			steps = append(steps, models.ContinuityStep{Playbook: p.Name, Action: action.Type})
			continue
		}
		if action.Target != "" {
			target, _ := models.ParseSystemLayer(action.Target)
			steps = append(steps, models.ContinuityStep{Playbook: p.Name, Action: action.Type, Target: target})
			continue
		}
		for _, layer := range layers {
			steps = append(steps, models.ContinuityStep{Playbook: p.Name, Action: action.Type, Target: layer})
		}
	}
	return steps
}
