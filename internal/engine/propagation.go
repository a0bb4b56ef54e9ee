package engine

import (
	"fmt"
	"sort"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// DefaultDependents is the built-in layer dependency graph: layer -> layers that depend on it.
func DefaultDependents() map[models.SystemLayer][]models.SystemLayer {
	return map[models.SystemLayer][]models.SystemLayer{
		models.LayerInfrastructure:   {models.LayerDataAccess, models.LayerExternalServices},
		models.LayerDataAccess:       {models.LayerBusinessLogic},
		models.LayerExternalServices: {models.LayerBusinessLogic},
		models.LayerBusinessLogic:    {models.LayerAPI},
		models.LayerSecurity:         {models.LayerAPI},
	}
}

// Reach is one layer reachable from a failure source.
type Reach struct {
	Layer models.SystemLayer
	Depth int
	// Path is the edge chain from the source to Layer.
	Path []models.PropagationEdge
}

// PropagationGraph answers which layers a failure can cascade into.
type PropagationGraph struct {
	dependents map[models.SystemLayer][]models.SystemLayer
}

// NewPropagationGraph parses a configured dependents map; an empty map uses the default graph.
func NewPropagationGraph(raw map[string][]string) (*PropagationGraph, error) {
	if len(raw) == 0 {
		return &PropagationGraph{dependents: DefaultDependents()}, nil
	}
	deps := make(map[models.SystemLayer][]models.SystemLayer, len(raw))
	for from, tos := range raw {
		src, err := models.ParseSystemLayer(from)
		if err != nil {
			return nil, utils.NewConfigurationError("engine.NewPropagationGraph", err.Error())
		}
		for _, to := range tos {
			dst, err := models.ParseSystemLayer(to)
			if err != nil {
				return nil, utils.NewConfigurationError("engine.NewPropagationGraph", err.Error())
			}
			if dst == src {
				return nil, utils.NewConfigurationError("engine.NewPropagationGraph", fmt.Sprintf("layer %s cannot depend on itself", src))
			}
			deps[src] = append(deps[src], dst)
		}
	}
	return &PropagationGraph{dependents: deps}, nil
}

// Dependents returns the direct dependents of layer.
func (g *PropagationGraph) Dependents(layer models.SystemLayer) []models.SystemLayer {
	return append([]models.SystemLayer(nil), g.dependents[layer]...)
}

// Reachable walks the graph breadth-first from source up to maxDepth hops.
// Each layer appears once, at its shallowest depth, in a deterministic order.
func (g *PropagationGraph) Reachable(source models.SystemLayer, maxDepth int) []Reach {
	if maxDepth <= 0 {
		return nil
	}
	visited := map[models.SystemLayer]bool{source: true}
	frontier := []Reach{{Layer: source}}
	var out []Reach

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []Reach
		for _, node := range frontier {
			children := g.Dependents(node.Layer)
			sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
			for _, child := range children {
				if visited[child] {
					continue
				}
				visited[child] = true
				path := append(append([]models.PropagationEdge(nil), node.Path...), models.PropagationEdge{From: node.Layer, To: child})
				reach := Reach{Layer: child, Depth: depth, Path: path}
				out = append(out, reach)
				next = append(next, reach)
			}
		}
		frontier = next
	}
	return out
}

// mergePaths flattens the edge chains of the given reaches without duplicates, keeping order.
func mergePaths(reaches []Reach) []models.PropagationEdge {
	seen := make(map[models.PropagationEdge]bool)
	var edges []models.PropagationEdge
	for _, r := range reaches {
		for _, edge := range r.Path {
			if seen[edge] {
				continue
			}
			seen[edge] = true
			edges = append(edges, edge)
		}
	}
	return edges
}
