package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// Actuator publishes containment directives as JSON for external executors.
type Actuator struct {
	bus     EventBus
	subject string
}

// NewActuator constructs an Actuator publishing on subject.
func NewActuator(bus EventBus, subject string) *Actuator {
	return &Actuator{bus: bus, subject: subject}
}

// Dispatch publishes directive.
func (a *Actuator) Dispatch(ctx context.Context, directive models.ContainmentDirective) error {
	data, err := json.Marshal(directive)
	if err != nil {
		return fmt.Errorf("marshal directive: %w", err)
	}
	return a.bus.Publish(ctx, a.subject, data)
}
