package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Orchestrator starts components in registration order and stops them in
// reverse.
type Orchestrator struct {
	components []Component
	started    int
	mu         sync.Mutex
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		components: make([]Component, 0),
	}
}

func (o *Orchestrator) Register(comp Component) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.components = append(o.components, comp)
}

// Start stops whatever it already started when a component fails.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, comp := range o.components[o.started:] {
		if err := comp.Start(ctx); err != nil {
			startErr := fmt.Errorf("failed to start %s: %w", comp.Name(), err)
			return errors.Join(startErr, o.stopLocked(ctx))
		}
		o.started++
	}
	return nil
}

func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopLocked(ctx)
}

func (o *Orchestrator) stopLocked(ctx context.Context) error {
	var errs []error
	for i := o.started - 1; i >= 0; i-- {
		comp := o.components[i]
		if err := comp.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", comp.Name(), err))
		}
	}
	o.started = 0
	return errors.Join(errs...)
}
