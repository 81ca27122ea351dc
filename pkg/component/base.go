package component

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Base carries the name, lifetime context and goroutine accounting shared
// by components. A Base starts at most once.
type Base struct {
	name   string
	Ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
	stopped atomic.Bool
}

func NewBase(name string) *Base {
	return &Base{name: name, Ctx: context.Background()}
}

func (b *Base) Name() string {
	return b.name
}

// StartContext derives the component context from parentCtx. It fails when
// the component was started before.
func (b *Base) StartContext(parentCtx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: already started", b.name)
	}
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	b.Ctx, b.cancel = context.WithCancel(parentCtx)
	return nil
}

func (b *Base) Started() bool {
	return b.started.Load()
}

// Stopped reports whether StopContext has been called.
func (b *Base) Stopped() bool {
	return b.stopped.Load()
}

// StopContext cancels the component context and waits for its goroutines.
func (b *Base) StopContext() {
	b.stopped.Store(true)
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// Wait blocks until every goroutine started with Go has returned, without
// cancelling the context.
func (b *Base) Wait() {
	b.wg.Wait()
}

func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}
