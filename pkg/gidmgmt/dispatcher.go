package gidmgmt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/veesix-networks/gidd/pkg/component"
	"github.com/veesix-networks/gidd/pkg/logger"
)

const DefaultQueueSize = 1024

var (
	ErrQueueFull = errors.New("dispatcher queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Work is one queued unit. Release is called exactly once, after Run or
// instead of it when the item is dropped.
type Work interface {
	Run()
	Release()
	String() string
}

type DispatcherStats struct {
	QueueLen  int    `json:"queue-length" yaml:"queue-length"`
	QueueCap  int    `json:"queue-capacity" yaml:"queue-capacity"`
	Enqueued  uint64 `json:"enqueued" yaml:"enqueued"`
	Processed uint64 `json:"processed" yaml:"processed"`
	Dropped   uint64 `json:"dropped" yaml:"dropped"`
}

// Dispatcher executes queued work one item at a time in enqueue order.
// Producers never wait: a full queue drops the item.
type Dispatcher struct {
	*component.Base
	logger *slog.Logger

	queue   chan Work
	mu      sync.RWMutex
	stopped bool

	enqueued  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
}

func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		Base:   component.NewBase("gid-dispatcher"),
		logger: logger.Get(logger.GIDMgmt),
		queue:  make(chan Work, queueSize),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.StartContext(ctx); err != nil {
		return err
	}
	d.Go(d.worker)
	d.logger.Info("GID update dispatcher started", "queue_size", cap(d.queue))
	return nil
}

func (d *Dispatcher) Enqueue(w Work) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		w.Release()
		return ErrStopped
	}

	select {
	case d.queue <- w:
		d.enqueued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		d.logger.Warn("Dispatcher queue full, dropping work", "work", w.String())
		w.Release()
		return ErrQueueFull
	}
}

type barrier struct {
	done chan struct{}
}

func (b barrier) Run()           { close(b.done) }
func (b barrier) Release()       {}
func (b barrier) String() string { return "barrier" }

// Flush waits until every item queued before the call has executed. It
// must not be called from the worker.
func (d *Dispatcher) Flush(ctx context.Context) error {
	b := barrier{done: make(chan struct{})}

	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		return ErrStopped
	}
	select {
	case d.queue <- b:
	case <-ctx.Done():
		d.mu.RUnlock()
		return ctx.Err()
	}
	d.mu.RUnlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	for w := range d.queue {
		d.execute(w)
	}
}

func (d *Dispatcher) execute(w Work) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("GID update work panicked", "work", w.String(), "panic", r)
		}
		w.Release()
		d.processed.Add(1)
	}()

	d.logger.Debug("Running GID update work", "work", w.String())
	w.Run()
}

// Stop refuses new work, runs everything already queued, then returns.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	if !d.Started() {
		for w := range d.queue {
			d.execute(w)
		}
		return nil
	}

	drained := make(chan struct{})
	go func() {
		d.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("drain dispatcher queue: %w", ctx.Err())
	}

	d.StopContext()
	d.logger.Info("GID update dispatcher stopped", "processed", d.processed.Load(), "dropped", d.dropped.Load())
	return nil
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		QueueLen:  len(d.queue),
		QueueCap:  cap(d.queue),
		Enqueued:  d.enqueued.Load(),
		Processed: d.processed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
