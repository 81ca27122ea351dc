package gidcache

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Reclaimer defers releases until every reader that could still observe
// the released value has left its read-side section. Readers bracket slot
// access with ReadLock/ReadUnlock, which never block.
//
// A Reclaimer built with a zero queue size has no background worker and
// runs every deferred release inline after a full Synchronize.
type Reclaimer struct {
	epoch   atomic.Uint64
	readers [2]atomic.Int64
	syncMu  sync.Mutex

	mu     sync.RWMutex
	closed bool
	queue  chan func()
	wg     sync.WaitGroup

	deferred  atomic.Uint64
	fallbacks atomic.Uint64
	reclaimed atomic.Uint64
}

type ReclaimStats struct {
	Deferred  uint64 `yaml:"deferred"`
	Fallbacks uint64 `yaml:"fallbacks"`
	Reclaimed uint64 `yaml:"reclaimed"`
	Pending   int    `yaml:"pending"`
}

func NewReclaimer(queueSize int) *Reclaimer {
	r := &Reclaimer{}
	if queueSize > 0 {
		r.queue = make(chan func(), queueSize)
		r.wg.Add(1)
		go r.run()
	}
	return r
}

func (r *Reclaimer) ReadLock() int {
	idx := int(r.epoch.Load() & 1)
	r.readers[idx].Add(1)
	return idx
}

func (r *Reclaimer) ReadUnlock(idx int) {
	r.readers[idx].Add(-1)
}

// Synchronize returns once every read-side section that started before the
// call has ended. It must not be called from inside a read-side section.
func (r *Reclaimer) Synchronize() {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	// Readers that sampled the epoch before the previous flip may have
	// registered on the idle side after that flip was waited out.
	cur := r.epoch.Load()
	r.wait(int((cur + 1) & 1))
	r.epoch.Add(1)
	r.wait(int(cur & 1))
}

func (r *Reclaimer) wait(idx int) {
	for spins := 0; r.readers[idx].Load() != 0; spins++ {
		if spins < 64 {
			runtime.Gosched()
		} else {
			time.Sleep(10 * time.Microsecond)
		}
	}
}

// Defer schedules fn to run after a grace period. When the queue is full or
// the Reclaimer is closed it falls back to an inline Synchronize.
func (r *Reclaimer) Defer(fn func()) {
	r.deferred.Add(1)

	r.mu.RLock()
	if !r.closed && r.queue != nil {
		select {
		case r.queue <- fn:
			r.mu.RUnlock()
			return
		default:
		}
	}
	r.mu.RUnlock()

	r.fallbacks.Add(1)
	r.Synchronize()
	fn()
	r.reclaimed.Add(1)
}

// Barrier waits for every callback deferred before the call to complete.
func (r *Reclaimer) Barrier() {
	r.mu.RLock()
	if r.closed || r.queue == nil {
		r.mu.RUnlock()
		return
	}
	done := make(chan struct{})
	r.queue <- func() { close(done) }
	r.mu.RUnlock()
	<-done
}

func (r *Reclaimer) run() {
	defer r.wg.Done()

	for fn := range r.queue {
		batch := []func(){fn}
	drain:
		for {
			select {
			case next, ok := <-r.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		r.Synchronize()
		for _, f := range batch {
			f()
		}
		r.reclaimed.Add(uint64(len(batch)))
	}
}

// Close runs every pending callback and stops the background worker.
func (r *Reclaimer) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.queue != nil {
		close(r.queue)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Reclaimer) Stats() ReclaimStats {
	return ReclaimStats{
		Deferred:  r.deferred.Load(),
		Fallbacks: r.fallbacks.Load(),
		Reclaimed: r.reclaimed.Load(),
		Pending:   len(r.queue),
	}
}
