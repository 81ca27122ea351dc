package gidcache

import (
	"sync"
	"sync/atomic"

	"github.com/veesix-networks/gidd/pkg/gid"
)

// WriteStage identifies the points of a slot rewrite at which a WriteHook
// is invoked.
type WriteStage int

const (
	// StageInflight: the slot is marked in flight, nothing copied yet.
	StageInflight WriteStage = iota
	// StageProgrammed: the device callback returned.
	StageProgrammed
	// StageCopied: new contents stored, version not yet published.
	StageCopied
	// StagePublished: the new version is visible.
	StagePublished
)

type WriteHook func(stage WriteStage, port, index int)

// Entry is a consistent copy of one table slot.
type Entry struct {
	Index   int
	Version uint32
	ID      gid.Identifier
	Attrs   gid.Attributes
}

// Table is the GID table of one port. Slot mutation requires mu; lookups
// are lock-free.
type Table struct {
	port     int
	slots    []slot
	contexts []any

	mu     sync.Mutex
	active atomic.Bool

	writes   atomic.Uint64
	failures atomic.Uint64
}

func newTable(port, size int) *Table {
	return &Table{
		port:     port,
		slots:    make([]slot, size),
		contexts: make([]any, size),
	}
}

func (t *Table) Size() int {
	return len(t.slots)
}

func (t *Table) Active() bool {
	return t.active.Load()
}

// lockActive takes the write lock and fails with ErrNotReady when the table
// was deactivated while the caller waited for it.
func (t *Table) lockActive() error {
	t.mu.Lock()
	if !t.Active() {
		t.mu.Unlock()
		return ErrNotReady
	}
	return nil
}

// find returns the lowest index whose settled contents match id and val
// under mask, or -1. A slot rewritten while it is being compared is
// skipped.
func (t *Table) find(rcu *Reclaimer, id gid.Identifier, val gid.Attributes, mask gid.Mask) int {
	rl := rcu.ReadLock()
	defer rcu.ReadUnlock(rl)

	for i := range t.slots {
		s := &t.slots[i]

		version := s.version.Load()
		if version == inflight {
			continue
		}
		if mask.Has(gid.MaskKind) && gid.Kind(s.kind.Load()) != val.Kind {
			continue
		}
		if s.loadID() != id {
			continue
		}
		if mask.Has(gid.MaskIface) && s.iface.Load() != val.Iface {
			continue
		}
		if s.version.Load() == version {
			return i
		}
	}
	return -1
}

func (t *Table) read(rcu *Reclaimer, index int) (Entry, bool) {
	rl := rcu.ReadLock()
	defer rcu.ReadUnlock(rl)

	id, attrs, version, ok := t.slots[index].read()
	return Entry{Index: index, Version: version, ID: id, Attrs: attrs}, ok
}
