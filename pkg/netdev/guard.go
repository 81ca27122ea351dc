package netdev

import "sync"

// Guard serializes operations that must observe a stable interface
// topology against hot-plug changes applied to the Registry.
type Guard struct {
	mu sync.Mutex
}

func (g *Guard) Lock() {
	g.mu.Lock()
}

func (g *Guard) Unlock() {
	g.mu.Unlock()
}

func (g *Guard) Do(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}
