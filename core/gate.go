package core

import "sync"

// Gate serializes the node's mutually exclusive operations: a backup
// round and a restore must never overlap, and rounds never overlap each
// other. The holder's name is reported to whoever is turned away.
type Gate struct {
	mu     sync.Mutex
	holder string
}

// TryAcquire claims the gate for the named operation. The returned
// release function is idempotent. ok is false when another operation
// holds the gate; holder names it.
func (g *Gate) TryAcquire(name string) (release func(), holder string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != "" {
		return nil, g.holder, false
	}
	g.holder = name
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.holder = ""
			g.mu.Unlock()
		})
	}, "", true
}

// Holder reports the current owner, empty when free.
func (g *Gate) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}
