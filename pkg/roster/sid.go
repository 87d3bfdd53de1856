package roster

import "sync"

// maxSID is the largest id the server accepts for list items
const maxSID = 0x7fff

// SIDGenerator hands out server item ids. Ids only grow; after maxSID the
// generator restarts at 1 and skips ids still in use.
type SIDGenerator struct {
	mu   sync.Mutex
	last uint16
	used map[uint16]bool
}

func NewSIDGenerator() *SIDGenerator {
	return &SIDGenerator{used: make(map[uint16]bool)}
}

// Observe records an id seen on the server so it is never reissued
func (g *SIDGenerator) Observe(ids ...uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		if id == 0 {
			continue
		}
		g.used[id] = true
		if id > g.last && id <= maxSID {
			g.last = id
		}
	}
}

// Release forgets an id removed from the server
func (g *SIDGenerator) Release(id uint16) {
	g.mu.Lock()
	delete(g.used, id)
	g.mu.Unlock()
}

// Next returns a fresh id, or 0 when all ids are taken
func (g *SIDGenerator) Next() uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < maxSID; i++ {
		g.last++
		if g.last > maxSID {
			g.last = 1
		}
		if !g.used[g.last] {
			g.used[g.last] = true
			return g.last
		}
	}
	return 0
}
