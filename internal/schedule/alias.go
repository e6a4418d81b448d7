package schedule

import (
	"fmt"
	"sync"
)

// aliasGenerator hands out unique task aliases. The first request for a name
// gets it verbatim; repeats get an incrementing suffix (light, light_2,
// light_3, ...).
type aliasGenerator struct {
	mu     sync.Mutex
	counts map[string]int
}

func (g *aliasGenerator) generate(alias string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counts == nil {
		g.counts = make(map[string]int)
	}
	g.counts[alias]++
	if n := g.counts[alias]; n > 1 {
		return fmt.Sprintf("%s_%d", alias, n)
	}
	return alias
}

func (g *aliasGenerator) reset() {
	g.mu.Lock()
	g.counts = nil
	g.mu.Unlock()
}
