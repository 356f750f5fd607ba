// Package seeding maintains the dynamic constant pool harvested from
// instrumented executions and the on-disk seed file carried between
// runs.
package seeding

import (
	"sync"

	"github.com/petrel-dev/petrel/core"
)

// Pool is the append-only, thread-safe constant pool. Values are
// bucketed by primitive type name.
type Pool struct {
	mu      sync.RWMutex
	ints    []int64
	floats  []float64
	strings []string
	seen    map[any]bool
}

// NewPool builds an empty pool.
func NewPool() *Pool {
	return &Pool{seen: make(map[any]bool)}
}

// Add appends harvested primitives; duplicates are dropped.
func (p *Pool) Add(values ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range values {
		switch x := v.(type) {
		case int64:
			if !p.seen[v] {
				p.ints = append(p.ints, x)
				p.seen[v] = true
			}
		case float64:
			if !p.seen[v] {
				p.floats = append(p.floats, x)
				p.seen[v] = true
			}
		case string:
			if !p.seen[v] {
				p.strings = append(p.strings, x)
				p.seen[v] = true
			}
		}
	}
}

// Constant implements testcase.ConstantProvider.
func (p *Pool) Constant(rng *core.Source, typeName string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch typeName {
	case "int":
		if len(p.ints) == 0 {
			return nil, false
		}
		return p.ints[rng.Intn(len(p.ints))], true
	case "float":
		if len(p.floats) > 0 {
			return p.floats[rng.Intn(len(p.floats))], true
		}
		// Harvested ints double as float seeds.
		if len(p.ints) > 0 {
			return float64(p.ints[rng.Intn(len(p.ints))]), true
		}
		return nil, false
	case "str":
		if len(p.strings) == 0 {
			return nil, false
		}
		return p.strings[rng.Intn(len(p.strings))], true
	}
	return nil, false
}

// Size reports the pooled value count per bucket.
func (p *Pool) Size() (ints, floats, strings int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ints), len(p.floats), len(p.strings)
}

// Snapshot returns all pooled values for persistence.
func (p *Pool) Snapshot() (ints []int64, floats []float64, strings []string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ints = append(ints, p.ints...)
	floats = append(floats, p.floats...)
	strings = append(strings, p.strings...)
	return
}
