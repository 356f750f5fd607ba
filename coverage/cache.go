package coverage

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/petrel-dev/petrel/trace"
)

// Evaluation is a memoized fitness/coverage result for one chromosome
// shape.
type Evaluation struct {
	Fitness map[string]float64
	Trace   *trace.Trace
}

// Cache memoizes the most recent evaluation per structural test-case
// key. Structural mutation changes the key, which invalidates the
// entry implicitly; the LRU bound keeps memory flat across long runs.
type Cache struct {
	lru  *lru.Cache[string, *Evaluation]
	hits int64
	miss int64
}

// NewCache builds the computation cache.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = 4096
	}
	inner, err := lru.New[string, *Evaluation](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner}, nil
}

// Get returns the memoized evaluation for a structural key.
func (c *Cache) Get(key string) (*Evaluation, bool) {
	ev, ok := c.lru.Get(key)
	if ok {
		c.hits++
	} else {
		c.miss++
	}
	return ev, ok
}

// Put stores an evaluation under the structural key.
func (c *Cache) Put(key string, ev *Evaluation) {
	c.lru.Add(key, ev)
}

// Stats reports hit/miss counters for verbose logging.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits, c.miss
}
