package seeding

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/core"
)

func TestPoolAddAndDraw(t *testing.T) {
	pool := NewPool()
	pool.Add(int64(10), "hello", 2.5, int64(10)) // duplicate dropped

	ints, floats, strs := pool.Size()
	assert.Equal(t, 1, ints)
	assert.Equal(t, 1, floats)
	assert.Equal(t, 1, strs)

	rng := core.NewSource(seedPtr(1))
	v, ok := pool.Constant(rng, "int")
	require.True(t, ok)
	assert.Equal(t, int64(10), v)

	v, ok = pool.Constant(rng, "str")
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	_, ok = pool.Constant(rng, "bool")
	assert.False(t, ok)
}

func TestPoolIntsDoubleAsFloatSeeds(t *testing.T) {
	pool := NewPool()
	pool.Add(int64(7))
	rng := core.NewSource(seedPtr(2))
	v, ok := pool.Constant(rng, "float")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestPoolConcurrentAppend(t *testing.T) {
	pool := NewPool()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for j := int64(0); j < 100; j++ {
				pool.Add(base*1000 + j)
			}
		}(int64(i))
	}
	wg.Wait()
	ints, _, _ := pool.Size()
	assert.Equal(t, 800, ints)
}

func TestSeedFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.csv")
	pool := NewPool()
	pool.Add(int64(42), "door", 1.5)
	require.NoError(t, AppendSeedFile(path, pool))

	loaded := NewPool()
	require.NoError(t, LoadSeedFile(path, loaded))
	ints, floats, strs := loaded.Size()
	assert.Equal(t, 1, ints)
	assert.Equal(t, 1, floats)
	assert.Equal(t, 1, strs)

	rng := core.NewSource(seedPtr(3))
	v, _ := loaded.Constant(rng, "str")
	assert.Equal(t, "door", v)
}

func TestLoadSeedFileMissingIsFine(t *testing.T) {
	pool := NewPool()
	assert.NoError(t, LoadSeedFile(filepath.Join(t.TempDir(), "absent.csv"), pool))
}

func seedPtr(v int64) *int64 { return &v }
