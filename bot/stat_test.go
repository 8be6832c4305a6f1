package bot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_AcquireBoundsActive(t *testing.T) {
	stats := &Stats{}

	assert.True(t, stats.Acquire(2))
	assert.True(t, stats.Acquire(2))
	assert.False(t, stats.Acquire(2))

	stats.Release()
	assert.True(t, stats.Acquire(2))
	assert.Equal(t, int32(2), stats.Active())
}

func TestStats_AcquireRace(t *testing.T) {
	stats := &Stats{}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if stats.Acquire(4) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, admitted)
	assert.Equal(t, int32(4), stats.Active())
}

func TestStats_Doc(t *testing.T) {
	stats := &Stats{}

	stats.Launched()
	stats.Launched()
	stats.Succeeded()
	stats.Failed()

	doc := stats.Doc()
	assert.Equal(t, uint64(2), doc.Total)
	assert.Equal(t, uint64(1), doc.Success)
	assert.Equal(t, uint64(1), doc.Failure)
	assert.False(t, doc.At.IsZero())
}
