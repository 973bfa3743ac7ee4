package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystem_TruncatesToSeconds(t *testing.T) {
	now := System{}.Now()
	assert.Zero(t, now.Nanosecond())
	assert.Equal(t, time.UTC, now.Location())
}

func TestManual_SetAndAdvance(t *testing.T) {
	c := NewManualUnix(1600128000)
	assert.Equal(t, int64(1600128000), c.Now().Unix())

	c.SetUnix(1604534400)
	assert.Equal(t, int64(1604534400), c.Now().Unix())

	got := c.Advance(90 * time.Minute)
	assert.Equal(t, int64(1604534400+5400), got.Unix())
	assert.Equal(t, got, c.Now())
}

func TestManual_DropsSubSecondPrecision(t *testing.T) {
	c := NewManual(time.Unix(100, 999_000_000))
	assert.Equal(t, time.Unix(100, 0).UTC(), c.Now())
}

func TestManual_ConcurrentAccess(t *testing.T) {
	c := NewManualUnix(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = c.Now()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), c.Now().Unix())
}
