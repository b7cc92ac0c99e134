package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_Advances(t *testing.T) {
	c := NewClock()

	first := c.Now()
	second := c.Now()

	assert.Equal(t, Epoch, first)
	assert.Equal(t, Epoch.Add(time.Second), second)
	assert.Equal(t, Epoch.Add(2*time.Second), c.Peek())
}

func TestClock_Advance(t *testing.T) {
	c := NewClockAt(Epoch, 0)
	c.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), c.Now())
	assert.Equal(t, Epoch.Add(time.Hour), c.Now(), "zero step never moves")
}

func TestClock_Concurrent(t *testing.T) {
	c := NewClockAt(Epoch, time.Millisecond)

	var wg sync.WaitGroup
	seen := make(chan time.Time, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		unique[ts] = true
	}
	assert.Len(t, unique, 100)
}
