package core

import (
	"sync"
	"testing"
)

func TestNewClock(t *testing.T) {
	c := NewClock()
	if c.Now() != 0 {
		t.Errorf("expected new clock to be at 0, got %d", c.Now())
	}
}

func TestTick(t *testing.T) {
	c := NewClockWithTime(4)

	if got := c.Tick(); got != 5 {
		t.Errorf("expected first tick to be 5, got %d", got)
	}
	if got := c.Tick(); got != 6 {
		t.Errorf("expected second tick to be 6, got %d", got)
	}
}

func TestObserve(t *testing.T) {
	tests := []struct {
		name       string
		localTime  uint64
		remoteTime uint64
		nextTick   uint64
	}{
		{name: "remote is higher", localTime: 5, remoteTime: 10, nextTick: 11},
		{name: "local is higher", localTime: 15, remoteTime: 10, nextTick: 16},
		{name: "equal times", localTime: 7, remoteTime: 7, nextTick: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClockWithTime(tt.localTime)
			c.Observe(tt.remoteTime)
			if got := c.Tick(); got != tt.nextTick {
				t.Errorf("expected next tick %d, got %d", tt.nextTick, got)
			}
		})
	}
}

func TestClockConcurrentTicksAreUnique(t *testing.T) {
	c := NewClock()
	const workers, perWorker = 8, 200

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				v := c.Tick()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("expected %d unique ticks, got %d", workers*perWorker, len(seen))
	}
}
