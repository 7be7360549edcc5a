package store

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestExpiryCache_NeedsExtend(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*ExpiryCache)
		bucket   string
		required int64
		want     bool
	}{
		{
			name:     "empty cache",
			bucket:   "b",
			required: 100,
			want:     true,
		},
		{
			name:     "same target",
			setup:    func(c *ExpiryCache) { c.Remember("b", 100) },
			bucket:   "b",
			required: 100,
			want:     false,
		},
		{
			name:     "smaller target",
			setup:    func(c *ExpiryCache) { c.Remember("b", 100) },
			bucket:   "b",
			required: 99,
			want:     false,
		},
		{
			name:     "larger target",
			setup:    func(c *ExpiryCache) { c.Remember("b", 100) },
			bucket:   "b",
			required: 101,
			want:     true,
		},
		{
			name:     "other bucket",
			setup:    func(c *ExpiryCache) { c.Remember("a", 100) },
			bucket:   "b",
			required: 1,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewExpiryCache(newFakeClock(time.Unix(0, 0)), time.Minute)
			if tt.setup != nil {
				tt.setup(c)
			}
			if got := c.NeedsExtend(tt.bucket, tt.required); got != tt.want {
				t.Errorf("NeedsExtend(%q, %d) = %v, want %v", tt.bucket, tt.required, got, tt.want)
			}
		})
	}
}

func TestExpiryCache_RememberKeepsLatest(t *testing.T) {
	c := NewExpiryCache(nil, 0)

	c.Remember("b", 200)
	c.Remember("b", 100)

	if c.NeedsExtend("b", 200) {
		t.Error("expected cached expiry of 200 to survive an earlier Remember")
	}
	if !c.NeedsExtend("b", 201) {
		t.Error("expected target beyond cached expiry to need an extension")
	}

	c.Remember("b", 300)
	if c.NeedsExtend("b", 300) {
		t.Error("expected cached expiry to move to 300")
	}
}

func TestExpiryCache_Forget(t *testing.T) {
	c := NewExpiryCache(nil, 0)
	c.Remember("b", 100)
	c.Forget("b")

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if !c.NeedsExtend("b", 1) {
		t.Error("expected forgotten bucket to need an extension")
	}
}

func TestExpiryCache_Sweep(t *testing.T) {
	start := time.Unix(1771380000, 0)
	clock := newFakeClock(start)
	c := NewExpiryCache(clock, time.Minute)

	c.Remember("past", start.Unix()+30)
	c.Remember("edge", start.Unix()+60)
	c.Remember("future", start.Unix()+3600)

	clock.Advance(59 * time.Second)
	if removed := c.Sweep(); removed != 0 {
		t.Fatalf("Sweep() before interval removed %d entries, want 0", removed)
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}

	clock.Advance(time.Second)
	if removed := c.Sweep(); removed != 2 {
		t.Fatalf("Sweep() removed %d entries, want 2", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	if c.NeedsExtend("future", start.Unix()+3600) {
		t.Error("expected future entry to survive the sweep")
	}

	c.Remember("late", start.Unix()+61)
	clock.Advance(30 * time.Second)
	if removed := c.Sweep(); removed != 0 {
		t.Errorf("Sweep() within interval of previous sweep removed %d entries, want 0", removed)
	}
}

func TestExpiryCache_DefaultsApplied(t *testing.T) {
	c := NewExpiryCache(nil, -time.Second)
	if c.clock == nil {
		t.Error("expected default clock")
	}
	if c.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", c.interval, DefaultSweepInterval)
	}
}

func TestExpiryCache_Concurrent(t *testing.T) {
	clock := newFakeClock(time.Unix(1771380000, 0))
	c := NewExpiryCache(clock, time.Second)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range 200 {
				bucket := fmt.Sprintf("b%d", j%5)
				target := int64(1771380000 + id*1000 + j)
				if c.NeedsExtend(bucket, target) {
					c.Remember(bucket, target)
				}
				if j%50 == 0 {
					clock.Advance(time.Second)
					c.Sweep()
				}
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}
	if c.NeedsExtend("b0", 1771380000+19*1000+195) {
		t.Error("expected the largest remembered target to win")
	}
}
