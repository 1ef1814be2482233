package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock { return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)} }

func TestTTL_ExpiresLazily(t *testing.T) {
	clk := newClock()
	c := NewTTL("t", time.Minute, WithClock(clk.Now))

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	clk.Advance(59 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("entry expired too early")
	}
	clk.Advance(time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("entry should be expired at ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted on access")
	}
}

func TestTTL_EvictsOldestInsertion(t *testing.T) {
	c := NewTTL("t", time.Hour, WithMaxEntries(2))
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 3) // re-insert moves a behind b
	c.Set("c", 4)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("oldest insertion b should be evicted")
	}
	if v, ok := c.Get("a"); !ok || v.(int) != 3 {
		t.Fatalf("a missing: %v %v", v, ok)
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("c missing")
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d", c.Len())
	}
}

func TestTTL_GetOrLoadCollapsesConcurrentLoads(t *testing.T) {
	c := NewTTL("t", time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			v, err := Load(context.Background(), c, "k", func(context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "v", nil
			})
			if err != nil || v != "v" {
				t.Errorf("load: %v %v", v, err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("loader ran %d times", n)
	}
}

func TestTTL_LoadErrorsAreNotCached(t *testing.T) {
	c := NewTTL("t", time.Minute)
	boom := errors.New("boom")
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 7, nil
	}

	if _, err := Load(context.Background(), c, "k", load); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, err := Load(context.Background(), c, "k", load)
	if err != nil || v != 7 {
		t.Fatalf("second load: %v %v", v, err)
	}
}

func TestLayer_Cooldown(t *testing.T) {
	clk := newClock()
	l := NewLayer(LayerConfig{CooldownTTL: 24 * time.Hour}, WithClock(clk.Now))

	if l.InCooldown(5) {
		t.Fatalf("fresh chat should not be in cooldown")
	}
	l.StartCooldown(5)
	clk.Advance(23 * time.Hour)
	if !l.InCooldown(5) {
		t.Fatalf("cooldown ended early")
	}
	if l.InCooldown(6) {
		t.Fatalf("cooldown leaked to another chat")
	}
	clk.Advance(time.Hour)
	if l.InCooldown(5) {
		t.Fatalf("cooldown should expire after ttl")
	}
}

func TestLayer_SnapshotsSurviveLongTierEviction(t *testing.T) {
	l := NewLayer(LayerConfig{MaxEntries: 2, SnapshotMaxEntries: 3})

	l.Snapshots.Set("city:1:3", "snapshot")
	for _, k := range []string{"editors:1", "editors:2", "editors:3"} {
		l.Long.Set(k, []string{"Редактор"})
	}
	if l.Long.Len() != 2 {
		t.Fatalf("long tier len = %d, want 2", l.Long.Len())
	}
	if _, ok := l.Snapshots.Get("city:1:3"); !ok {
		t.Fatalf("snapshot evicted by long tier traffic")
	}

	for _, k := range []string{"city:1:4", "city:1:5", "city:1:6"} {
		l.Snapshots.Set(k, "snapshot")
	}
	if l.Snapshots.Len() != 3 {
		t.Fatalf("snapshot tier len = %d, want 3", l.Snapshots.Len())
	}
}

func TestLayer_ClearCooldown(t *testing.T) {
	l := NewLayer(LayerConfig{})
	l.StartCooldown(5)
	l.StartCooldown(6)
	l.ClearCooldown(5)
	if l.InCooldown(5) || !l.InCooldown(6) {
		t.Fatalf("clear must drop only chat 5")
	}
}
