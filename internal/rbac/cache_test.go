package rbac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func grant() (Decision, error) {
	return Decision{Allowed: true, Reason: ReasonGranted}, nil
}

func TestCacheGetOrComputeMemoizes(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute})
	calls := 0
	compute := func() (Decision, error) {
		calls++
		return grant()
	}

	dec, hit, err := cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 1, compute)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if hit || !dec.Allowed {
		t.Fatalf("first call: hit=%v dec=%+v", hit, dec)
	}

	dec, hit, err = cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 1, compute)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !hit || !dec.Allowed {
		t.Fatalf("second call: hit=%v dec=%+v", hit, dec)
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCacheKeySeparatesOwnership(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute})
	calls := 0

	_, _, _ = cache.GetOrCompute(context.Background(), "u1", "products", "update", ScopeOwn, true, 1, func() (Decision, error) {
		calls++
		return Decision{Allowed: true, Reason: ReasonGranted}, nil
	})
	dec, hit, err := cache.GetOrCompute(context.Background(), "u1", "products", "update", ScopeOwn, false, 1, func() (Decision, error) {
		calls++
		return Decision{Reason: ReasonScopeMismatch}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Fatal("ownership-negative check must not reuse the ownership-positive entry")
	}
	if dec.Allowed {
		t.Fatalf("decision = %+v, want deny", dec)
	}
	if calls != 2 {
		t.Fatalf("compute ran %d times, want 2", calls)
	}
}

func TestCacheExpiredEntryRecomputes(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute})
	now := time.Now().UTC()
	cache.clock = func() time.Time { return now }

	calls := 0
	compute := func() (Decision, error) {
		calls++
		return grant()
	}
	if _, _, err := cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 1, compute); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	_, hit, err := cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 1, compute)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Fatal("expired entry served as a hit")
	}
	if calls != 2 {
		t.Fatalf("compute ran %d times, want 2", calls)
	}
}

func TestCacheStaleGenerationRecomputes(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute})
	calls := 0
	compute := func() (Decision, error) {
		calls++
		return grant()
	}

	if _, _, err := cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 1, compute); err != nil {
		t.Fatal(err)
	}
	_, hit, err := cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 2, compute)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Fatal("entry from generation 1 served under generation 2")
	}
	if calls != 2 {
		t.Fatalf("compute ran %d times, want 2", calls)
	}
}

func TestCacheSingleFlight(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute})
	var computes atomic.Int64
	release := make(chan struct{})
	compute := func() (Decision, error) {
		computes.Add(1)
		<-release
		return grant()
	}

	const callers = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			dec, _, err := cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 1, compute)
			if err == nil && !dec.Allowed {
				err = errors.New("joined flight returned a deny")
			}
			errs <- err
		}()
	}
	close(start)
	// Give every caller time to join the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("caller failed: %v", err)
		}
	}
	if n := computes.Load(); n != 1 {
		t.Fatalf("compute ran %d times for concurrent identical keys, want 1", n)
	}
}

func TestCacheWaiterTimesOutComputationCompletes(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute})
	release := make(chan struct{})
	done := make(chan struct{})
	compute := func() (Decision, error) {
		<-release
		close(done)
		return grant()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := cache.GetOrCompute(ctx, "u1", "content", "view", ScopeAll, false, 1, compute)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("computation did not finish after waiter gave up")
	}

	// The abandoned computation still populated the cache.
	deadline := time.Now().Add(time.Second)
	for cache.Stats().Entries == 0 {
		if time.Now().After(deadline) {
			t.Fatal("abandoned computation never reached the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
	dec, hit, err := cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 1, func() (Decision, error) {
		t.Error("entry should already be cached")
		return Decision{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !hit || !dec.Allowed {
		t.Fatalf("hit=%v dec=%+v", hit, dec)
	}
}

func TestCacheInvalidatePrincipal(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute})
	seed := func(principal, resource string) {
		_, _, err := cache.GetOrCompute(context.Background(), principal, resource, "view", ScopeAll, false, 1, grant)
		if err != nil {
			t.Fatal(err)
		}
	}
	seed("u1", "content")
	seed("u1", "media")
	seed("u2", "content")

	cache.Invalidate("u1")

	if got := cache.Stats().Entries; got != 1 {
		t.Fatalf("entries after invalidate = %d, want 1", got)
	}
	_, hit, err := cache.GetOrCompute(context.Background(), "u2", "content", "view", ScopeAll, false, 1, grant)
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Fatal("unrelated principal's entry was dropped")
	}
}

func TestCacheInvalidateAll(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute})
	for _, p := range []string{"u1", "u2", "u3"} {
		if _, _, err := cache.GetOrCompute(context.Background(), p, "content", "view", ScopeAll, false, 1, grant); err != nil {
			t.Fatal(err)
		}
	}
	cache.InvalidateAll()
	if got := cache.Stats().Entries; got != 0 {
		t.Fatalf("entries after flush = %d, want 0", got)
	}
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute, MaxEntries: 2})
	now := time.Now().UTC()
	cache.clock = func() time.Time { return now }

	seed := func(principal string) {
		if _, _, err := cache.GetOrCompute(context.Background(), principal, "content", "view", ScopeAll, false, 1, grant); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Second)
	}
	seed("u1")
	seed("u2")
	seed("u3")

	stats := cache.Stats()
	if stats.Entries != 2 {
		t.Fatalf("entries = %d, want 2", stats.Entries)
	}
	if stats.Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", stats.Evictions)
	}

	// u1 held the oldest entry.
	_, hit, err := cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 1, grant)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Fatal("oldest entry survived eviction")
	}
}

func TestCacheRemoveExpired(t *testing.T) {
	cache := NewDecisionCache(CacheOptions{TTL: time.Minute})
	now := time.Now().UTC()
	cache.clock = func() time.Time { return now }

	if _, _, err := cache.GetOrCompute(context.Background(), "u1", "content", "view", ScopeAll, false, 1, grant); err != nil {
		t.Fatal(err)
	}
	if removed := cache.removeExpired(now.Add(30 * time.Second)); removed != 0 {
		t.Fatalf("removed %d live entries", removed)
	}
	if removed := cache.removeExpired(now.Add(2 * time.Minute)); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got := cache.Stats().Entries; got != 0 {
		t.Fatalf("entries = %d, want 0", got)
	}
}
