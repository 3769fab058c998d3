package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fixedNow pins the limiter's clock to a controllable instant.
type fixedNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fixedNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fixedNow) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestLimiter(window time.Duration) (*Limiter, *fixedNow) {
	l := New(window)
	// Start on a window boundary so resets are deterministic.
	fn := &fixedNow{t: time.Unix(1_000_000_000, 0).Truncate(window)}
	l.nowFn = fn.now
	return l, fn
}

func TestAllow_ExactlyLimitTimesPerWindow(t *testing.T) {
	const limit = 5
	l, _ := newTestLimiter(60 * time.Second)
	key := Key("acct", "ES_123", "/v1/scheduled-payments/", "POST")

	prevRemaining := limit
	for i := 0; i < limit; i++ {
		res := l.Allow(key, limit)
		if !res.Allowed {
			t.Fatalf("request %d: denied inside limit", i+1)
		}
		if res.Limit != limit {
			t.Errorf("request %d: Limit = %d, want %d", i+1, res.Limit, limit)
		}
		if res.Remaining >= prevRemaining {
			t.Errorf("request %d: Remaining %d did not decrease from %d", i+1, res.Remaining, prevRemaining)
		}
		prevRemaining = res.Remaining
	}
	if prevRemaining != 0 {
		t.Errorf("Remaining after %d requests = %d, want 0", limit, prevRemaining)
	}

	// Every further request in the window is denied.
	for i := 0; i < 3; i++ {
		res := l.Allow(key, limit)
		if res.Allowed {
			t.Fatal("request above limit was allowed")
		}
		if res.Remaining != 0 {
			t.Errorf("denied request Remaining = %d, want 0", res.Remaining)
		}
		if res.ResetInSeconds <= 0 {
			t.Errorf("denied request ResetInSeconds = %d, want > 0", res.ResetInSeconds)
		}
	}
}

func TestAllow_ResetsAfterWindowRollover(t *testing.T) {
	const limit = 2
	l, fn := newTestLimiter(60 * time.Second)
	key := Key("ip", "10.0.0.1", "/v1/scheduled-payments/x", "DELETE")

	l.Allow(key, limit)
	l.Allow(key, limit)
	if l.Allow(key, limit).Allowed {
		t.Fatal("third request in window must be denied")
	}

	fn.advance(60 * time.Second)

	res := l.Allow(key, limit)
	if !res.Allowed {
		t.Fatal("first request after rollover must be allowed")
	}
	if res.Remaining != limit-1 {
		t.Errorf("Remaining after rollover = %d, want %d", res.Remaining, limit-1)
	}
}

func TestAllow_DenialDoesNotConsumeCount(t *testing.T) {
	l, _ := newTestLimiter(60 * time.Second)
	key := "acct:a:/p:GET"

	l.Allow(key, 1)
	for i := 0; i < 10; i++ {
		l.Allow(key, 1)
	}

	l.mu.Lock()
	count := l.buckets[key].count
	l.mu.Unlock()
	if count != 1 {
		t.Errorf("bucket count after denials = %d, want 1", count)
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l, _ := newTestLimiter(60 * time.Second)

	l.Allow("acct:a:/p:POST", 1)
	if !l.Allow("acct:b:/p:POST", 1).Allowed {
		t.Error("a different key must have its own budget")
	}
	if !l.Allow("acct:a:/q:POST", 1).Allowed {
		t.Error("a different path must have its own budget")
	}
	if !l.Allow("acct:a:/p:GET", 1).Allowed {
		t.Error("a different method must have its own budget")
	}
}

func TestAllow_EmptyKeyAndNonPositiveLimit(t *testing.T) {
	l, _ := newTestLimiter(60 * time.Second)

	res := l.Allow("", 0)
	if !res.Allowed || res.Limit != 1 {
		t.Errorf("Allow(\"\", 0) = %+v, want allowed with limit clamped to 1", res)
	}
	// Second anonymous request shares the fallback bucket.
	if l.Allow("", 0).Allowed {
		t.Error("second anonymous request must be denied at limit 1")
	}
}

func TestCleanup_RemovesStaleBuckets(t *testing.T) {
	l, fn := newTestLimiter(60 * time.Second)

	l.Allow("old", 5)
	fn.advance(3 * 60 * time.Second)
	l.Allow("fresh", 5)

	l.Cleanup()

	if l.size() != 1 {
		t.Fatalf("bucket count after cleanup = %d, want 1", l.size())
	}
	l.mu.Lock()
	_, oldExists := l.buckets["old"]
	_, freshExists := l.buckets["fresh"]
	l.mu.Unlock()
	if oldExists {
		t.Error("stale bucket survived cleanup")
	}
	if !freshExists {
		t.Error("fresh bucket removed by cleanup")
	}
}

func TestCleanup_KeepsRecentWindows(t *testing.T) {
	l, fn := newTestLimiter(60 * time.Second)

	l.Allow("recent", 5)
	// One window later: within the two-window retention.
	fn.advance(60 * time.Second)
	l.Cleanup()

	if l.size() != 1 {
		t.Errorf("bucket within retention was removed")
	}
}

func TestAllow_ConcurrentRequestsNeverExceedLimit(t *testing.T) {
	const limit = 50
	l, _ := newTestLimiter(60 * time.Second)
	key := "acct:race:/p:POST"

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(key, limit).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed %d concurrent requests, want exactly %d", allowed, limit)
	}
}
