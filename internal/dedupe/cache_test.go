package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ctfleet/ctfleet/internal/model"
)

func fp(serial string) model.CertFingerprint {
	return model.CertFingerprint{
		Issuer:       "CN=Test Root CA",
		SerialNumber: serial,
		NotBefore:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		CommonName:   "example.jp",
	}
}

func TestCheckAndAddFirstMissThenHit(t *testing.T) {
	c := New(100, 8)
	f := fp("1")
	if got := c.CheckAndAdd(f); got != Miss {
		t.Fatalf("first CheckAndAdd() = %v, want Miss", got)
	}
	if got := c.CheckAndAdd(f); got != Hit {
		t.Fatalf("second CheckAndAdd() = %v, want Hit", got)
	}
	stats := c.Stats()
	if stats.HitCount+stats.MissCount != stats.TotalRequests {
		t.Fatalf("hit_count + miss_count != total_requests: %+v", stats)
	}
}

func TestCheckAndAddConcurrentExactlyOneMiss(t *testing.T) {
	c := New(1000, 16)
	f := fp("concurrent-race")

	const n = 200
	results := make([]Result, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = c.CheckAndAdd(f)
		}(i)
	}
	wg.Wait()

	misses := 0
	for _, r := range results {
		if r == Miss {
			misses++
		}
	}
	if misses != 1 {
		t.Fatalf("got %d Miss results among %d concurrent CheckAndAdd calls, want exactly 1", misses, n)
	}
}

func TestEvictionBoundsCacheSize(t *testing.T) {
	const max = 50000
	c := New(max, 64)
	for i := 0; i < max+1; i++ {
		got := c.CheckAndAdd(fp(fmt.Sprintf("%d", i)))
		if got != Miss {
			t.Fatalf("CheckAndAdd(%d) = %v, want Miss (distinct fingerprint)", i, got)
		}
	}
	if size := c.Size(); size > max {
		t.Fatalf("cache_size = %d, want <= %d", size, max)
	}
}

func TestClearResetsCounters(t *testing.T) {
	c := New(10, 2)
	c.CheckAndAdd(fp("a"))
	c.CheckAndAdd(fp("a"))
	c.Clear()
	stats := c.Stats()
	if stats.TotalRequests != 0 || stats.CacheSize != 0 {
		t.Fatalf("Clear() left stats = %+v, want zeroed", stats)
	}
	if got := c.CheckAndAdd(fp("a")); got != Miss {
		t.Fatalf("CheckAndAdd() after Clear() = %v, want Miss", got)
	}
}

func TestRollbackAllowsRetryMiss(t *testing.T) {
	c := New(10, 2)
	f := fp("retry")
	if got := c.CheckAndAdd(f); got != Miss {
		t.Fatalf("CheckAndAdd() = %v, want Miss", got)
	}
	c.Rollback(f)
	if got := c.CheckAndAdd(f); got != Miss {
		t.Fatalf("CheckAndAdd() after Rollback() = %v, want Miss", got)
	}
}
