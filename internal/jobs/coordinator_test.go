package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/ctfleet/ctfleet/internal/model"
	"github.com/ctfleet/ctfleet/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), "sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedLog(t *testing.T, s *storage.Store, name, category string, treeSize int64) {
	t.Helper()
	if err := s.SeedLog(context.Background(), model.CtLog{
		LogName: name, LogURL: "https://ct.example/" + name + "/",
		Category: category, TreeSize: treeSize, Active: true,
	}); err != nil {
		t.Fatalf("SeedLog(%s): %v", name, err)
	}
}

func TestPartitionGeneratesDisjointRanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLog(t, s, "argon2024", "google", 100000)
	c := New(s).WithChunkWidth(16384)

	log, err := s.GetLog(ctx, "argon2024")
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	n, err := c.Partition(ctx, log)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if n == 0 {
		t.Fatalf("Partition() generated 0 ranges for tree_size=100000")
	}

	ranges, err := s.ListPendingRangesByLog(ctx, "argon2024")
	if err != nil {
		t.Fatalf("ListPendingRangesByLog: %v", err)
	}
	var prevEnd int64
	for i, r := range ranges {
		if i > 0 && r.Start != prevEnd {
			t.Fatalf("range %d starts at %d, want %d (gap or overlap)", i, r.Start, prevEnd)
		}
		prevEnd = r.End
	}
	if prevEnd != 100000 {
		t.Fatalf("last range end = %d, want tree_size 100000", prevEnd)
	}

	// Partition is idempotent once the log is fully covered.
	log2, _ := s.GetLog(ctx, "argon2024")
	again, err := c.Partition(ctx, log2)
	if err != nil {
		t.Fatalf("second Partition: %v", err)
	}
	if again != 0 {
		t.Fatalf("second Partition() generated %d new ranges, want 0", again)
	}
}

func TestAcquireThenSecondWorkerGetsDifferentRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLog(t, s, "xenon2024", "google", 32768)
	c := New(s).WithChunkWidth(16384)
	log, _ := s.GetLog(ctx, "xenon2024")
	if _, err := c.Partition(ctx, log); err != nil {
		t.Fatalf("Partition: %v", err)
	}

	r1, err := c.Acquire(ctx, "worker-a", "google")
	if err != nil {
		t.Fatalf("Acquire(worker-a): %v", err)
	}
	r2, err := c.Acquire(ctx, "worker-b", "google")
	if err != nil {
		t.Fatalf("Acquire(worker-b): %v", err)
	}
	if r1.Start == r2.Start {
		t.Fatalf("two workers acquired the same range %s", r1.ID())
	}

	stored, err := s.GetRange(ctx, r1.ID())
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if stored.State != model.RangeRunning {
		t.Fatalf("stored range state = %v, want RUNNING", stored.State)
	}
}

func TestAcquireNoWorkReturnsErrNoWork(t *testing.T) {
	s := newTestStore(t)
	c := New(s)
	_, err := c.Acquire(context.Background(), "worker-a", "nonexistent-category")
	if err != ErrNoWork {
		t.Fatalf("Acquire() err = %v, want ErrNoWork", err)
	}
}

func TestHeartbeatNeverRewindsCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLog(t, s, "nimbus2024", "google", 16384)
	c := New(s).WithChunkWidth(16384)
	log, _ := s.GetLog(ctx, "nimbus2024")
	c.Partition(ctx, log)

	r, err := c.Acquire(ctx, "worker-a", "google")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := c.Heartbeat(ctx, "worker-a", "nimbus2024", r.Start, 8000); err != nil {
		t.Fatalf("Heartbeat(8000): %v", err)
	}
	// A stale/out-of-order heartbeat reporting a lower current must not
	// rewind the persisted cursor.
	if err := c.Heartbeat(ctx, "worker-a", "nimbus2024", r.Start, 4000); err != nil {
		t.Fatalf("Heartbeat(4000): %v", err)
	}

	stored, err := s.GetRange(ctx, r.ID())
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if stored.Current != 8000 {
		t.Fatalf("current = %d after lower heartbeat, want 8000 (monotonic)", stored.Current)
	}
}

func TestHeartbeatByNonOwnerFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLog(t, s, "sapling2024", "google", 16384)
	c := New(s).WithChunkWidth(16384)
	log, _ := s.GetLog(ctx, "sapling2024")
	c.Partition(ctx, log)

	r, err := c.Acquire(ctx, "worker-a", "google")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Heartbeat(ctx, "worker-b", "sapling2024", r.Start, 100); err != ErrNotOwner {
		t.Fatalf("Heartbeat() by non-owner err = %v, want ErrNotOwner", err)
	}
}

func TestCompleteRequiresCurrentAtEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLog(t, s, "deadpool2024", "google", 16384)
	c := New(s).WithChunkWidth(16384)
	log, _ := s.GetLog(ctx, "deadpool2024")
	c.Partition(ctx, log)

	r, err := c.Acquire(ctx, "worker-a", "google")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Complete(ctx, "worker-a", "deadpool2024", r.Start); err == nil {
		t.Fatalf("Complete() before reaching end: want error, got nil")
	}
	if err := c.Heartbeat(ctx, "worker-a", "deadpool2024", r.Start, r.End); err != nil {
		t.Fatalf("Heartbeat(end): %v", err)
	}
	if err := c.Complete(ctx, "worker-a", "deadpool2024", r.Start); err != nil {
		t.Fatalf("Complete() at end: %v", err)
	}

	stored, err := s.GetRange(ctx, r.ID())
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if stored.State != model.RangeComplete {
		t.Fatalf("state = %v, want COMPLETE", stored.State)
	}
	if _, ok, err := s.GetAssignment(ctx, r.ID()); err != nil || ok {
		t.Fatalf("assignment still present after Complete: ok=%v err=%v", ok, err)
	}
}

func TestReapStaleMovesRunningToStalledThenAbandonsToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLog(t, s, "birch2024", "google", 16384)
	c := New(s).WithChunkWidth(16384).WithThresholds(-time.Second, -time.Second)
	log, _ := s.GetLog(ctx, "birch2024")
	c.Partition(ctx, log)

	r, err := c.Acquire(ctx, "worker-a", "google")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Both thresholds are already negative, so the very next reap both
	// stalls and abandons the same assignment.
	stalled, abandoned, err := c.ReapStale(ctx)
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if stalled != 1 {
		t.Fatalf("stalled = %d, want 1", stalled)
	}
	if abandoned != 1 {
		t.Fatalf("abandoned = %d, want 1", abandoned)
	}

	stored, err := s.GetRange(ctx, r.ID())
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if stored.State != model.RangePending {
		t.Fatalf("state after reap = %v, want PENDING", stored.State)
	}
	if _, ok, err := s.GetAssignment(ctx, r.ID()); err != nil || ok {
		t.Fatalf("assignment still present after abandon: ok=%v err=%v", ok, err)
	}
}

func TestResumeReturnsRangeToPendingPreservingCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLog(t, s, "cedar2024", "google", 16384)
	c := New(s).WithChunkWidth(16384)
	log, _ := s.GetLog(ctx, "cedar2024")
	c.Partition(ctx, log)

	r, err := c.Acquire(ctx, "worker-a", "google")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Resume(ctx, "worker-a", "cedar2024", r.Start, 1234); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	stored, err := s.GetRange(ctx, r.ID())
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if stored.State != model.RangePending {
		t.Fatalf("state = %v, want PENDING", stored.State)
	}
	if stored.Current != 1234 {
		t.Fatalf("current = %d, want 1234", stored.Current)
	}

	// A second worker can now acquire the same range.
	r2, err := c.Acquire(ctx, "worker-b", "google")
	if err != nil {
		t.Fatalf("Acquire after resume: %v", err)
	}
	if r2.Start != r.Start {
		t.Fatalf("worker-b acquired %s, want the resumed range %s", r2.ID(), r.ID())
	}
}
