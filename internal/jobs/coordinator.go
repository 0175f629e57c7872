// Package jobs implements the Manager's job coordinator: partitioning
// CT logs into JobRanges, assigning them to workers, tracking
// liveness, and recovering abandoned work (SPEC_FULL.md §4.1).
//
// Selection is serialized per category with an in-process mutex the
// way scanner.Fetcher serializes its own range generator in the
// teacher repo, generalized from "one continuous local range" to "a
// table of discrete, persisted ranges" shared across a worker fleet.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/ctfleet/ctfleet/internal/model"
	"github.com/ctfleet/ctfleet/internal/storage"
)

// DefaultChunkWidth is the recommended JobRange width from SPEC_FULL.md §4.1.
const DefaultChunkWidth = 1 << 14

// DefaultStaleThreshold is the time after which a RUNNING assignment's
// heartbeat is considered stale (moved to STALLED).
const DefaultStaleThreshold = 5 * time.Minute

// DefaultAbandonThreshold is the time since the last heartbeat after
// which a STALLED assignment is abandoned outright (range returns to
// PENDING).
const DefaultAbandonThreshold = 30 * time.Minute

// ErrNoWork is returned by Acquire when category has no assignable range.
var ErrNoWork = fmt.Errorf("jobs: no assignable range")

// ErrNotOwner is returned when a worker heartbeats/completes/resumes a
// range it does not currently hold the assignment for.
var ErrNotOwner = fmt.Errorf("jobs: worker does not own this assignment")

// Coordinator owns the lifecycle of every JobRange.
type Coordinator struct {
	store *storage.Store

	chunkWidth        int64
	staleThreshold    time.Duration
	abandonThreshold  time.Duration
	categoryMu        sync.Map // category (string) -> *sync.Mutex
}

// New creates a Coordinator backed by store.
func New(store *storage.Store) *Coordinator {
	return &Coordinator{
		store:            store,
		chunkWidth:       DefaultChunkWidth,
		staleThreshold:   DefaultStaleThreshold,
		abandonThreshold: DefaultAbandonThreshold,
	}
}

// WithChunkWidth overrides the default partitioning chunk width.
func (c *Coordinator) WithChunkWidth(w int64) *Coordinator {
	c.chunkWidth = w
	return c
}

// WithThresholds overrides the stale/abandon thresholds.
func (c *Coordinator) WithThresholds(stale, abandon time.Duration) *Coordinator {
	c.staleThreshold = stale
	c.abandonThreshold = abandon
	return c
}

func (c *Coordinator) categoryLock(category string) *sync.Mutex {
	v, _ := c.categoryMu.LoadOrStore(category, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Acquire selects a JobRange for a log in category and transitions it
// to RUNNING. Stalled (resume-priority) ranges come first; otherwise it
// takes the smallest-Start PENDING range of the first log, in log-name
// order, that the worker does not already hold an assignment for. Logs
// are always tried in log-name order; there is no rotation between
// calls. Returns ErrNoWork if category is saturated.
func (c *Coordinator) Acquire(ctx context.Context, workerName, category string) (model.JobRange, error) {
	lock := c.categoryLock(category)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()

	stalled, err := c.store.ListStalledRanges(ctx, category, now.Add(-c.staleThreshold))
	if err != nil {
		return model.JobRange{}, fmt.Errorf("jobs: list stalled: %w", err)
	}
	for _, r := range stalled {
		if n, err := c.store.CountAssignmentsForWorkerLog(ctx, workerName, r.LogName); err == nil && n > 0 {
			continue
		}
		if err := c.assign(ctx, workerName, r, now); err != nil {
			return model.JobRange{}, err
		}
		klog.V(1).Infof("acquire: %s resumed stalled range %s at current=%d", workerName, r.ID(), r.Current)
		return r, nil
	}

	pending, err := c.store.ListPendingRanges(ctx, category)
	if err != nil {
		return model.JobRange{}, fmt.Errorf("jobs: list pending: %w", err)
	}

	// Take the first pending range per distinct log in log-name order,
	// skipping logs the worker already holds.
	seenLog := map[string]bool{}
	for _, r := range pending {
		if seenLog[r.LogName] {
			continue
		}
		seenLog[r.LogName] = true
		n, err := c.store.CountAssignmentsForWorkerLog(ctx, workerName, r.LogName)
		if err != nil {
			return model.JobRange{}, err
		}
		if n > 0 {
			continue
		}
		if err := c.assign(ctx, workerName, r, now); err != nil {
			return model.JobRange{}, err
		}
		klog.V(1).Infof("acquire: %s acquired pending range %s", workerName, r.ID())
		return r, nil
	}

	return model.JobRange{}, ErrNoWork
}

func (c *Coordinator) assign(ctx context.Context, workerName string, r model.JobRange, now time.Time) error {
	if err := c.store.SetRangeState(ctx, r.ID(), model.RangeRunning); err != nil {
		return fmt.Errorf("jobs: set running: %w", err)
	}
	return c.store.UpsertAssignment(ctx, model.WorkerAssignment{
		RangeID:         r.ID(),
		WorkerName:      workerName,
		AssignedAt:      now,
		LastHeartbeatAt: now,
	})
}

// Heartbeat validates that the assignment is owned by workerName and
// advances current forward only; a non-advancing current is accepted
// without rewinding the stored cursor.
func (c *Coordinator) Heartbeat(ctx context.Context, workerName, logName string, start, current int64) error {
	id, err := c.resolveID(ctx, logName, start)
	if err != nil {
		return err
	}
	if err := c.checkOwner(ctx, id, workerName); err != nil {
		return err
	}
	if err := c.store.AdvanceCurrent(ctx, id, current); err != nil {
		return fmt.Errorf("jobs: advance current: %w", err)
	}
	return c.store.UpdateHeartbeat(ctx, id, time.Now())
}

// AdvanceUploaded validates ownership and advances last_uploaded_index
// to max(last_uploaded_index, idx), per spec.md §4.4's "on success,
// advance last_uploaded_index to the highest index in the batch."
func (c *Coordinator) AdvanceUploaded(ctx context.Context, workerName, logName string, start, idx int64) error {
	id, err := c.resolveID(ctx, logName, start)
	if err != nil {
		return err
	}
	if err := c.checkOwner(ctx, id, workerName); err != nil {
		return err
	}
	return c.store.SetLastUploadedIndex(ctx, id, idx)
}

// Complete marks a range COMPLETE and clears its assignment. Requires
// current == end.
func (c *Coordinator) Complete(ctx context.Context, workerName, logName string, start int64) error {
	id, err := c.resolveID(ctx, logName, start)
	if err != nil {
		return err
	}
	if err := c.checkOwner(ctx, id, workerName); err != nil {
		return err
	}
	r, err := c.store.GetRange(ctx, id)
	if err != nil {
		return err
	}
	if r.Current != r.End {
		return fmt.Errorf("jobs: cannot complete %s: current=%d != end=%d", id, r.Current, r.End)
	}
	if err := c.store.SetRangeState(ctx, id, model.RangeComplete); err != nil {
		return err
	}
	return c.store.ClearAssignment(ctx, id)
}

// Resume transitions RUNNING -> PENDING, preserving current, and
// clears the assignment. Used on worker-initiated shutdown. Idempotent.
func (c *Coordinator) Resume(ctx context.Context, workerName, logName string, start, current int64) error {
	id, err := c.resolveID(ctx, logName, start)
	if err != nil {
		return err
	}
	a, ok, err := c.store.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	if ok && a.WorkerName != workerName {
		return ErrNotOwner
	}
	if err := c.store.AdvanceCurrent(ctx, id, current); err != nil {
		return err
	}
	if err := c.store.SetRangeState(ctx, id, model.RangePending); err != nil {
		return err
	}
	return c.store.ClearAssignment(ctx, id)
}

// Fail marks a range FAILED (terminal) and clears its assignment, per
// the PermanentFetch error kind in SPEC_FULL.md §7.
func (c *Coordinator) Fail(ctx context.Context, workerName, logName string, start int64) error {
	id, err := c.resolveID(ctx, logName, start)
	if err != nil {
		return err
	}
	if err := c.checkOwner(ctx, id, workerName); err != nil {
		return err
	}
	if err := c.store.SetRangeState(ctx, id, model.RangeFailed); err != nil {
		return err
	}
	return c.store.ClearAssignment(ctx, id)
}

// ReapStale sweeps RUNNING assignments whose heartbeat is older than
// the stale threshold into STALLED, and STALLED assignments older
// than the abandon threshold back into PENDING at their last recorded
// current.
func (c *Coordinator) ReapStale(ctx context.Context) (stalled, abandoned int, err error) {
	now := time.Now()

	running, err := c.store.ListRunningAssignmentsOlderThan(ctx, now.Add(-c.staleThreshold))
	if err != nil {
		return 0, 0, fmt.Errorf("jobs: reap: list running: %w", err)
	}
	for _, a := range running {
		if err := c.store.SetRangeState(ctx, a.RangeID, model.RangeStalled); err != nil {
			return stalled, abandoned, err
		}
		stalled++
		klog.V(1).Infof("reap: %s marked STALLED (worker %s)", a.RangeID, a.WorkerName)
	}

	abandonedAssignments, err := c.store.ListStalledAssignmentsOlderThan(ctx, now.Add(-c.abandonThreshold))
	if err != nil {
		return stalled, 0, fmt.Errorf("jobs: reap: list stalled: %w", err)
	}
	for _, a := range abandonedAssignments {
		if err := c.store.SetRangeState(ctx, a.RangeID, model.RangePending); err != nil {
			return stalled, abandoned, err
		}
		if err := c.store.ClearAssignment(ctx, a.RangeID); err != nil {
			return stalled, abandoned, err
		}
		abandoned++
		klog.V(1).Infof("reap: %s abandoned by %s, returned to PENDING", a.RangeID, a.WorkerName)
	}
	return stalled, abandoned, nil
}

// Partition allocates new PENDING JobRanges covering the gap between a
// log's highest existing range End and its current TreeSize, in fixed
// chunkWidth-sized windows.
func (c *Coordinator) Partition(ctx context.Context, log model.CtLog) (int, error) {
	highEnd, err := c.store.HighestRangeEnd(ctx, log.LogName)
	if err != nil {
		return 0, fmt.Errorf("jobs: partition: %w", err)
	}
	if highEnd >= log.TreeSize {
		return 0, nil
	}

	n := 0
	for start := highEnd; start < log.TreeSize; start += c.chunkWidth {
		end := start + c.chunkWidth
		if end > log.TreeSize {
			end = log.TreeSize
		}
		r := model.JobRange{
			LogName:           log.LogName,
			Start:             start,
			End:               end,
			Current:           start,
			LastUploadedIndex: start - 1,
			State:             model.RangePending,
			ChunkWidth:        c.chunkWidth,
		}
		if err := c.store.InsertRange(ctx, r); err != nil {
			return n, fmt.Errorf("jobs: partition: insert %s: %w", r.ID(), err)
		}
		n++
	}
	klog.V(1).Infof("partition: %s: generated %d new ranges up to tree_size=%d", log.LogName, n, log.TreeSize)
	return n, nil
}

// resolveID looks up the RangeID for (logName, start). start uniquely
// identifies a range within a log because ranges for one log are
// disjoint (SPEC_FULL.md §3 invariant).
func (c *Coordinator) resolveID(ctx context.Context, logName string, start int64) (model.RangeID, error) {
	r, err := c.store.FindRangeByStart(ctx, logName, start)
	if err != nil {
		return model.RangeID{}, fmt.Errorf("jobs: resolve range %s@%d: %w", logName, start, err)
	}
	return r.ID(), nil
}

func (c *Coordinator) checkOwner(ctx context.Context, id model.RangeID, workerName string) error {
	a, ok, err := c.store.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	if !ok || a.WorkerName != workerName {
		return ErrNotOwner
	}
	return nil
}
