package fetchworker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/client"
	"github.com/google/certificate-transparency-go/jsonclient"
	"k8s.io/klog/v2"

	"github.com/ctfleet/ctfleet/internal/ctclient"
	"github.com/ctfleet/ctfleet/internal/ctlogerrors"
	"github.com/ctfleet/ctfleet/internal/model"
	"github.com/ctfleet/ctfleet/internal/parser"
	"github.com/ctfleet/ctfleet/internal/spool"
)

// LeafFetcher is the subset of the CT log client API the fetch loop
// needs, mirroring scanner.LogClient's GetRawEntries method.
type LeafFetcher interface {
	GetRawEntries(ctx context.Context, start, end int64) (*ct.GetEntriesResponse, error)
}

// LogClientFactory builds a LeafFetcher for a given log's base URL.
type LogClientFactory func(logURL string) (LeafFetcher, error)

// DefaultLogClientFactory builds real CT log clients over hc, the way
// scanner_test.go builds one via client.New for tests against a real
// HTTP server.
func DefaultLogClientFactory(hc *http.Client) LogClientFactory {
	return func(logURL string) (LeafFetcher, error) {
		return client.New(logURL, hc, jsonclient.Options{})
	}
}

// Options configures a Worker's per-category fetch loop.
type Options struct {
	WorkerName        string
	Category          string
	FetchBatchHint    int64
	UploadBatchSize   int
	FlushInterval     time.Duration
	HeartbeatInterval time.Duration
	AcquireBackoffMin time.Duration
	AcquireBackoffMax time.Duration

	// FetchQPS/FetchBurst bound this category's outbound get-entries
	// rate against its CT log, per spec.md §4.4's advisory per-host
	// concurrency limits.
	FetchQPS   float64
	FetchBurst int
}

// DefaultOptions returns the spec.md §4.4 defaults.
func DefaultOptions(workerName, category string) Options {
	return Options{
		WorkerName:        workerName,
		Category:          category,
		FetchBatchHint:    1000,
		UploadBatchSize:   32,
		FlushInterval:     60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		AcquireBackoffMin: time.Second,
		AcquireBackoffMax: 10 * time.Second,
		FetchQPS:          5,
		FetchBurst:        10,
	}
}

// Worker runs the per-category IDLE → ACQUIRE → FETCH → PARSE →
// BUFFER → UPLOAD? → COMPLETE/ERROR/RESUME state machine of
// SPEC_FULL.md §4.4 for one CT-log category.
type Worker struct {
	opts    Options
	mgr     *ManagerClient
	logFac  LogClientFactory
	filter  parser.Filter
	spool   *spool.Spool
	fetchBO *ctclient.Backoff
	limiter *ctclient.RateLimiter
}

// New creates a Worker for one category.
func New(opts Options, mgr *ManagerClient, logFac LogClientFactory, filter parser.Filter, sp *spool.Spool) *Worker {
	return &Worker{
		opts:    opts,
		mgr:     mgr,
		logFac:  logFac,
		filter:  filter,
		spool:   sp,
		fetchBO: ctclient.DefaultFetchBackoff(),
		limiter: ctclient.NewRateLimiter(opts.FetchQPS, opts.FetchBurst),
	}
}

// Run executes the IDLE/ACQUIRE loop until ctx is cancelled,
// processing one JobRange to completion (or interruption) per
// acquisition.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		acq, err := w.mgr.Acquire(ctx, w.opts.WorkerName, w.opts.Category)
		if err != nil {
			klog.Warningf("fetchworker[%s]: acquire failed: %v", w.opts.Category, err)
			w.sleepJittered(ctx, w.opts.AcquireBackoffMin, w.opts.AcquireBackoffMax)
			continue
		}
		if acq.None {
			w.sleepJittered(ctx, w.opts.AcquireBackoffMin, w.opts.AcquireBackoffMax)
			continue
		}

		if err := w.runRange(ctx, acq); err != nil {
			kind := classifyRangeError(err)
			klog.Warningf("fetchworker[%s]: range %s[%d,%d) ended with %s error: %v", w.opts.Category, acq.LogName, acq.Start, acq.End, kind, err)
			if rerr := w.mgr.ReportError(ctx, w.opts.WorkerName, acq.LogName, acq.Start, ctlogerrors.New(kind, err).Error()); rerr != nil {
				klog.Warningf("fetchworker[%s]: could not report error to Manager: %v", w.opts.Category, rerr)
			}
		}
	}
}

// classifyRangeError maps a runRange error to the Kind taxonomy of
// internal/ctlogerrors so Run can log and report it consistently.
func classifyRangeError(err error) ctlogerrors.Kind {
	var ce *ctlogerrors.Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ctlogerrors.KindTransientNetwork
}

func (w *Worker) sleepJittered(ctx context.Context, min, max time.Duration) {
	d := min + time.Duration(rand.Int63n(int64(max-min)+1))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// fetchMaxAttempts caps get-entries calls per fetch before runRange gives
// up on the range with a PermanentFetch error.
const fetchMaxAttempts = 10

// runRange drives FETCH → PARSE → BUFFER → UPLOAD? → COMPLETE for one
// acquired JobRange, returning when current reaches end, ctx is
// cancelled (triggering RESUME), or a fetch permanently fails.
func (w *Worker) runRange(ctx context.Context, acq AcquireResult) error {
	fetcher, err := w.logFac(acq.LogURL)
	if err != nil {
		return ctlogerrors.New(ctlogerrors.KindFatal, fmt.Errorf("build log client for %s: %w", acq.LogURL, err))
	}

	cursor := acq.Current
	var buffer []model.Certificate
	lastFlush := time.Now()
	heartbeatDeadline := time.Now().Add(w.opts.HeartbeatInterval)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		highest := buffer[0].CtIndex
		for _, c := range buffer {
			if c.CtIndex > highest {
				highest = c.CtIndex
			}
		}

		records := toUploadRecords(buffer, w.opts.WorkerName)
		if _, err := w.mgr.Upload(ctx, records); err != nil {
			u := model.PendingUpload{Certs: buffer, WorkerName: w.opts.WorkerName, LogName: acq.LogName}
			if _, werr := w.spool.Write(u); werr != nil {
				return ctlogerrors.New(ctlogerrors.KindFatal, fmt.Errorf("upload failed (%v) and spool write failed: %w", err, werr))
			}
			klog.V(1).Infof("fetchworker[%s]: upload failed, spooled %d records: %v", w.opts.Category, len(buffer), err)
			buffer = nil
			lastFlush = time.Now()
			return nil
		}

		if err := w.mgr.AdvanceUploaded(ctx, w.opts.WorkerName, acq.LogName, acq.Start, highest); err != nil {
			klog.Warningf("fetchworker[%s]: advance last_uploaded_index failed: %v", w.opts.Category, err)
		}
		buffer = nil
		lastFlush = time.Now()
		return nil
	}

	// waitForSpoolDrain blocks the fetch loop while this worker's spool
	// holds undelivered batches, so cursor never races arbitrarily far
	// ahead of last_uploaded_index during a sustained Manager outage
	// (spec.md §7's UploadRejected backpressure).
	waitForSpoolDrain := func() {
		for {
			n, err := w.spool.Count()
			if err != nil {
				klog.Warningf("fetchworker[%s]: spool count failed: %v", w.opts.Category, err)
				return
			}
			if n == 0 {
				return
			}
			klog.V(1).Infof("fetchworker[%s]: %d spooled batches pending, pausing fetch", w.opts.Category, n)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.opts.FlushInterval):
			}
		}
	}

	for cursor < acq.End {
		if ctx.Err() != nil {
			if err := flush(); err != nil {
				klog.Warningf("fetchworker[%s]: flush on shutdown failed: %v", w.opts.Category, err)
			}
			if err := w.mgr.Resume(context.Background(), w.opts.WorkerName, acq.LogName, acq.Start, cursor); err != nil {
				klog.Warningf("fetchworker[%s]: resume on shutdown failed: %v", w.opts.Category, err)
			}
			return nil
		}

		waitForSpoolDrain()

		end := cursor + w.opts.FetchBatchHint - 1
		if end >= acq.End {
			end = acq.End - 1
		}

		if err := w.limiter.Wait(ctx); err != nil {
			continue
		}

		var resp *ct.GetEntriesResponse
		err := w.fetchBO.Retry(ctx, fetchMaxAttempts, func() error {
			r, err := fetcher.GetRawEntries(ctx, cursor, end)
			if err != nil {
				return ctclient.RetriableErrorf("get-entries: %v", err)
			}
			resp = r
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				// Interrupted mid-retry: the loop head flushes and resumes.
				continue
			}
			return ctlogerrors.New(ctlogerrors.KindPermanentFetch, fmt.Errorf("fetch [%d,%d]: %w", cursor, end, err))
		}
		w.fetchBO.Reset()

		for i, leaf := range resp.Entries {
			idx := cursor + int64(i)
			cert, ok, err := parser.ParseLeaf(&leaf, idx, acq.LogURL, acq.LogName, w.filter)
			if err != nil {
				klog.V(2).Infof("fetchworker[%s]: parse error at index %d: %v", w.opts.Category, idx, err)
				continue
			}
			if ok {
				buffer = append(buffer, cert)
			}
		}
		cursor += int64(len(resp.Entries))

		if len(buffer) >= w.opts.UploadBatchSize || time.Since(lastFlush) >= w.opts.FlushInterval {
			if err := flush(); err != nil {
				return err
			}
		}

		if time.Now().After(heartbeatDeadline) {
			if err := w.mgr.Heartbeat(ctx, w.opts.WorkerName, acq.LogName, acq.Start, cursor); err != nil {
				klog.Warningf("fetchworker[%s]: heartbeat failed: %v", w.opts.Category, err)
			}
			heartbeatDeadline = time.Now().Add(w.opts.HeartbeatInterval)
		}
	}

	if err := flush(); err != nil {
		return err
	}
	return w.mgr.Complete(ctx, w.opts.WorkerName, acq.LogName, acq.Start)
}
