// Binary manager runs the ctfleet Manager: job coordination, the
// duplicate-suppression cache, upload ingestion, and the worker-facing
// control API.
//
// CLI wiring follows cuemby-warren's cmd/warren cobra.Command shape;
// process lifecycle (metrics on their own goroutine, signal-driven
// shutdown) follows trillian/migrillian/main.go's
// promhttp.Handler()-on-a-goroutine plus util.AwaitSignal pattern,
// adapted from os/signal.Notify to context.Context-native
// signal.NotifyContext.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/certificate-transparency-go/client"
	"github.com/google/certificate-transparency-go/jsonclient"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/ctfleet/ctfleet/internal/catalog"
	"github.com/ctfleet/ctfleet/internal/config"
	"github.com/ctfleet/ctfleet/internal/ctclient"
	"github.com/ctfleet/ctfleet/internal/dedupe"
	"github.com/ctfleet/ctfleet/internal/httpapi"
	"github.com/ctfleet/ctfleet/internal/ingest"
	"github.com/ctfleet/ctfleet/internal/jobs"
	"github.com/ctfleet/ctfleet/internal/metrics"
	"github.com/ctfleet/ctfleet/internal/storage"
)

// sthPollInterval is how often the Manager polls each active CtLog's
// get-sth endpoint to grow its tree_size and partition new JobRanges,
// per SPEC_FULL.md §4.1.
const sthPollInterval = 5 * time.Minute

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	cfg := config.DefaultManagerConfig()
	root := &cobra.Command{
		Use:   "manager",
		Short: "ctfleet Manager: job coordination, dedupe cache, and ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, config.ExplicitFlags(cmd.Flags()))
		},
	}
	config.BindManagerFlags(root.Flags(), &cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		klog.Errorf("manager: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ManagerConfig, explicit map[string]bool) error {
	if err := config.ApplyManagerEnv(&cfg, explicit); err != nil {
		klog.Errorf("manager: configuration error: %v", err)
		os.Exit(1)
	}

	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("manager: open storage: %w", err)
	}
	defer store.Close()

	if cfg.CatalogPath != "" {
		f, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return fmt.Errorf("manager: load catalog: %w", err)
		}
		if err := catalog.Seed(ctx, store, f); err != nil {
			return fmt.Errorf("manager: seed catalog: %w", err)
		}
	}

	cache := dedupe.New(cfg.CacheMaxSize, cfg.CacheShards)
	pipeline := ingest.New(cache, store)
	coord := jobs.New(store)
	reg := metrics.New()

	srv := httpapi.New(coord, pipeline, cache, store, reg)

	hc, err := ctclient.NewHTTPClient(ctclient.DefaultTransportOptions())
	if err != nil {
		return fmt.Errorf("manager: build HTTP client: %w", err)
	}

	go runReaper(ctx, coord, reg)
	go runTreeSizePoller(ctx, store, coord, hc)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: reg.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Warningf("manager: metrics server: %v", err)
		}
	}()

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		metricsSrv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			klog.Warningf("manager: graceful shutdown: %v", err)
		}
	}()

	klog.Infof("manager: serving on %s", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("manager: serve: %w", err)
	}
	return nil
}

// runTreeSizePoller periodically calls get-sth on every active CtLog,
// the way scanner/fetcher.go's Prepare/runWorker polled f.client.GetSTH
// to discover how far a log has grown, and partitions any newly
// available index range into JobRanges.
func runTreeSizePoller(ctx context.Context, store *storage.Store, coord *jobs.Coordinator, hc *http.Client) {
	ticker := time.NewTicker(sthPollInterval)
	defer ticker.Stop()

	poll := func() {
		logs, err := store.ListLogs(ctx)
		if err != nil {
			klog.Warningf("manager: poll tree sizes: list logs: %v", err)
			return
		}
		for _, l := range logs {
			if !l.Active {
				continue
			}
			c, err := client.New(l.LogURL, hc, jsonclient.Options{})
			if err != nil {
				klog.Warningf("manager: poll %s: build CT client: %v", l.LogName, err)
				continue
			}
			sth, err := c.GetSTH(ctx)
			if err != nil {
				klog.Warningf("manager: poll %s: get-sth: %v", l.LogName, err)
				continue
			}
			if int64(sth.TreeSize) <= l.TreeSize {
				continue
			}
			if err := store.UpdateTreeSize(ctx, l.LogName, int64(sth.TreeSize)); err != nil {
				klog.Warningf("manager: poll %s: update tree_size: %v", l.LogName, err)
				continue
			}
			updated, err := store.GetLog(ctx, l.LogName)
			if err != nil {
				klog.Warningf("manager: poll %s: reload log: %v", l.LogName, err)
				continue
			}
			n, err := coord.Partition(ctx, updated)
			if err != nil {
				klog.Warningf("manager: poll %s: partition: %v", l.LogName, err)
				continue
			}
			if n > 0 {
				klog.V(1).Infof("manager: %s grew to tree_size=%d, partitioned %d new ranges", l.LogName, updated.TreeSize, n)
			}
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// runReaper sweeps stale/abandoned assignments every staleThreshold,
// mirroring scanner/fetcher.go's own periodic-sweep goroutine shape.
func runReaper(ctx context.Context, coord *jobs.Coordinator, reg *metrics.Registry) {
	ticker := time.NewTicker(jobs.DefaultStaleThreshold)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stalled, abandoned, err := coord.ReapStale(ctx)
			if err != nil {
				klog.Warningf("manager: reap: %v", err)
				continue
			}
			reg.JobsStalled.Add(float64(stalled))
			reg.JobsAbandoned.Add(float64(abandoned))
			if stalled > 0 || abandoned > 0 {
				klog.V(1).Infof("manager: reap stalled=%d abandoned=%d", stalled, abandoned)
			}
		}
	}
}
