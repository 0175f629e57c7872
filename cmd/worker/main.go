// Binary worker runs the ctfleet Worker: one per-category fetch loop
// per active CtLog category, acquiring JobRanges from the Manager,
// fetching and parsing CT entries, and uploading accepted certificates.
//
// CLI wiring follows cuemby-warren's cmd/warren cobra.Command shape;
// per-category goroutine lifecycle follows scanner/fetcher.go's
// Fetcher.Run/Stop shape, driven here by a sync.WaitGroup plus
// context.Context cancellation instead of a single continuous fetch
// loop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/ctfleet/ctfleet/internal/catalog"
	"github.com/ctfleet/ctfleet/internal/config"
	"github.com/ctfleet/ctfleet/internal/ctclient"
	"github.com/ctfleet/ctfleet/internal/fetchworker"
	"github.com/ctfleet/ctfleet/internal/metrics"
	"github.com/ctfleet/ctfleet/internal/model"
	"github.com/ctfleet/ctfleet/internal/parser"
	"github.com/ctfleet/ctfleet/internal/spool"
)

// spoolReapInterval is how often the worker retries re-delivering
// locally spooled failed uploads to the Manager.
const spoolReapInterval = 60 * time.Second

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	cfg := config.DefaultWorkerConfig()
	root := &cobra.Command{
		Use:   "worker",
		Short: "ctfleet Worker: fetches CT log entries and uploads matches to the Manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, config.ExplicitFlags(cmd.Flags()))
		},
	}
	config.BindWorkerFlags(root.Flags(), &cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		klog.Errorf("worker: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.WorkerConfig, explicit map[string]bool) error {
	config.ResolveWorkerFlags(&cfg)
	if err := config.ApplyWorkerEnv(&cfg, explicit); err != nil {
		klog.Errorf("worker: configuration error: %v", err)
		os.Exit(1)
	}
	if cfg.WorkerName == "" {
		hostname, _ := os.Hostname()
		cfg.WorkerName = fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())
	}
	if cfg.CatalogPath == "" {
		klog.Errorf("worker: --catalog is required to determine fetch categories")
		os.Exit(1)
	}

	f, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		klog.Errorf("worker: load catalog: %v", err)
		os.Exit(1)
	}

	categories := map[string]bool{}
	for _, e := range f.Logs {
		if e.Active {
			categories[e.Category] = true
		}
	}
	if len(categories) == 0 {
		return fmt.Errorf("worker: no active categories in catalog %s", cfg.CatalogPath)
	}

	hc, err := ctclient.NewHTTPClient(ctclient.DefaultTransportOptions())
	if err != nil {
		return fmt.Errorf("worker: build HTTP client: %w", err)
	}

	sp, err := spool.New("./spool/" + cfg.WorkerName)
	if err != nil {
		return fmt.Errorf("worker: open spool: %w", err)
	}

	mgr := fetchworker.NewManagerClient(cfg.ManagerURL, hc)
	logFac := fetchworker.DefaultLogClientFactory(hc)
	filter := parser.NewFilter(cfg.Suffix)

	reg := metrics.New()
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: reg.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Warningf("worker: metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		metricsSrv.Close()
	}()

	spool.RunReaper(ctx, sp, spoolReapInterval, func(ctx context.Context, u model.PendingUpload) error {
		_, err := mgr.UploadCertificates(ctx, u.Certs, u.WorkerName)
		return err
	})
	go runSpoolGauge(ctx, sp, reg)

	var wg sync.WaitGroup
	for category := range categories {
		opts := fetchworker.DefaultOptions(cfg.WorkerName, category)
		opts.UploadBatchSize = cfg.BatchSize
		w := fetchworker.New(opts, mgr, logFac, filter, sp)

		wg.Add(1)
		go func(category string) {
			defer wg.Done()
			klog.Infof("worker: starting fetch loop for category %s", category)
			w.Run(ctx)
			klog.Infof("worker: fetch loop for category %s stopped", category)
		}(category)
	}

	wg.Wait()
	return nil
}

// runSpoolGauge keeps the SpoolFiles gauge in sync with the worker's
// on-disk spool directory, polling on the same cadence as the reaper.
func runSpoolGauge(ctx context.Context, sp *spool.Spool, reg *metrics.Registry) {
	ticker := time.NewTicker(spoolReapInterval)
	defer ticker.Stop()
	for {
		if n, err := sp.Count(); err != nil {
			klog.Warningf("worker: spool count: %v", err)
		} else {
			reg.SpoolFiles.Set(float64(n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
