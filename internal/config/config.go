// Package config defines the Manager's and Worker's command-line/
// environment configuration, grounded on cuemby-warren's cmd/warren
// cobra.Command + pflag flags pattern (e.g. workerStartCmd's
// "--manager"/"--node-id" flags). The Worker options of spec.md §6's
// configuration table (MANAGER_URL, WORKER_NAME, PROXIES, DEBUG, SUFFIX,
// BATCH_SIZE) and the Manager's CACHE_MAX_SIZE also have an
// environment-variable fallback; the remaining flags are CLI-only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// WorkerConfig holds every recognized Worker option from spec.md §6.
type WorkerConfig struct {
	ManagerURL  string
	WorkerName  string
	Proxies     []string
	Debug       bool
	Suffix      string
	BatchSize   int
	CatalogPath string
	MetricsAddr string

	proxiesRaw string
}

// DefaultWorkerConfig returns spec.md §6's stated Worker defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ManagerURL:  "http://localhost:8080",
		Suffix:      ".jp",
		BatchSize:   32,
		MetricsAddr: ":9091",
	}
}

// BindWorkerFlags registers Worker flags on fs with cfg's current
// values as defaults, in warren's pflag.String/.Bool/.Int style. Call
// ResolveWorkerFlags after fs.Parse to finish applying the result.
func BindWorkerFlags(fs *pflag.FlagSet, cfg *WorkerConfig) {
	fs.StringVar(&cfg.ManagerURL, "manager-url", cfg.ManagerURL, "Base URL of the Manager API")
	fs.StringVar(&cfg.WorkerName, "worker-name", cfg.WorkerName, "Public worker identity (auto-generated if unset)")
	fs.StringVar(&cfg.proxiesRaw, "proxies", strings.Join(cfg.Proxies, ","), "Comma-separated outbound proxies for CT fetches")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable verbose logging")
	fs.StringVar(&cfg.Suffix, "suffix", cfg.Suffix, "Domain suffix filter")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Upload batch size")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Path to the CT log catalog YAML file")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Address to serve /metrics on")
}

// ResolveWorkerFlags splits the parsed --proxies value back into
// cfg.Proxies. Call once, after fs.Parse(args).
func ResolveWorkerFlags(cfg *WorkerConfig) {
	if cfg.proxiesRaw != "" {
		cfg.Proxies = strings.Split(cfg.proxiesRaw, ",")
	}
}

// ApplyWorkerEnv fills any WorkerConfig field not explicitly set on
// the command line from the MANAGER_URL/WORKER_NAME/PROXIES/DEBUG/
// SUFFIX/BATCH_SIZE environment variables of spec.md §6.
func ApplyWorkerEnv(cfg *WorkerConfig, explicit map[string]bool) error {
	if !explicit["manager-url"] {
		if v, ok := os.LookupEnv("MANAGER_URL"); ok {
			cfg.ManagerURL = v
		}
	}
	if !explicit["worker-name"] {
		if v, ok := os.LookupEnv("WORKER_NAME"); ok {
			cfg.WorkerName = v
		}
	}
	if !explicit["proxies"] {
		if v, ok := os.LookupEnv("PROXIES"); ok && v != "" {
			cfg.Proxies = strings.Split(v, ",")
		}
	}
	if !explicit["debug"] {
		if v, ok := os.LookupEnv("DEBUG"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: DEBUG=%q: %w", v, err)
			}
			cfg.Debug = b
		}
	}
	if !explicit["suffix"] {
		if v, ok := os.LookupEnv("SUFFIX"); ok {
			cfg.Suffix = v
		}
	}
	if !explicit["batch-size"] {
		if v, ok := os.LookupEnv("BATCH_SIZE"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: BATCH_SIZE=%q: %w", v, err)
			}
			cfg.BatchSize = n
		}
	}
	return nil
}

// ManagerConfig holds every recognized Manager option.
type ManagerConfig struct {
	ListenAddr   string
	DBDriver     string
	DBDSN        string
	CatalogPath  string
	CacheMaxSize int
	CacheShards  int
	MetricsAddr  string
}

// DefaultManagerConfig returns the Manager's defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ListenAddr:   ":8080",
		DBDriver:     "sqlite3",
		DBDSN:        "ctfleet.db",
		CacheMaxSize: 50000,
		CacheShards:  64,
		MetricsAddr:  ":9090",
	}
}

// BindManagerFlags registers Manager flags on fs.
func BindManagerFlags(fs *pflag.FlagSet, cfg *ManagerConfig) {
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "Address to serve the control API on")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "SQL driver: sqlite3, mysql, or postgres")
	fs.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "SQL data source name")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Path to the CT log catalog YAML file")
	fs.IntVar(&cfg.CacheMaxSize, "cache-max-size", cfg.CacheMaxSize, "Duplicate-suppression cache capacity")
	fs.IntVar(&cfg.CacheShards, "cache-shards", cfg.CacheShards, "Number of dedupe cache shards")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Address to serve /metrics on")
}

// ApplyManagerEnv fills CacheMaxSize from CACHE_MAX_SIZE per spec.md
// §6, unless it was set explicitly on the command line.
func ApplyManagerEnv(cfg *ManagerConfig, explicit map[string]bool) error {
	if !explicit["cache-max-size"] {
		if v, ok := os.LookupEnv("CACHE_MAX_SIZE"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: CACHE_MAX_SIZE=%q: %w", v, err)
			}
			cfg.CacheMaxSize = n
		}
	}
	return nil
}

// ExplicitFlags returns the set of flag names the user passed on the
// command line, so env application can tell "left at default" apart
// from "explicitly set to the default value".
func ExplicitFlags(fs *pflag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = true })
	return set
}
