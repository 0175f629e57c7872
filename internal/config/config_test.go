package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestBindWorkerFlagsParsesCLIOverridesDefaults(t *testing.T) {
	cfg := DefaultWorkerConfig()
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	BindWorkerFlags(fs, &cfg)

	if err := fs.Parse([]string{"--manager-url=https://manager.example", "--batch-size=16"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ResolveWorkerFlags(&cfg)

	if cfg.ManagerURL != "https://manager.example" {
		t.Fatalf("ManagerURL = %q, want https://manager.example", cfg.ManagerURL)
	}
	if cfg.BatchSize != 16 {
		t.Fatalf("BatchSize = %d, want 16", cfg.BatchSize)
	}
	if cfg.Suffix != ".jp" {
		t.Fatalf("Suffix = %q, want unchanged default .jp", cfg.Suffix)
	}
}

func TestResolveWorkerFlagsSplitsProxies(t *testing.T) {
	cfg := DefaultWorkerConfig()
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	BindWorkerFlags(fs, &cfg)

	if err := fs.Parse([]string{"--proxies=http://proxy-a:8080,http://proxy-b:8080"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ResolveWorkerFlags(&cfg)

	if len(cfg.Proxies) != 2 || cfg.Proxies[0] != "http://proxy-a:8080" {
		t.Fatalf("Proxies = %v, want two parsed proxy URLs", cfg.Proxies)
	}
}

func TestApplyWorkerEnvSkipsExplicitFlags(t *testing.T) {
	cfg := DefaultWorkerConfig()
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	BindWorkerFlags(fs, &cfg)

	if err := fs.Parse([]string{"--suffix=.com"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ResolveWorkerFlags(&cfg)
	explicit := ExplicitFlags(fs)

	t.Setenv("SUFFIX", ".net")
	t.Setenv("WORKER_NAME", "worker-from-env")

	if err := ApplyWorkerEnv(&cfg, explicit); err != nil {
		t.Fatalf("ApplyWorkerEnv: %v", err)
	}
	if cfg.Suffix != ".com" {
		t.Fatalf("Suffix = %q, want explicit flag .com to win over env", cfg.Suffix)
	}
	if cfg.WorkerName != "worker-from-env" {
		t.Fatalf("WorkerName = %q, want value from WORKER_NAME env var", cfg.WorkerName)
	}
}

func TestApplyManagerEnvParsesCacheMaxSize(t *testing.T) {
	cfg := DefaultManagerConfig()
	fs := pflag.NewFlagSet("manager", pflag.ContinueOnError)
	BindManagerFlags(fs, &cfg)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	t.Setenv("CACHE_MAX_SIZE", "12345")
	if err := ApplyManagerEnv(&cfg, ExplicitFlags(fs)); err != nil {
		t.Fatalf("ApplyManagerEnv: %v", err)
	}
	if cfg.CacheMaxSize != 12345 {
		t.Fatalf("CacheMaxSize = %d, want 12345", cfg.CacheMaxSize)
	}
}
