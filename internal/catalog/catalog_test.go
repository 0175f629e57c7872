package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctfleet/ctfleet/internal/storage"
)

const sampleYAML = `
logs:
  - name: argon2024
    url: https://ct.googleapis.com/logs/argon2024/
    category: google
    active: true
  - name: sabre2024h2
    url: https://sabre2024h2.ct.sectigo.com/
    category: sectigo
    active: false
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesEntries(t *testing.T) {
	path := writeSample(t)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Logs) != 2 {
		t.Fatalf("len(f.Logs) = %d, want 2", len(f.Logs))
	}
	if f.Logs[0].Name != "argon2024" || !f.Logs[0].Active {
		t.Fatalf("f.Logs[0] = %+v, want argon2024 active", f.Logs[0])
	}
	if f.Logs[1].Active {
		t.Fatalf("f.Logs[1].Active = true, want false")
	}
}

func TestSeedUpsertsWithoutClobberingActiveOnResync(t *testing.T) {
	store, err := storage.Open(context.Background(), "sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	path := writeSample(t)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Seed(context.Background(), store, f); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if err := store.SetLogActive(context.Background(), "sabre2024h2", true); err != nil {
		t.Fatalf("SetLogActive: %v", err)
	}

	if err := Seed(context.Background(), store, f); err != nil {
		t.Fatalf("second Seed: %v", err)
	}

	l, err := store.GetLog(context.Background(), "sabre2024h2")
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if !l.Active {
		t.Fatalf("l.Active = false after resync, want operator's true to survive")
	}
}
