package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/ctfleet/ctfleet/internal/dedupe"
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

func cert(serial string) model.Certificate {
	return model.Certificate{
		CtEntry:    []byte("leaf-" + serial),
		LogURL:     "https://ct.example/argon2024/",
		LogName:    "argon2024",
		WorkerName: "worker-a",
		CtIndex:    1,
		Fingerprint: model.CertFingerprint{
			Issuer:       "CN=Test Root CA",
			SerialNumber: serial,
			NotBefore:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			NotAfter:     time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
			CommonName:   "example.jp",
		},
	}
}

func TestUploadInsertsNewRecords(t *testing.T) {
	s := newTestStore(t)
	p := New(dedupe.New(1000, 8), s)

	res, err := p.Upload(context.Background(), []model.Certificate{cert("1"), cert("2"), cert("3")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Inserted != 3 || res.Duplicates != 0 || res.Failures != 0 {
		t.Fatalf("Upload() = %+v, want {3 0 0}", res)
	}
	n, err := s.CountCerts(context.Background())
	if err != nil {
		t.Fatalf("CountCerts: %v", err)
	}
	if n != 3 {
		t.Fatalf("CountCerts() = %d, want 3", n)
	}
}

func TestUploadSameBatchTwiceIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	p := New(dedupe.New(1000, 8), s)
	batch := []model.Certificate{cert("10"), cert("11"), cert("12"), cert("13"), cert("14")}

	first, err := p.Upload(context.Background(), batch)
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	if first.Inserted != 5 {
		t.Fatalf("first Upload inserted = %d, want 5", first.Inserted)
	}

	second, err := p.Upload(context.Background(), batch)
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if second.Inserted != 0 || second.Duplicates != 5 {
		t.Fatalf("second Upload() = %+v, want {0 5 0}", second)
	}

	n, err := s.CountCerts(context.Background())
	if err != nil {
		t.Fatalf("CountCerts: %v", err)
	}
	if n != 5 {
		t.Fatalf("CountCerts() after re-upload = %d, want 5 (idempotent)", n)
	}
}

func TestUploadRejectsOversizedBatch(t *testing.T) {
	s := newTestStore(t)
	p := New(dedupe.New(1000, 8), s)

	batch := make([]model.Certificate, MaxBatchSize+1)
	for i := range batch {
		batch[i] = cert(string(rune('a' + i)))
	}
	_, err := p.Upload(context.Background(), batch)
	if err != ErrBatchTooLarge {
		t.Fatalf("Upload() err = %v, want ErrBatchTooLarge", err)
	}
}

func TestUploadFallsBackToStepwiseOnRacingDuplicate(t *testing.T) {
	s := newTestStore(t)
	cache := dedupe.New(1000, 8)
	p := New(cache, s)

	c := cert("racing")
	// Simulate a racing worker having already persisted this exact
	// fingerprint, bypassing this cache instance (e.g. a second Manager
	// process), so the bulk insert will violate the unique index while
	// the dedupe cache still reports it as new.
	if err := s.InsertCertOne(context.Background(), c); err != nil {
		t.Fatalf("seed InsertCertOne: %v", err)
	}

	res, err := p.Upload(context.Background(), []model.Certificate{c, cert("fresh")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	// The bulk insert fails because "racing" collides; step-wise fallback
	// then inserts "fresh" and counts "racing" as a duplicate, leaving its
	// cache entry alone.
	if res.Inserted != 1 {
		t.Fatalf("Inserted = %d, want 1", res.Inserted)
	}
	if res.Duplicates != 1 {
		t.Fatalf("Duplicates = %d, want 1", res.Duplicates)
	}
	if res.Failures != 0 {
		t.Fatalf("Failures = %d, want 0", res.Failures)
	}
}
