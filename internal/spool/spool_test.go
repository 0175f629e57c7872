package spool

import (
	"context"
	"errors"
	"testing"

	"github.com/ctfleet/ctfleet/internal/model"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteThenListThenLoad(t *testing.T) {
	s := newTestSpool(t)
	u := model.PendingUpload{WorkerName: "worker-a", LogName: "argon2024"}

	path, err := s.Write(u)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	paths, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 1 || paths[0] != path {
		t.Fatalf("List() = %v, want [%s]", paths, path)
	}

	loaded, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.WorkerName != u.WorkerName || loaded.LogName != u.LogName {
		t.Fatalf("Load() = %+v, want WorkerName=%s LogName=%s", loaded, u.WorkerName, u.LogName)
	}
}

func TestReapRemovesSuccessfullyUploadedFiles(t *testing.T) {
	s := newTestSpool(t)
	s.Write(model.PendingUpload{WorkerName: "worker-a"})
	s.Write(model.PendingUpload{WorkerName: "worker-b"})

	drained, remaining, err := s.Reap(context.Background(), func(ctx context.Context, u model.PendingUpload) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if drained != 2 || remaining != 0 {
		t.Fatalf("Reap() = drained=%d remaining=%d, want 2,0", drained, remaining)
	}

	paths, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("List() after full reap = %v, want empty", paths)
	}
}

func TestReapLeavesFailedUploadsInPlace(t *testing.T) {
	s := newTestSpool(t)
	s.Write(model.PendingUpload{WorkerName: "worker-a"})
	s.Write(model.PendingUpload{WorkerName: "worker-b"})

	calls := 0
	drained, remaining, err := s.Reap(context.Background(), func(ctx context.Context, u model.PendingUpload) error {
		calls++
		if u.WorkerName == "worker-a" {
			return nil
		}
		return errors.New("manager unreachable")
	})
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if drained != 1 || remaining != 1 {
		t.Fatalf("Reap() = drained=%d remaining=%d, want 1,1", drained, remaining)
	}

	paths, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("List() after partial reap = %v, want 1 remaining file", paths)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := newTestSpool(t)
	path, err := s.Write(model.PendingUpload{WorkerName: "worker-a"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Remove(path); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := s.Remove(path); err != nil {
		t.Fatalf("second Remove (already gone): %v", err)
	}
}
