// Package spool implements a worker's local failed-upload spool
// (SPEC_FULL.md §4.6): on upload failure a batch is written to disk
// verbatim, and a background reaper periodically retries delivering
// spooled batches to the Manager.
//
// Grounded on FsStorage in the wider example pack's
// internal/ctsubmit/storage.go: write-with-mkdir-on-miss for Set,
// os.ReadFile/os.Remove for drain, generalized from a content-addressed
// blob store to a directory of timestamped pending-upload files.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/ctfleet/ctfleet/internal/model"
)

// Spool is a worker-local directory of pending-upload files awaiting
// re-delivery to the Manager.
type Spool struct {
	dir string
}

// New creates a Spool rooted at dir, creating it if necessary.
func New(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: mkdir %s: %w", dir, err)
	}
	return &Spool{dir: dir}, nil
}

// Write persists upload verbatim to a new file named
// upload_failure_<ts>_<rand>.json and returns its path.
func (s *Spool) Write(upload model.PendingUpload) (string, error) {
	name := fmt.Sprintf("upload_failure_%d_%d.json", time.Now().UnixNano(), rand.Int63())
	path := filepath.Join(s.dir, name)

	data, err := json.Marshal(upload)
	if err != nil {
		return "", fmt.Errorf("spool: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("spool: write %s: %w", path, err)
	}
	return path, nil
}

// List returns the paths of every spooled file, in a stable
// (filename-sorted) but not upload-ordered sequence: spec.md §4.6
// guarantees no ordering across spooled files.
func (s *Spool) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("spool: readdir %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.dir, n)
	}
	return paths, nil
}

// Count returns the number of files currently spooled, for backpressure
// checks and the SpoolFiles gauge.
func (s *Spool) Count() (int, error) {
	names, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Load reads and decodes the PendingUpload stored at path.
func (s *Spool) Load(path string) (model.PendingUpload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.PendingUpload{}, fmt.Errorf("spool: read %s: %w", path, err)
	}
	var u model.PendingUpload
	if err := json.Unmarshal(data, &u); err != nil {
		return model.PendingUpload{}, fmt.Errorf("spool: decode %s: %w", path, err)
	}
	u.Path = path
	return u, nil
}

// Remove deletes the spooled file at path after a successful re-upload.
func (s *Spool) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("spool: remove %s: %w", path, err)
	}
	return nil
}

// UploadFunc delivers a PendingUpload's certs to the Manager.
type UploadFunc func(ctx context.Context, u model.PendingUpload) error

// Reap drains the spool once, calling upload for every file in
// turn and removing it on success. Failures are left in place for
// the next reap cycle.
func (s *Spool) Reap(ctx context.Context, upload UploadFunc) (drained, remaining int, err error) {
	paths, err := s.List()
	if err != nil {
		return 0, 0, err
	}
	for _, p := range paths {
		u, err := s.Load(p)
		if err != nil {
			klog.Warningf("spool: skipping unreadable file %s: %v", p, err)
			remaining++
			continue
		}
		if err := upload(ctx, u); err != nil {
			klog.V(1).Infof("spool: re-upload of %s still failing: %v", p, err)
			remaining++
			continue
		}
		if err := s.Remove(p); err != nil {
			klog.Warningf("spool: %s uploaded but could not remove: %v", p, err)
		}
		drained++
	}
	return drained, remaining, nil
}

// RunReaper starts a goroutine that calls Reap once at startup and
// then every interval, until ctx is cancelled.
func RunReaper(ctx context.Context, s *Spool, interval time.Duration, upload UploadFunc) {
	go func() {
		reapOnce := func() {
			drained, remaining, err := s.Reap(ctx, upload)
			if err != nil {
				klog.Warningf("spool: reap failed: %v", err)
				return
			}
			if drained > 0 || remaining > 0 {
				klog.V(1).Infof("spool: reap drained=%d remaining=%d", drained, remaining)
			}
		}

		reapOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reapOnce()
			}
		}
	}()
}
