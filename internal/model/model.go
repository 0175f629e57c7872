// Package model defines the data types shared by the Manager and Worker:
// the CT log catalog, job ranges, assignments, certificates, and the
// fingerprint used for duplicate suppression.
package model

import (
	"fmt"
	"strings"
	"time"
)

// CtLog is a catalog entry for a single public CT log.
type CtLog struct {
	LogName  string
	LogURL   string
	Category string
	TreeSize int64
	Active   bool
}

// RangeState is the lifecycle state of a JobRange.
type RangeState string

const (
	RangePending  RangeState = "PENDING"
	RangeRunning  RangeState = "RUNNING"
	RangeStalled  RangeState = "STALLED"
	RangeComplete RangeState = "COMPLETE"
	RangeFailed   RangeState = "FAILED"
)

// JobRange is a half-open index window [Start, End) over one CtLog.
type JobRange struct {
	LogName           string
	Start             int64
	End               int64
	Current           int64
	LastUploadedIndex int64
	State             RangeState
	ChunkWidth        int64
}

// ID returns the tuple that identifies a JobRange uniquely.
func (r JobRange) ID() RangeID {
	return RangeID{LogName: r.LogName, Start: r.Start, End: r.End}
}

// RangeID identifies a JobRange by its (log, start, end) tuple.
type RangeID struct {
	LogName string
	Start   int64
	End     int64
}

func (id RangeID) String() string {
	return fmt.Sprintf("%s[%d,%d)", id.LogName, id.Start, id.End)
}

// WorkerAssignment binds one JobRange to one worker identity.
type WorkerAssignment struct {
	RangeID         RangeID
	WorkerName      string
	AssignedAt      time.Time
	LastHeartbeatAt time.Time
}

// CertFingerprint is the 5-tuple used to decide certificate identity for
// duplicate suppression. Serial numbers are canonical decimal strings;
// NotBefore/NotAfter are truncated to one-second resolution UTC.
type CertFingerprint struct {
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	CommonName   string
}

// Key returns a stable string encoding suitable for hashing and map keys.
func (f CertFingerprint) Key() string {
	var b strings.Builder
	b.WriteString(f.Issuer)
	b.WriteByte('\x00')
	b.WriteString(f.SerialNumber)
	b.WriteByte('\x00')
	b.WriteString(f.NotBefore.UTC().Truncate(time.Second).Format(time.RFC3339))
	b.WriteByte('\x00')
	b.WriteString(f.NotAfter.UTC().Truncate(time.Second).Format(time.RFC3339))
	b.WriteByte('\x00')
	b.WriteString(f.CommonName)
	return b.String()
}

// Certificate is a persisted record of one accepted CT entry.
type Certificate struct {
	ID          int64
	CtEntry     []byte
	LogURL      string
	LogName     string
	WorkerName  string
	CtIndex     int64
	IPAddress   string
	Fingerprint CertFingerprint
}

// PendingUpload is a serialized batch saved locally by a worker when an
// upload to the Manager fails.
type PendingUpload struct {
	Path       string
	Certs      []Certificate
	WorkerName string
	LogName    string
}

// CacheStats reports duplicate-suppression cache counters.
type CacheStats struct {
	CacheSize     int
	MaxSize       int
	HitCount      int64
	MissCount     int64
	TotalRequests int64
	HitRate       float64
}
