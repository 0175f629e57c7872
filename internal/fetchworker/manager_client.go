// Package fetchworker implements the Worker side of SPEC_FULL.md §4.4:
// the per-category IDLE → ACQUIRE → FETCH → PARSE → BUFFER → UPLOAD?
// → COMPLETE/ERROR/RESUME state machine, grounded directly on
// scanner/fetcher.go's Fetcher: its genRanges/runWorker shape becomes
// a goroutine that calls the Manager's acquire endpoint instead of
// running a local continuous range generator, and its per-request
// backoff is reused via internal/ctclient.
package fetchworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ctfleet/ctfleet/internal/model"
)

// ManagerClient is the worker-side HTTP client for the Manager API of
// spec.md §6.
type ManagerClient struct {
	baseURL string
	http    *http.Client
}

// NewManagerClient creates a ManagerClient posting to baseURL over hc.
func NewManagerClient(baseURL string, hc *http.Client) *ManagerClient {
	return &ManagerClient{baseURL: baseURL, http: hc}
}

type acquireRequest struct {
	WorkerName string `json:"worker_name"`
	Category   string `json:"category"`
}

// AcquireResult is the decoded /api/worker/acquire response.
type AcquireResult struct {
	None    bool   `json:"none"`
	LogName string `json:"log_name"`
	LogURL  string `json:"log_url"`
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Current int64  `json:"current"`
}

// Acquire calls POST /api/worker/acquire.
func (m *ManagerClient) Acquire(ctx context.Context, workerName, category string) (AcquireResult, error) {
	var out AcquireResult
	err := m.post(ctx, "/api/worker/acquire", acquireRequest{WorkerName: workerName, Category: category}, &out)
	return out, err
}

type heartbeatRequest struct {
	WorkerName string `json:"worker_name"`
	LogName    string `json:"log_name"`
	Start      int64  `json:"start"`
	Current    int64  `json:"current"`
}

// Heartbeat calls POST /api/worker/heartbeat.
func (m *ManagerClient) Heartbeat(ctx context.Context, workerName, logName string, start, current int64) error {
	return m.post(ctx, "/api/worker/heartbeat", heartbeatRequest{workerName, logName, start, current}, nil)
}

// UploadRecord is one element of the /api/worker/upload request body.
// The fingerprint fields travel alongside the raw entry so the Manager
// can dedupe without re-parsing ct_entry itself.
type UploadRecord struct {
	CtEntry      []byte    `json:"ct_entry"`
	CtLogURL     string    `json:"ct_log_url"`
	LogName      string    `json:"log_name"`
	WorkerName   string    `json:"worker_name"`
	CtIndex      int64     `json:"ct_index"`
	IPAddress    string    `json:"ip_address"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	CommonName   string    `json:"common_name"`
}

// UploadResult is the decoded /api/worker/upload response.
type UploadResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failures   int `json:"failures"`
}

// Upload calls POST /api/worker/upload with up to 32 records.
func (m *ManagerClient) Upload(ctx context.Context, records []UploadRecord) (UploadResult, error) {
	var out UploadResult
	err := m.post(ctx, "/api/worker/upload", records, &out)
	return out, err
}

// UploadCertificates converts certs to the wire format and uploads
// them, for callers (e.g. the spool reaper) that hold parsed
// model.Certificate values directly.
func (m *ManagerClient) UploadCertificates(ctx context.Context, certs []model.Certificate, workerName string) (UploadResult, error) {
	return m.Upload(ctx, toUploadRecords(certs, workerName))
}

type uploadedRequest struct {
	WorkerName        string `json:"worker_name"`
	LogName           string `json:"log_name"`
	Start             int64  `json:"start"`
	LastUploadedIndex int64  `json:"last_uploaded_index"`
}

// AdvanceUploaded calls POST /api/worker/uploaded, advancing the
// Manager's durable record of the highest index this worker has
// actually uploaded for this range (spec.md §4.4).
func (m *ManagerClient) AdvanceUploaded(ctx context.Context, workerName, logName string, start, lastUploadedIndex int64) error {
	return m.post(ctx, "/api/worker/uploaded", uploadedRequest{workerName, logName, start, lastUploadedIndex}, nil)
}

type completeRequest struct {
	WorkerName string `json:"worker_name"`
	LogName    string `json:"log_name"`
	Start      int64  `json:"start"`
}

// Complete calls POST /api/worker/complete.
func (m *ManagerClient) Complete(ctx context.Context, workerName, logName string, start int64) error {
	return m.post(ctx, "/api/worker/complete", completeRequest{workerName, logName, start}, nil)
}

type resumeRequest struct {
	WorkerName string `json:"worker_name"`
	LogName    string `json:"log_name"`
	Start      int64  `json:"start"`
	Current    int64  `json:"current"`
}

// Resume calls POST /api/worker/resume.
func (m *ManagerClient) Resume(ctx context.Context, workerName, logName string, start, current int64) error {
	return m.post(ctx, "/api/worker/resume", resumeRequest{workerName, logName, start, current}, nil)
}

type errorReport struct {
	WorkerName string `json:"worker_name"`
	LogName    string `json:"log_name"`
	Start      int64  `json:"start"`
	Message    string `json:"message"`
}

// ReportError calls POST /api/worker/error.
func (m *ManagerClient) ReportError(ctx context.Context, workerName, logName string, start int64, message string) error {
	return m.post(ctx, "/api/worker/error", errorReport{workerName, logName, start, message}, nil)
}

func (m *ManagerClient) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("fetchworker: marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("fetchworker: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetchworker: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return fmt.Errorf("fetchworker: %s: batch rejected as too large (413)", path)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("fetchworker: %s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// toUploadRecords converts parsed certificates into the wire shape
// /api/worker/upload expects.
func toUploadRecords(certs []model.Certificate, workerName string) []UploadRecord {
	out := make([]UploadRecord, len(certs))
	for i, c := range certs {
		out[i] = UploadRecord{
			CtEntry:      c.CtEntry,
			CtLogURL:     c.LogURL,
			LogName:      c.LogName,
			WorkerName:   workerName,
			CtIndex:      c.CtIndex,
			IPAddress:    c.IPAddress,
			Issuer:       c.Fingerprint.Issuer,
			SerialNumber: c.Fingerprint.SerialNumber,
			NotBefore:    c.Fingerprint.NotBefore,
			NotAfter:     c.Fingerprint.NotAfter,
			CommonName:   c.Fingerprint.CommonName,
		}
	}
	return out
}
