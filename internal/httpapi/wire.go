package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

type acquireRequest struct {
	WorkerName string `json:"worker_name"`
	Category   string `json:"category"`
}

type acquireResponse struct {
	None    bool   `json:"none"`
	LogName string `json:"log_name,omitempty"`
	LogURL  string `json:"log_url,omitempty"`
	Start   int64  `json:"start,omitempty"`
	End     int64  `json:"end,omitempty"`
	Current int64  `json:"current,omitempty"`
}

type heartbeatRequest struct {
	WorkerName string `json:"worker_name"`
	LogName    string `json:"log_name"`
	Start      int64  `json:"start"`
	Current    int64  `json:"current"`
}

type uploadRecord struct {
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

type uploadResponse struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failures   int `json:"failures"`
}

type uploadedRequest struct {
	WorkerName        string `json:"worker_name"`
	LogName           string `json:"log_name"`
	Start             int64  `json:"start"`
	LastUploadedIndex int64  `json:"last_uploaded_index"`
}

type completeRequest struct {
	WorkerName string `json:"worker_name"`
	LogName    string `json:"log_name"`
	Start      int64  `json:"start"`
}

type resumeRequest struct {
	WorkerName string `json:"worker_name"`
	LogName    string `json:"log_name"`
	Start      int64  `json:"start"`
	Current    int64  `json:"current"`
}

type errorReportRequest struct {
	WorkerName string `json:"worker_name"`
	LogName    string `json:"log_name"`
	Start      int64  `json:"start"`
	Message    string `json:"message"`
}

type cacheStatsResponse struct {
	CacheSize     int     `json:"cache_size"`
	MaxSize       int     `json:"max_size"`
	HitCount      int64   `json:"hit_count"`
	MissCount     int64   `json:"miss_count"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
}
