package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"k8s.io/klog/v2"
)

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	s.metrics.CacheSize.Set(float64(stats.CacheSize))
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		CacheSize:     stats.CacheSize,
		MaxSize:       stats.MaxSize,
		HitCount:      stats.HitCount,
		MissCount:     stats.MissCount,
		TotalRequests: stats.TotalRequests,
		HitRate:       stats.HitRate,
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	s.metrics.CacheSize.Set(0)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type logSummary struct {
	LogName  string `json:"log_name"`
	LogURL   string `json:"log_url"`
	Category string `json:"category"`
	TreeSize int64  `json:"tree_size"`
	Active   bool   `json:"active"`
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListLogs(r.Context())
	if err != nil {
		klog.Warningf("httpapi: list logs: %v", err)
		writeError(w, http.StatusInternalServerError, "list logs failed")
		return
	}
	out := make([]logSummary, len(logs))
	for i, l := range logs {
		out[i] = logSummary{LogName: l.LogName, LogURL: l.LogURL, Category: l.Category, TreeSize: l.TreeSize, Active: l.Active}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePartitionLog(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	log, err := s.store.GetLog(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown log")
		return
	}
	n, err := s.coord.Partition(r.Context(), log)
	if err != nil {
		klog.Warningf("httpapi: partition %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "partition failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ranges_created": n})
}

type rangeSummary struct {
	Start             int64  `json:"start"`
	End               int64  `json:"end"`
	Current           int64  `json:"current"`
	LastUploadedIndex int64  `json:"last_uploaded_index"`
	State             string `json:"state"`
}

func (s *Server) handleListRanges(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ranges, err := s.store.ListRangesByLog(r.Context(), name)
	if err != nil {
		klog.Warningf("httpapi: list ranges %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "list ranges failed")
		return
	}
	out := make([]rangeSummary, len(ranges))
	for i, rg := range ranges {
		out[i] = rangeSummary{Start: rg.Start, End: rg.End, Current: rg.Current, LastUploadedIndex: rg.LastUploadedIndex, State: string(rg.State)}
	}
	writeJSON(w, http.StatusOK, out)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetLogActive(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, err := s.store.GetLog(r.Context(), name); err != nil {
		writeError(w, http.StatusNotFound, "unknown log")
		return
	}
	if err := s.store.SetLogActive(r.Context(), name, req.Active); err != nil {
		klog.Warningf("httpapi: set active %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	stalled, abandoned, err := s.coord.ReapStale(r.Context())
	if err != nil {
		klog.Warningf("httpapi: reap: %v", err)
		writeError(w, http.StatusInternalServerError, "reap failed")
		return
	}
	s.metrics.JobsStalled.Add(float64(stalled))
	s.metrics.JobsAbandoned.Add(float64(abandoned))
	writeJSON(w, http.StatusOK, map[string]int{"stalled": stalled, "abandoned": abandoned})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountCerts(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.started).String(),
		"cert_count":  count,
		"cache_size":  s.cache.Size(),
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}
