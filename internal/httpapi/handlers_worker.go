package httpapi

import (
	"errors"
	"net/http"

	"github.com/tomasen/realip"
	"k8s.io/klog/v2"

	"github.com/ctfleet/ctfleet/internal/ingest"
	"github.com/ctfleet/ctfleet/internal/jobs"
	"github.com/ctfleet/ctfleet/internal/model"
)

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rng, err := s.coord.Acquire(r.Context(), req.WorkerName, req.Category)
	if errors.Is(err, jobs.ErrNoWork) {
		writeJSON(w, http.StatusOK, acquireResponse{None: true})
		return
	}
	if err != nil {
		klog.Warningf("httpapi: acquire(%s,%s): %v", req.WorkerName, req.Category, err)
		writeError(w, http.StatusInternalServerError, "acquire failed")
		return
	}

	log, err := s.store.GetLog(r.Context(), rng.LogName)
	if err != nil {
		klog.Warningf("httpapi: acquire: lookup log %s: %v", rng.LogName, err)
		writeError(w, http.StatusInternalServerError, "acquire failed")
		return
	}

	s.metrics.JobsAcquired.Inc()
	writeJSON(w, http.StatusOK, acquireResponse{
		LogName: rng.LogName,
		LogURL:  log.LogURL,
		Start:   rng.Start,
		End:     rng.End,
		Current: rng.Current,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.coord.Heartbeat(r.Context(), req.WorkerName, req.LogName, req.Start, req.Current); err != nil {
		writeErrForOwnership(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var records []uploadRecord
	if err := decodeJSON(r, &records); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(records) > ingest.MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, ingest.ErrBatchTooLarge.Error())
		return
	}

	remoteIP := realip.FromRequest(r)
	certs := make([]model.Certificate, len(records))
	for i, rec := range records {
		ip := rec.IPAddress
		if ip == "" {
			ip = remoteIP
		}
		certs[i] = model.Certificate{
			CtEntry:    rec.CtEntry,
			LogURL:     rec.CtLogURL,
			LogName:    rec.LogName,
			WorkerName: rec.WorkerName,
			CtIndex:    rec.CtIndex,
			IPAddress:  ip,
			Fingerprint: model.CertFingerprint{
				Issuer:       rec.Issuer,
				SerialNumber: rec.SerialNumber,
				NotBefore:    rec.NotBefore,
				NotAfter:     rec.NotAfter,
				CommonName:   rec.CommonName,
			},
		}
	}

	res, err := s.ingest.Upload(r.Context(), certs)
	if errors.Is(err, ingest.ErrBatchTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		klog.Warningf("httpapi: upload: %v", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	s.metrics.ObserveUpload(res.Inserted, res.Duplicates, res.Failures)
	s.metrics.ObserveCache(res.CacheHits, res.CacheMisses)
	writeJSON(w, http.StatusOK, uploadResponse{
		Inserted:   res.Inserted,
		Duplicates: res.Duplicates,
		Failures:   res.Failures,
	})
}

func (s *Server) handleUploaded(w http.ResponseWriter, r *http.Request) {
	var req uploadedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.coord.AdvanceUploaded(r.Context(), req.WorkerName, req.LogName, req.Start, req.LastUploadedIndex); err != nil {
		writeErrForOwnership(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.coord.Complete(r.Context(), req.WorkerName, req.LogName, req.Start); err != nil {
		writeErrForOwnership(w, err)
		return
	}
	s.metrics.JobsCompleted.Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.coord.Resume(r.Context(), req.WorkerName, req.LogName, req.Start, req.Current); err != nil {
		writeErrForOwnership(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	var req errorReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	klog.Warningf("httpapi: worker %s reported error on %s@%d: %s", req.WorkerName, req.LogName, req.Start, req.Message)
	if err := s.coord.Fail(r.Context(), req.WorkerName, req.LogName, req.Start); err != nil {
		writeErrForOwnership(w, err)
		return
	}
	s.metrics.JobsFailed.Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeErrForOwnership(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrNotOwner) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	klog.Warningf("httpapi: %v", err)
	writeError(w, http.StatusInternalServerError, "request failed")
}
