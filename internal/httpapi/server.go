// Package httpapi implements the Manager's HTTP control surface:
// the worker-facing job-coordination endpoints of spec.md §6, plus
// the supplemented admin/metrics/healthz endpoints of SPEC_FULL.md
// §4.7.
//
// Grounded on trillian/ctfe/instance.go's PathHandlers registration
// and requestlog.go's per-request structured logging, generalized
// from gRPC-backed CT-log-frontend handlers to a plain JSON REST API
// over gorilla/mux, with rs/cors for browser-facing admin tooling and
// tomasen/realip for recovering a worker's real address behind a
// proxy.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/tomasen/realip"
	"k8s.io/klog/v2"

	"github.com/ctfleet/ctfleet/internal/dedupe"
	"github.com/ctfleet/ctfleet/internal/ingest"
	"github.com/ctfleet/ctfleet/internal/jobs"
	"github.com/ctfleet/ctfleet/internal/metrics"
	"github.com/ctfleet/ctfleet/internal/storage"
)

// Server wires the Coordinator, ingestion Pipeline and dedupe Cache
// to the Manager's HTTP API.
type Server struct {
	coord   *jobs.Coordinator
	ingest  *ingest.Pipeline
	cache   *dedupe.Cache
	store   *storage.Store
	metrics *metrics.Registry
	started time.Time
}

// New creates a Server. store is used directly by the read-only admin
// endpoints (log listing, range listing) that have no home on
// Coordinator itself. reg may be nil, in which case a fresh
// metrics.New() Registry is used.
func New(coord *jobs.Coordinator, pipeline *ingest.Pipeline, cache *dedupe.Cache, store *storage.Store, reg *metrics.Registry) *Server {
	if reg == nil {
		reg = metrics.New()
	}
	return &Server{coord: coord, ingest: pipeline, cache: cache, store: store, metrics: reg, started: time.Now()}
}

func (s *Server) metricsHandler() http.Handler {
	return s.metrics.Handler()
}

// Handler returns the fully-routed, CORS-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogMiddleware)

	worker := r.PathPrefix("/api/worker").Subrouter()
	worker.HandleFunc("/acquire", s.handleAcquire).Methods(http.MethodPost)
	worker.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	worker.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	worker.HandleFunc("/uploaded", s.handleUploaded).Methods(http.MethodPost)
	worker.HandleFunc("/complete", s.handleComplete).Methods(http.MethodPost)
	worker.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost)
	worker.HandleFunc("/error", s.handleError).Methods(http.MethodPost)

	cacheAPI := r.PathPrefix("/api/cache").Subrouter()
	cacheAPI.HandleFunc("/stats", s.handleCacheStats).Methods(http.MethodGet)
	cacheAPI.HandleFunc("/clear", s.handleCacheClear).Methods(http.MethodPost)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/logs", s.handleListLogs).Methods(http.MethodGet)
	admin.HandleFunc("/logs/{name}/active", s.handleSetLogActive).Methods(http.MethodPost)
	admin.HandleFunc("/logs/{name}/partition", s.handlePartitionLog).Methods(http.MethodPost)
	admin.HandleFunc("/logs/{name}/ranges", s.handleListRanges).Methods(http.MethodGet)
	admin.HandleFunc("/reap", s.handleReap).Methods(http.MethodPost)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)
		klog.V(1).Infof("httpapi: %s %s from=%s status=%d took=%s",
			req.Method, req.URL.Path, realip.FromRequest(req), sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
