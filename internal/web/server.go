package web

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"trackfetch/internal/acquire"
	"trackfetch/internal/config"
	"trackfetch/internal/logger"
	"trackfetch/internal/track"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine is the acquisition surface the server drives.
type Engine interface {
	Acquire(ctx context.Context, req acquire.Request) acquire.Result
	Resolve(ctx context.Context, target track.Descriptor) (track.Outcome, error)
	ResolveAll(ctx context.Context, jobID string, reqs []acquire.Request, concurrency int) acquire.BatchResult
	Stream(ctx context.Context, c track.Candidate) (track.StreamResource, error)
	Invalidate(ctx context.Context, provider, ref string)
}

type Server struct {
	ctx    context.Context
	jobMgr *JobManager
	engine Engine
	config config.Config
	logger *logger.Logger
}

// NewServer creates a Server. Background jobs are cancelled with ctx.
func NewServer(ctx context.Context, jobMgr *JobManager, engine Engine, cfg config.Config, log *logger.Logger) *Server {
	return &Server{
		ctx:    ctx,
		jobMgr: jobMgr,
		engine: engine,
		config: cfg,
		logger: log.With("web"),
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/acquire", s.handleAcquire)
	mux.HandleFunc("POST /api/batch", s.handleBatch)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.handleRetryJob)
	mux.HandleFunc("POST /api/streams/resolve", s.handleStreamResolve)
	mux.HandleFunc("POST /api/streams/invalidate", s.handleStreamInvalidate)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s.loggingMiddleware(mux)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
