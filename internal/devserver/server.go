// Package devserver serves the simulated backend over HTTP, so the client
// can be exercised end to end without the real analysis service.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/logging"
	"github.com/trendreview/trendreview/internal/models"
	"github.com/trendreview/trendreview/internal/simulator"
)

const maxUploadBytes = 32 << 20

type handlerFunc func(http.ResponseWriter, *http.Request) error

// httpError carries a status code through a handler's error return.
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// Router maps the backend endpoints onto a simulator.Backend.
type Router struct {
	backend *simulator.Backend
	logger  *logging.Logger
}

// NewRouter returns the HTTP handler of the dev server.
func NewRouter(backend *simulator.Backend, logger *logging.Logger) http.Handler {
	r := &Router{backend: backend, logger: logger}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(r.logRequests)

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.Route("/api", func(rt chi.Router) {
		rt.Post("/process-csv", r.wrap(r.handleProcess))
		rt.Post("/save-processed-csv", r.wrap(r.handleSave))
		rt.Post("/run-analysis", r.wrap(r.handleRun))
		rt.Get("/analysis-status/{job_id}", r.wrap(r.handleStatus))
		rt.Get("/check-output-files", r.wrap(r.handleOutputFiles))
		rt.Get("/jobs", r.wrap(r.handleJobs))
	})
	mux.Get("/static/images/{name}", r.wrap(r.handleArtifact))
	mux.Get("/static/files/{name}", r.wrap(r.handleArtifact))

	return mux
}

// wrap turns handler errors into the backend's error envelope.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		code := http.StatusInternalServerError
		var he *httpError
		switch {
		case errors.As(err, &he):
			code = he.code
		case errors.Is(err, simulator.ErrBadRequest):
			code = http.StatusBadRequest
		case errors.Is(err, simulator.ErrNotFound):
			code = http.StatusNotFound
		}
		r.logger.Debug().Err(err).Int("code", code).Str("path", req.URL.Path).Msg("request failed")
		writeJSON(w, code, models.SubmitResponse{Status: models.StatusError, Error: err.Error()})
	}
}

func (r *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		r.logger.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// POST /api/process-csv (multipart "file")
func (r *Router) handleProcess(w http.ResponseWriter, req *http.Request) error {
	name, data, err := readUpload(w, req)
	if err != nil {
		return err
	}
	res, err := r.backend.Process(name, data)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, models.SubmitResponse{Status: models.StatusSuccess, Results: res})
	return nil
}

// POST /api/save-processed-csv (multipart "file")
func (r *Router) handleSave(w http.ResponseWriter, req *http.Request) error {
	name, data, err := readUpload(w, req)
	if err != nil {
		return err
	}
	stored, err := r.backend.Save(name, data)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, models.SubmitResponse{
		Status:   models.StatusSuccess,
		Message:  "selection saved",
		Filepath: stored,
	})
	return nil
}

// POST /api/run-analysis {"file": "...", "query": "..."}
func (r *Router) handleRun(w http.ResponseWriter, req *http.Request) error {
	var body models.RunAnalysisRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<20)).Decode(&body); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	id, err := r.backend.Run(body.File, body.Query)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, models.SubmitResponse{Status: models.StatusSuccess, JobID: id})
	return nil
}

// GET /api/analysis-status/{job_id}
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	st, err := r.backend.Status(chi.URLParam(req, "job_id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, st)
	return nil
}

// GET /api/check-output-files
func (r *Router) handleOutputFiles(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, r.backend.OutputFiles())
	return nil
}

// GET /api/jobs
func (r *Router) handleJobs(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string][]string{"jobs": r.backend.Jobs()})
	return nil
}

// GET /static/{images,files}/{name}
func (r *Router) handleArtifact(w http.ResponseWriter, req *http.Request) error {
	name := chi.URLParam(req, "name")
	data, ok := r.backend.Artifact(name)
	if !ok {
		return &httpError{code: http.StatusNotFound, msg: "no such file: " + name}
	}
	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(data)
	return err
}

func readUpload(w http.ResponseWriter, req *http.Request) (string, []byte, error) {
	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, badRequest("invalid multipart body: %v", err)
	}
	f, hdr, err := req.FormFile("file")
	if err != nil {
		return "", nil, badRequest("no file part in request")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, badRequest("read upload: %v", err)
	}
	return hdr.Filename, data, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".csv":
		return "text/csv"
	case ".md":
		return "text/markdown; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// Server is the dev server process.
type Server struct {
	srv    *http.Server
	logger *logging.Logger
}

// New creates a server on addr; an empty addr uses the default.
func New(addr string, backend *simulator.Backend, logger *logging.Logger) *Server {
	if addr == "" {
		addr = constants.DevServerAddr
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(backend, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("dev server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info().Msg("shutting down dev server")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
