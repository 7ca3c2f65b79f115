// Package server provides the HTTP REST API for a Muninn brain.
//
// One server wraps one brain. The brain itself is single threaded, so every
// handler that touches it runs under the server's mutex; concurrent clients
// are serialized, not rejected.
//
// Endpoints:
//
//	GET  /health            liveness and brain counters (no auth)
//	POST /auth/token        exchange password for a bearer token (no auth)
//	POST /episode           run one episode (training when target present)
//	GET  /output            output of the most recent episode
//	GET  /pressures         controller pressures and learning rate
//	POST /save              write the brain to its file
//	POST /load              reload the brain from its file
//	POST /archive/snapshot  archive the current brain
//	GET  /archive/snapshots list archived snapshots
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/orneryd/muninn/pkg/archive"
	"github.com/orneryd/muninn/pkg/auth"
	"github.com/orneryd/muninn/pkg/cache"
	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/logging"
	"github.com/orneryd/muninn/pkg/muninn"
)

// maxRequestBody bounds episode payloads; inputs are short by nature.
const maxRequestBody = 1 << 20

// inferCacheSize bounds the inference result cache. Inference is
// deterministic between mutations, so cached results stay valid until the
// next training episode or load.
const inferCacheSize = 256

// Server serves one brain over HTTP.
type Server struct {
	cfg  config.ServerConfig
	auth *auth.Authenticator

	mu        sync.Mutex
	brain     *muninn.Brain
	brainPath string
	snapshots *archive.Store // optional
	inferred  *cache.InferCache

	httpServer *http.Server
}

// New creates a server around brain. brainPath is where /save and /load
// operate. snapshots may be nil to disable the archive endpoints.
func New(cfg config.ServerConfig, brain *muninn.Brain, brainPath string, snapshots *archive.Store) (*Server, error) {
	authenticator, err := auth.New(cfg.Password)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		auth:      authenticator,
		brain:     brain,
		brainPath: brainPath,
		snapshots: snapshots,
		inferred:  cache.NewInferCache(inferCacheSize, 0),
	}
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("POST /episode", s.handleEpisode)
	protected.HandleFunc("GET /output", s.handleOutput)
	protected.HandleFunc("GET /pressures", s.handlePressures)
	protected.HandleFunc("POST /save", s.handleSave)
	protected.HandleFunc("POST /load", s.handleLoad)
	protected.HandleFunc("POST /archive/snapshot", s.handleSnapshot)
	protected.HandleFunc("GET /archive/snapshots", s.handleListSnapshots)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/token", s.handleToken)
	mux.Handle("/", s.auth.Middleware(protected))
	return mux
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	logging.Info("http server listening", map[string]interface{}{
		"addr": s.httpServer.Addr,
		"auth": s.auth.Enabled(),
	})
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := map[string]interface{}{
		"status":   "ok",
		"nodes":    s.brain.NodeCount(),
		"edges":    s.brain.EdgeCount(),
		"patterns": s.brain.PatternCount(),
		"episodes": s.brain.Episodes(),
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.auth.Authenticate(req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// episodeRequest is a training episode when Target is non-nil, otherwise
// pure inference.
type episodeRequest struct {
	Input  string  `json:"input"`
	Target *string `json:"target"`
}

func (s *Server) handleEpisode(w http.ResponseWriter, r *http.Request) {
	var req episodeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// Inference leaves the brain's weights and patterns untouched, so a
	// cached response stays valid until the next training episode or load.
	if req.Target == nil {
		if body, ok := s.inferred.Get(req.Input); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(body))
			return
		}
	}

	s.mu.Lock()
	var output string
	if req.Target != nil {
		output = s.brain.Train(req.Input, *req.Target)
		s.inferred.Clear()
	} else {
		output = s.brain.Infer(req.Input)
	}
	resp := map[string]interface{}{
		"output":     output,
		"loop":       s.brain.LoopDetected(),
		"error_rate": s.brain.ErrorRate(),
		"pressures":  s.brain.Pressures(),
	}
	// Cache under the same lock so a concurrent training episode cannot
	// clear the cache and then have this stale result re-inserted.
	if req.Target == nil {
		if body, err := json.Marshal(resp); err == nil {
			s.inferred.Put(req.Input, string(body))
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	output := s.brain.Output()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"output": output})
}

func (s *Server) handlePressures(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := map[string]interface{}{
		"pressures":     s.brain.Pressures(),
		"error_rate":    s.brain.ErrorRate(),
		"learning_rate": s.brain.LearningRate(),
		"episodes":      s.brain.Episodes(),
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	err := s.brain.Save(s.brainPath)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"saved": s.brainPath})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	brain, diags, err := muninn.Load(s.brainPath)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, muninn.ErrBrainNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}

	s.mu.Lock()
	s.brain = brain
	s.inferred.Clear()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loaded":      s.brainPath,
		"diagnostics": len(diags),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusNotImplemented, errors.New("archive not configured"))
		return
	}

	s.mu.Lock()
	var buf bytes.Buffer
	err := s.brain.SaveTo(&buf)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	snap, err := s.snapshots.Put("default", buf.Bytes())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusNotImplemented, errors.New("archive not configured"))
		return
	}
	snaps, err := s.snapshots.List("default")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": snaps})
}
