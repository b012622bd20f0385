// Package statussrv serves a minimal read-only HTTP status endpoint for a
// running acquisition program: health, a snapshot of the last tick, and
// (when wired) the Prometheus metrics handler. Grounded on server.go's
// mux.NewRouter + gorilla/handlers middleware stack from the teacher.
package statussrv

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/epics-modules/sdds-core/pkg/log"
)

// Status is the read-only snapshot served at /status.
type Status struct {
	Program       string    `json:"program"`
	StartTime     time.Time `json:"startTime"`
	LastTick      time.Time `json:"lastTick"`
	Step          int       `json:"step"`
	BindingCount  int       `json:"bindingCount"`
	LastError     string    `json:"lastError,omitempty"`
	CapturesFired int       `json:"capturesFired"`
}

// Server serves /status and, when a metrics handler is attached,
// /metrics.
type Server struct {
	mu      sync.RWMutex
	status  Status
	mux     *mux.Router
	metrics http.Handler
}

// New builds a Server for the named program, started at the current
// time.
func New(program string) *Server {
	s := &Server{status: Status{Program: program, StartTime: time.Now()}}
	s.mux = mux.NewRouter()
	s.mux.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.PathPrefix("/metrics").HandlerFunc(s.handleMetrics)
	return s
}

// AttachMetrics wires a Prometheus HTTP handler under /metrics.
func (s *Server) AttachMetrics(h http.Handler) {
	s.mu.Lock()
	s.metrics = h
	s.mu.Unlock()
}

// Update replaces the served status snapshot; called from the main loop
// after each tick.
func (s *Server) Update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		log.Warnf("statussrv: encoding status failed: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.metrics
	s.mu.RUnlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}

// ListenAndServe binds addr and serves until the listener is closed or
// the process exits; errors other than a clean shutdown are returned.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	handler := handlers.CompressHandler(s.mux)
	handler = handlers.CustomLoggingHandler(io.Discard, handler, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Infof("statussrv: %s %s (%d)", params.Request.Method, params.URL.RequestURI(), params.StatusCode)
	})

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Infof("statussrv: listening at %s", addr)
	return srv.Serve(listener)
}
