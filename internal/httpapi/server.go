package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Scheduler is the slice of the invoker the API layer needs: arm a check
// when a reminder is created or re-timed, drop it when the reminder stops
// mattering.
type Scheduler interface {
	Schedule(id string, at time.Time)
	Cancel(id string)
}

// Config controls the HTTP API server.
type Config struct {
	Enabled      bool
	Addr         string // default ":8080"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Window bounds applied at create/update time.
	MinLead time.Duration
	MaxLead time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Server is the CRUD surface over the reminder store. It never runs
// execution logic; the engine owns all lifecycle transitions except the
// user-driven acknowledgment handled here.
type Server struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	sched Scheduler
	bus   eventbus.Bus
	log   logx.Logger

	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, store storage.Store, sched Scheduler, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), store: store, sched: sched, bus: bus, log: log}
}

// Apply updates the window bounds (config hot reload). Addr changes require
// a restart and are ignored here.
func (s *Server) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg.MinLead = cfg.MinLead
	s.cfg.MaxLead = cfg.MaxLead
	s.mu.Unlock()
}

func (s *Server) window() (time.Duration, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MinLead, s.cfg.MaxLead
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	s.routes(mux)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.srv = srv
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logx.Err(err))
		}
	}()
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}

// Addr reports the bound listen address ("" when not started). Useful in
// tests with ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /reminders", s.handleCreate)
	mux.HandleFunc("GET /reminders", s.handleList)
	mux.HandleFunc("GET /reminders/{id}", s.handleGet)
	mux.HandleFunc("PUT /reminders/{id}", s.handleUpdate)
	mux.HandleFunc("POST /reminders/{id}/ack", s.handleAck)
	mux.HandleFunc("DELETE /reminders/{id}", s.handleDelete)
}
