// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/lossbench/ratelimit"
)

const maxRequestBody = 4 << 10

// ServerConfig holds HTTP control server configuration.
type ServerConfig struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Server exposes health, progress and migration endpoints over HTTP.
type Server struct {
	config     ServerConfig
	runner     Runner
	dispatcher *Dispatcher
	logger     *slog.Logger
	server     *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new control server. A nil dispatcher disables
// POST /migrate.
func NewServer(cfg ServerConfig, r Runner, d *Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		config:     cfg,
		runner:     r,
		dispatcher: d,
		logger:     logger,
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: DefaultMigrateTimeout + 5*time.Second,
	}

	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/migrate", s.handleMigrate)
	return mux
}

// Addr returns the listener's network address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen serves until ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Starting control server", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Control server shutdown error", "error", err)
			return err
		}

		s.logger.Info("Control server stopped")
		return nil
	}
}

type statusResponse struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "healthy"})
}

// handleReady returns 200 once traffic flows.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := s.runner.Progress().State
	if !s.runner.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "not_ready", State: state})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ready", State: state})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Progress())
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.dispatcher == nil {
		writeJSON(w, http.StatusNotImplemented, Response{Error: ErrNoHandler.Error()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
		return
	}
	req, err := ParseRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	conn, err := s.dispatcher.Migrate(r.Context(), "http:"+ratelimit.Host(r.RemoteAddr), req.URL)
	switch {
	case errors.Is(err, ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, response(nil, err))
	case err != nil:
		writeJSON(w, http.StatusBadGateway, response(nil, err))
	default:
		writeJSON(w, http.StatusOK, response(conn, nil))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
