/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api serves the read-only status view of the snapshot store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/carverauto/shackradar/pkg/logger"
	"github.com/carverauto/shackradar/pkg/state"
)

const (
	defaultListenAddr     = ":8080"
	defaultStreamInterval = 2 * time.Second

	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// ErrorResponse is the body written for every non-2xx reply.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Config controls the status server.
type Config struct {
	ListenAddr     string
	Domain         string
	StreamInterval time.Duration
	AllowedOrigins []string
}

// Server exposes the store over HTTP.
type Server struct {
	router         *mux.Router
	handler        http.Handler
	store          *state.Store
	logger         logger.Logger
	addr           string
	domain         string
	streamInterval time.Duration
	upgrader       *websocket.Upgrader
}

func NewServer(config Config, store *state.Store, log logger.Logger) *Server {
	if config.ListenAddr == "" {
		config.ListenAddr = defaultListenAddr
	}

	if config.StreamInterval <= 0 {
		config.StreamInterval = defaultStreamInterval
	}

	s := &Server{
		router:         mux.NewRouter(),
		store:          store,
		logger:         log,
		addr:           config.ListenAddr,
		domain:         config.Domain,
		streamInterval: config.StreamInterval,
		upgrader:       newUpgrader(config.AllowedOrigins),
	}

	s.setupRoutes()
	s.handler = loggingMiddleware(log)(corsMiddleware(config.AllowedOrigins)(s.router))

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/data.json", s.handleDataset).Methods(http.MethodGet)
	s.router.HandleFunc("/data.js", s.handleDatasetScript).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/hosts", s.handleHosts).Methods(http.MethodGet)
	api.HandleFunc("/hosts/{name}", s.handleHost).Methods(http.MethodGet)
	api.HandleFunc("/leases", s.handleLeases).Methods(http.MethodGet)
	api.HandleFunc("/occupants", s.handleOccupants).Methods(http.MethodGet)
	api.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler { return s.handler }

func (*Server) Name() string { return "api" }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Starting status API server")

		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status API server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status API server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleDataset(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, BuildDataset(s.store, s.domain))
}

// handleDatasetScript renders the dataset as JavaScript globals for the
// legacy frontend.
func (s *Server) handleDatasetScript(w http.ResponseWriter, _ *http.Request) {
	data := BuildDataset(s.store, s.domain)

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")

	_, _ = fmt.Fprintln(w, "// generated code")

	for _, v := range []struct {
		name  string
		value any
	}{
		{"DHCP", data.DHCP},
		{"Services", data.Services},
		{"Shackles", data.Shackles},
	} {
		b, err := json.Marshal(v.value)
		if err != nil {
			s.logger.Error().Err(err).Str("var", v.name).Msg("Failed to encode dataset script")
			return
		}

		_, _ = fmt.Fprintf(w, "var %s = %s;\n", v.name, b)
	}
}

func (s *Server) handleHosts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, HostViews(s.store.Registry(), s.domain))
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	host, ok := s.store.Registry().Lookup(name)
	if !ok {
		writeError(w, "host not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, newHostView(host, s.domain))
}

func (s *Server) handleLeases(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, LeaseViews(s.store.Leases()))
}

func (s *Server) handleOccupants(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, OccupantViews(s.store.Occupancy()))
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Error encoding response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Message: message, Status: statusCode}); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
