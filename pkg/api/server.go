package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/oplog"
	"github.com/connhealth/probe/pkg/registry"
)

// Server exposes the registry's snapshots over a local HTTP API. It is a
// read-only observer: nothing here mutates registry state.
type Server struct {
	logger *logging.ColoredLogger
	reg    *registry.Registry
	ops    *oplog.Log // may be nil
	server *http.Server
}

// New creates the status API server listening on addr.
func New(addr string, reg *registry.Registry, ops *oplog.Log, logger *logging.ColoredLogger) *Server {
	s := &Server{
		logger: logger,
		reg:    reg,
		ops:    ops,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(10 * time.Second))

	router.Get("/health", s.handleHealth)
	router.Get("/network", s.handleNetwork)
	router.Get("/ops", s.handleOps)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.ComponentInfo(logging.ComponentAPI, "Starting status API",
		zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.ComponentError(logging.ComponentAPI, "Status API stopped", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.reg.Snapshot()
	writeJSON(w, map[string]interface{}{
		"connected":       snap.Connected,
		"mdns_discovered": snap.MDNSDiscovered,
		"kad_discovered":  snap.KadDiscovered,
		"uptime_seconds":  int64(snap.Uptime.Seconds()),
	})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.reg.NetworkSnapshot())
}

func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	if s.ops == nil {
		writeJSON(w, []struct{}{})
		return
	}
	entries, err := s.ops.Recent(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type row struct {
		OpID      string `json:"op_id"`
		PeerID    string `json:"peer_id"`
		Direction string `json:"direction"`
		Kind      string `json:"kind"`
		Entity    string `json:"entity"`
		Acked     bool   `json:"acked"`
		CreatedAt string `json:"created_at"`
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, row{
			OpID:      e.OpID,
			PeerID:    e.PeerID,
			Direction: string(e.Direction),
			Kind:      e.Kind,
			Entity:    e.Entity,
			Acked:     e.Acked,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, rows)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
