// Package health exposes the bridge's liveness/readiness probes, the
// Prometheus scrape endpoint, and a debug WebSocket feed of recent audit
// records, adapted from the gateway's HTTP server (health/metrics/ws
// endpoints on one mux, WebSocket clients tracked in a sync.Map).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// readinessSource is the subset of *sync.Manager the health server needs.
type readinessSource interface {
	Health() []model.ComponentHealth
	Ready() bool
}

// Config configures the health/metrics/debug HTTP server.
type Config struct {
	Addr            string `yaml:"addr"`
	EnableMetrics   bool   `yaml:"enable_metrics"`
	EnableDebugFeed bool   `yaml:"enable_debug_feed"`
	ShutdownGrace   time.Duration
}

// DefaultAddr is used when Config.Addr is empty.
const DefaultAddr = ":9090"

// DefaultShutdownGrace bounds how long Stop waits for in-flight requests.
const DefaultShutdownGrace = 10 * time.Second

// Server serves /healthz, /readyz, /metrics, and (optionally) /debug/feed.
type Server struct {
	cfg       Config
	logger    *zap.Logger
	readiness readinessSource
	gatherer  prometheus.Gatherer

	httpServer *http.Server
	upgrader   websocket.Upgrader
	wsClients  sync.Map // map[*websocket.Conn]bool
	backlog    func() []model.AuditRecord
}

// NewServer builds a Server. readiness and gatherer may be nil in tests
// that only exercise the WebSocket feed. backlog, if set, is called once
// per new debug feed connection to prime the client with recent audit
// records (typically audit.RingLogger.Recent); it may be nil.
func NewServer(cfg Config, logger *zap.Logger, readiness readinessSource, gatherer prometheus.Gatherer, backlog func() []model.AuditRecord) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		readiness: readiness,
		gatherer:  gatherer,
		backlog:   backlog,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start builds the mux and runs ListenAndServe in a goroutine, shutting
// down gracefully when ctx is cancelled. It returns at once, without
// waiting for the listener to bind; a listen or serve error is only logged
// by the background goroutine, never returned.
func (s *Server) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	if s.cfg.EnableMetrics && s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.cfg.EnableDebugFeed {
		mux.HandleFunc("/debug/feed", s.handleDebugFeed)
	}

	s.httpServer = &http.Server{Addr: s.cfg.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("health server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("health server listening", zap.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server error", zap.Error(err))
		}
	}()
}

// handleHealthz is a liveness probe: it reports healthy as long as the
// process is running and serving requests, independent of OPC UA/AAS
// connectivity.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// handleReadyz is a readiness probe: 200 only when every OPC UA endpoint
// is connected and the AAS Client's last probe is recent (§4.7).
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.readiness == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ready": false})
		return
	}

	components := s.readiness.Health()
	ready := s.readiness.Ready()
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":      ready,
		"components": components,
	})
}

// handleDebugFeed upgrades to a WebSocket and streams BroadcastAuditRecord
// calls to the client, keeping the connection open until the client
// disconnects or a write fails.
func (s *Server) handleDebugFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("debug feed upgrade failed", zap.Error(err))
		return
	}

	s.wsClients.Store(conn, true)
	s.logger.Info("debug feed client connected")

	if s.backlog != nil {
		if err := conn.WriteJSON(map[string]interface{}{
			"type":    "backlog",
			"records": s.backlog(),
		}); err != nil {
			s.wsClients.Delete(conn)
			conn.Close()
			return
		}
	}

	defer func() {
		s.wsClients.Delete(conn)
		conn.Close()
		s.logger.Info("debug feed client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// BroadcastAuditRecord pushes one record to every connected debug feed
// client. Intended as the forward callback passed to audit.NewRingLogger.
func (s *Server) BroadcastAuditRecord(record model.AuditRecord) {
	message := map[string]interface{}{
		"type":   "audit_record",
		"record": record,
	}

	s.wsClients.Range(func(key, _ interface{}) bool {
		conn := key.(*websocket.Conn)
		if err := conn.WriteJSON(message); err != nil {
			s.wsClients.Delete(conn)
			conn.Close()
		}
		return true
	})
}
