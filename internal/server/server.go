package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/whookdev/sharedrelay/internal/config"
	"github.com/whookdev/sharedrelay/internal/metrics"
	"github.com/whookdev/sharedrelay/internal/port"
)

// Relay is the message handler shared by every port.
type Relay interface {
	port.Handler
	Pending() int
}

type Server struct {
	cfg        *config.Config
	relay      Relay
	httpServer *http.Server
	wsServer   *http.Server
	upgrader   websocket.Upgrader
	ports      map[string]*port.Port
	portsMux   sync.RWMutex
	portsWG    sync.WaitGroup
	closing    bool // guarded by portsMux
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type healthResponse struct {
	ServerID    string `json:"server_id"`
	Connections int    `json:"connections"`
	Pending     int    `json:"pending"`
}

func New(cfg *config.Config, relay Relay, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if relay == nil {
		return nil, fmt.Errorf("relay cannot be nil")
	}
	logger = logger.With("component", "server")

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		relay:  relay,
		logger: logger,
		ports:  make(map[string]*port.Port),
		ctx:    ctx,
		cancel: cancel,
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Hijacked connections are not subject to the server timeouts.
	s.wsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.WSPort),
		Handler:           s.wsRoutes(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (s *Server) wsRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/relay", s.handleRelayConnection)

	return mux
}

// acquirePort reserves a slot in portsWG. It fails once Shutdown has begun,
// so Add never runs concurrently with Wait.
func (s *Server) acquirePort() bool {
	s.portsMux.Lock()
	defer s.portsMux.Unlock()
	if s.closing || s.ctx.Err() != nil {
		return false
	}
	s.portsWG.Add(1)
	return true
}

func (s *Server) handleRelayConnection(w http.ResponseWriter, r *http.Request) {
	if !s.acquirePort() {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.portsWG.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade websocket connection", "error", err)
		return
	}
	defer conn.Close()

	p := port.NewPort(uuid.NewString(), conn, s.relay, s.logger)

	s.portsMux.Lock()
	s.ports[p.ID()] = p
	s.portsMux.Unlock()
	metrics.ActiveConnections.Inc()

	defer func() {
		s.portsMux.Lock()
		delete(s.ports, p.ID())
		s.portsMux.Unlock()
		metrics.ActiveConnections.Dec()
	}()

	s.logger.Info("port connected", "port_id", p.ID(), "remote", r.RemoteAddr)

	if err := p.Serve(s.ctx); err != nil {
		s.logger.Error("port connection error",
			"error", err,
			"port_id", p.ID(),
		)
		return
	}
	s.logger.Info("port disconnected", "port_id", p.ID())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		ServerID:    s.cfg.ServerID,
		Connections: s.ActiveConnections(),
		Pending:     s.relay.Pending(),
	})
}

// ActiveConnections reports the number of connected ports.
func (s *Server) ActiveConnections() int {
	s.portsMux.RLock()
	defer s.portsMux.RUnlock()
	return len(s.ports)
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	go func() {
		s.logger.Info("starting WebSocket server", "address", s.wsServer.Addr)
		if err := s.wsServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("WebSocket server error", "error", err)
		}
	}()

	<-ctx.Done()
	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.portsMux.Lock()
	s.closing = true
	s.portsMux.Unlock()

	if err := s.wsServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down WebSocket server: %w", err)
	}

	// Ports live on hijacked connections, which Shutdown does not track.
	s.cancel()
	ports := make(chan struct{})
	go func() {
		defer close(ports)
		s.portsWG.Wait()
	}()

	select {
	case <-ports:
		s.logger.Info("all ports closed")
	case <-ctx.Done():
		s.logger.Error("timed out waiting for ports to close")
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}

	return nil
}
