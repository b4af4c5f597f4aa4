package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

const (
	maxBody         = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// HTTPClientID is the client id used for payloads posted to /invoke.
const HTTPClientID domain.ClientID = "http"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The socket is owner-only; there is no browser origin to check.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server serves the client surface on a unix socket.
type Server struct {
	socketPath string
	svc        Service
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	router     *mux.Router

	mu     sync.Mutex
	conns  map[domain.ClientID]*clientConn
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server for svc listening on socketPath.
func NewServer(socketPath string, svc Service, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		svc:        svc,
		gatherer:   gatherer,
		logger:     logger.Named("transport"),
		conns:      make(map[domain.ClientID]*clientConn),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/bind", s.handleBind).Methods(http.MethodGet)
	r.HandleFunc("/invoke", s.handleInvoke).Methods(http.MethodPost)
	r.HandleFunc("/control/{action}", s.handleControl).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the socket until ctx is cancelled. A stale socket file
// from a previous host is removed first.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("failed to restrict socket: %w", err)
	}

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("transport listening", zap.String("socket", s.socketPath))

	select {
	case err := <-errCh:
		s.closeConns()
		return fmt.Errorf("transport stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	s.closeConns()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("transport shutdown incomplete", zap.Error(err))
	}
	<-errCh
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	id := domain.ClientID(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "missing client id", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClientConn(id, ws, s.logger)
	// conns and the service's bindings change together under s.mu, so the
	// service always holds the connection that conns holds.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.close()
		return
	}
	prev := s.conns[id]
	s.conns[id] = c
	s.wg.Add(1)
	s.svc.Bind(id, c)
	s.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	go c.writePump()
	c.readPump(s.svc)
	s.release(c)
}

// release unbinds c unless a newer connection already took over its id.
func (s *Server) release(c *clientConn) {
	defer s.wg.Done()
	c.close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[c.id] == c {
		delete(s.conns, c.id)
		s.svc.Unbind(c.id)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*clientConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Invoke(HTTPClientID, body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]

	var err error
	switch action {
	case ActionStart:
		err = s.svc.OnStart()
	case ActionStop:
		err = s.svc.RequestStop()
	case ActionTaskRemoved:
		err = s.svc.OnTaskRemoved()
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("control action handled", zap.String("action", action))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	report, err := s.svc.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, domain.ErrNotRunning) {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
