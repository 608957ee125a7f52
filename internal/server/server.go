// Package server is the development server: it serves the output directory
// and pushes live reload messages to connected browsers over a WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/cors"

	builderrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/logging"
	"github.com/conneroisu/assetpipe/internal/version"
)

// Config holds the development server settings.
type Config struct {
	Host string
	// Port 0 picks a free port.
	Port int
	// Root is the directory served, usually dist.
	Root string
	// Open launches the system browser once listening.
	Open bool
	// AllowedOrigins are extra origins, e.g. "http://localhost:5173",
	// allowed to connect and to make CORS requests.
	AllowedOrigins []string
}

// Server is the development server.
type Server struct {
	config    Config
	logger    logging.Logger
	collector *builderrors.ErrorCollector
	hub       *Hub
	started   time.Time

	mu       sync.RWMutex
	listener net.Listener
	ready    chan struct{}
}

// New creates a development server. The collector supplies the build errors
// shown on the not-found page and may be nil.
func New(cfg Config, logger logging.Logger, collector *builderrors.ErrorCollector) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Root == "" {
		cfg.Root = "dist"
	}
	logger = logger.WithComponent("server")
	return &Server{
		config:    cfg,
		logger:    logger,
		collector: collector,
		hub:       NewHub(logger),
		ready:     make(chan struct{}),
	}
}

// Handler returns the HTTP handler serving every route. ctx bounds the
// lifetime of WebSocket connections.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(ctx, w, r)
	})
	mux.HandleFunc(clientPath, serveClient)
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.Handle("/", newStaticHandler(s.config.Root, s.collector))

	return s.addMiddleware(mux)
}

func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	if len(s.config.AllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		})
		handler = c.Handler(handler)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		handler.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.started = time.Now()
	s.mu.Unlock()
	close(s.ready)

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.hub.Run(hubCtx)

	httpServer := &http.Server{
		Handler:           s.Handler(hubCtx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := "http://" + s.Addr()
	s.logger.Info(ctx, "serving", "url", url, "root", s.config.Root)
	if s.config.Open {
		go s.openBrowser(ctx, url)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	cancelHub()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, err, "graceful shutdown failed")
		return httpServer.Close()
	}
	s.logger.Info(ctx, "server stopped")
	return nil
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound host:port, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		_, port, err := net.SplitHostPort(s.listener.Addr().String())
		if err == nil {
			return net.JoinHostPort(s.config.Host, port)
		}
	}
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

func (s *Server) port() int {
	_, p, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return s.config.Port
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return s.config.Port
	}
	return n
}

// Clients returns the number of connected browsers.
func (s *Server) Clients() int {
	return s.hub.ClientCount()
}

// Reload tells every browser to reload the page.
func (s *Server) Reload(paths ...string) {
	s.hub.Broadcast(Message{Type: MessageReload, Paths: paths})
}

// InjectCSS tells every browser to swap the given stylesheets in place.
func (s *Server) InjectCSS(paths ...string) {
	s.hub.Broadcast(Message{Type: MessageCSS, Paths: paths})
}

// BroadcastError shows err in an overlay.
func (s *Server) BroadcastError(err *builderrors.BuildError) {
	s.hub.Broadcast(Message{Type: MessageError, Task: err.Task, Error: err})
}

// BroadcastResolved removes the overlay for task.
func (s *Server) BroadcastResolved(task string) {
	s.hub.Broadcast(Message{Type: MessageResolved, Task: task})
}

func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !checkOrigin(r, s.config.Host, s.port(), s.config.AllowedOrigins) {
		s.logger.Warn(r.Context(), nil, "websocket origin rejected", "origin", r.Header.Get("Origin"))
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	s.hub.serve(ctx, w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	errCount := 0
	if s.collector != nil {
		errCount = len(s.collector.Errors())
	}
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	status := "healthy"
	if errCount > 0 {
		status = "failing"
	}
	health := map[string]interface{}{
		"status":  status,
		"version": version.GetVersion(),
		"root":    s.config.Root,
		"clients": s.hub.ClientCount(),
		"errors":  errCount,
	}
	if !started.IsZero() {
		health["uptime"] = time.Since(started).Round(time.Second).String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "failed to encode health response")
	}
}

func (s *Server) openBrowser(ctx context.Context, url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		s.logger.Warn(ctx, nil, "cannot open browser", "os", runtime.GOOS)
		return
	}

	if err := cmd.Start(); err != nil {
		s.logger.Warn(ctx, err, "failed to open browser", "url", url)
		return
	}
	go func() { _ = cmd.Wait() }()
}
