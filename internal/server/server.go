// Package server runs the gallery preview: every villa photo rendered
// through the image loader, the optimized artifacts served from disk,
// and a websocket that reloads open pages after re-optimization.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/villaretreat/imagepipe/internal/config"
	"github.com/villaretreat/imagepipe/internal/imageloader"
	"github.com/villaretreat/imagepipe/internal/logging"
	"github.com/villaretreat/imagepipe/internal/optimizer"
	"github.com/villaretreat/imagepipe/internal/version"
	"github.com/villaretreat/imagepipe/internal/watcher"
)

// PreviewServer serves the gallery with live reload
type PreviewServer struct {
	config    *config.Config
	logger    logging.Logger
	registry  *prometheus.Registry
	optimizer *optimizer.Optimizer
	watcher   *watcher.FileWatcher

	httpServer  *http.Server
	serverMutex sync.Mutex

	clients      map[*Client]bool
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *Client

	// pingInterval spaces keepalive pings on every websocket.
	pingInterval time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// New wires a preview server. The registry receives the optimizer
// metrics and backs /metrics; nil creates a private one.
func New(cfg *config.Config, logger logging.Logger, reg *prometheus.Registry) (*PreviewServer, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	logger = logger.WithComponent("server")

	fw, err := watcher.NewImageWatcher(cfg.Watch.Debounce, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	opt := optimizer.New(optimizer.Options{
		Directories: cfg.Optimizer.Directories,
		Concurrency: cfg.Optimizer.Concurrency,
		Logger:      logger,
		Metrics:     optimizer.NewMetrics(reg),
	})

	return &PreviewServer{
		config:     cfg,
		logger:     logger,
		registry:   reg,
		optimizer:  opt,
		watcher:    fw,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),

		pingInterval: pingPeriod,
	}, nil
}

// Handler returns the routes of the preview server.
func (s *PreviewServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.handleIndex)
	return s.logRequests(mux)
}

// Start optimizes once, watches the source directories and serves until
// ctx is cancelled or Shutdown is called.
func (s *PreviewServer) Start(ctx context.Context) error {
	report, err := s.optimizer.Run(ctx)
	if err != nil {
		return err
	}
	if failed := len(report.Failed()); failed > 0 {
		s.logger.Warn(ctx, nil, "Initial optimization had failures", "failed", failed)
	}

	s.watcher.AddHandler(s.handleFileChange)
	if _, err := s.watcher.AddPaths(s.config.Optimizer.Directories); err != nil {
		return fmt.Errorf("watching directories: %w", err)
	}
	if err := s.watcher.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	go s.runHub(ctx)

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.config.Server.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.serverMutex.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Shutdown(shutdownCtx)
		case <-s.done:
		}
	}()

	s.logger.Info(ctx, "Preview server listening", "addr", "http://"+srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the watcher, closes client connections and the listener.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	s.stop()
	_ = s.watcher.Stop()

	s.serverMutex.Lock()
	srv := s.httpServer
	s.serverMutex.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *PreviewServer) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// handleFileChange re-optimizes the changed sources and tells open pages
// to reload.
func (s *PreviewServer) handleFileChange(ctx context.Context, events []watcher.ChangeEvent) error {
	paths := watcher.SourcePaths(events)
	if len(paths) == 0 {
		return nil
	}
	s.logger.Info(ctx, "Sources changed", "files", len(paths))

	report, err := s.optimizer.OptimizeFiles(ctx, paths)
	if err != nil {
		return err
	}
	s.broadcastMessage(UpdateMessage{
		Type:      "reload",
		Files:     paths,
		Failed:    len(report.Failed()),
		Timestamp: time.Now(),
	})
	return nil
}

func (s *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.serveFile(w, r)
		return
	}
	galleries, skipped := ScanGalleries(s.config.Server.Root, s.config.Optimizer.Directories)
	for _, dir := range skipped {
		s.logger.Debug(r.Context(), "Gallery not shown", "dir", dir)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Vary", "Accept")
	page := GalleryPage(galleries, imageloader.ProbeRequest(r), s.logger)
	if err := page.Render(r.Context(), w); err != nil {
		s.logger.Error(r.Context(), err, "Failed to render gallery")
	}
}

// serveFile serves photos and artifacts below the server root.
func (s *PreviewServer) serveFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	http.FileServer(imageFS{http.Dir(s.config.Server.Root)}).ServeHTTP(w, r)
}

// imageFS only exposes supported images and webp artifacts.
type imageFS struct {
	fs http.FileSystem
}

func (f imageFS) Open(name string) (http.File, error) {
	if !optimizer.IsSupportedSource(name) && !isWebP(name) {
		return nil, fsNotExist(name)
	}
	return f.fs.Open(name)
}

func isWebP(name string) bool {
	return strings.EqualFold(path.Ext(name), ".webp")
}

func fsNotExist(name string) error {
	return &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "healthy",
		"version":     version.GetShortVersion(),
		"directories": len(s.config.Optimizer.Directories),
		"clients":     s.ClientCount(),
		"timestamp":   time.Now().UTC(),
	})
}

// statusRecorder captures the response code for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *PreviewServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}
