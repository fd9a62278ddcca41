// Package server exposes the chat/TTS relays, clip assets and the page
// websocket over HTTP.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarstage/internal/catalog"
	"github.com/normanking/avatarstage/internal/chat"
	"github.com/normanking/avatarstage/internal/logging"
	"github.com/normanking/avatarstage/internal/metrics"
	"github.com/normanking/avatarstage/internal/session"
	"github.com/normanking/avatarstage/internal/tts"
)

// Config wires the server to its collaborators.
type Config struct {
	Host          string
	Port          int
	AllowedOrigin string
	AssetsDir     string

	Catalog *catalog.Animations
	Skits   *catalog.Skits
	Chat    chat.Client
	TTS     tts.Provider
	Voice   string

	Sessions *session.Registry
	// SessionConfig builds the config for each new page session.
	SessionConfig func() session.Config

	Logs   *logging.Logger
	Logger zerolog.Logger
}

// Server is the avatarstage HTTP server.
type Server struct {
	cfg        Config
	router     chi.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewRegistry()
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "server").Logger(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.metricsMiddleware)

	r.Group(func(r chi.Router) {
		r.Use(s.corsMiddleware)
		r.Options("/api/chat", noContent)
		r.Options("/api/tts", noContent)
		r.Post("/api/chat", s.handleChat)
		r.Post("/api/tts", s.handleTTS)
	})

	r.Get("/models/{file}", s.handleModel)
	r.Get("/api/catalog", s.handleCatalog)
	r.Get("/api/ws", s.handleWebSocket)
	r.Get("/api/logs", s.handleLogs)
	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("avatarstage listening")
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes page sessions and drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.cfg.Sessions.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.cfg.AllowedOrigin == "*" || origin == s.cfg.AllowedOrigin
}

// corsMiddleware adds CORS headers to the relay routes.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
