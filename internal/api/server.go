// Package api exposes the engine over HTTP: REST operations for
// messages, contexts, documents and cases, a server-sent event feed and
// Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/counselhq/counsel/internal/bus"
	"github.com/counselhq/counsel/internal/engine"
	"github.com/counselhq/counsel/internal/store"
)

// Options controls the HTTP server behavior.
type Options struct {
	// Bind address, e.g. "127.0.0.1:8080"
	Bind string
	// Token for Authorization: Bearer <token> header. Empty disables auth.
	Token string
	// RPS is max requests per second (approximate). 0 disables rate limiting.
	RPS int
	// Burst is the token bucket size. If 0 and RPS>0, defaults to RPS.
	Burst int
	// Logger for minimal logs (optional)
	Logger *log.Logger
	// MaxBodyBytes caps request body size. The default leaves room for a
	// size-limit document arriving base64-encoded.
	MaxBodyBytes int64
}

// Server serves the counsel HTTP API.
type Server struct {
	srv     *http.Server
	eng     *engine.Engine
	cases   *store.Store
	bus     bus.Bus
	hub     *sseHub
	metrics *metrics
	opts    Options
	limiter *simpleLimiter
	logger  *log.Logger
	started int32
}

// NewServer constructs the API server and registers its observers on
// the engine.
func NewServer(eng *engine.Engine, cases *store.Store, b bus.Bus, opts Options) (*Server, error) {
	if eng == nil {
		return nil, errors.New("api server requires an engine")
	}
	if opts.Bind == "" {
		opts.Bind = "127.0.0.1:8080"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 40 * 1024 * 1024 // 40 MiB
	}
	var logger *log.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	var lim *simpleLimiter
	if opts.RPS > 0 {
		if opts.Burst <= 0 {
			opts.Burst = opts.RPS
		}
		lim = newSimpleLimiter(opts.RPS, opts.Burst)
	}

	s := &Server{
		eng:     eng,
		cases:   cases,
		bus:     b,
		hub:     newSSEHub(),
		metrics: newMetrics(eng),
		opts:    opts,
		limiter: lim,
		logger:  logger,
	}
	eng.AddObserver(s.hub)
	eng.AddObserver(s.metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/stats", s.protect(s.handleStats))
	mux.HandleFunc("GET /v1/events", s.protect(s.handleEvents))

	mux.HandleFunc("POST /v1/messages", s.protect(s.handleStartMessage))
	mux.HandleFunc("POST /v1/messages/cancel", s.protect(s.handleCancelStream))
	mux.HandleFunc("POST /v1/context", s.protect(s.handleSwitchContext))
	mux.HandleFunc("GET /v1/conversation", s.protect(s.handleGetConversation))
	mux.HandleFunc("DELETE /v1/conversation", s.protect(s.handleClearConversation))

	mux.HandleFunc("POST /v1/documents", s.protect(s.handleAnalyzeDocument))

	mux.HandleFunc("GET /v1/cases", s.protect(s.handleListCases))
	mux.HandleFunc("POST /v1/cases", s.protect(s.handleCreateCase))
	mux.HandleFunc("POST /v1/cases/propose", s.protect(s.handleProposeCase))
	mux.HandleFunc("POST /v1/cases/{id}/switch", s.protect(s.handleSwitchCase))
	mux.HandleFunc("GET /v1/cases/{id}/documents", s.protect(s.handleCaseDocuments))
	mux.HandleFunc("GET /v1/cases/{id}/notes", s.protect(s.handleListNotes))
	mux.HandleFunc("POST /v1/cases/{id}/notes", s.protect(s.handleAddNote))
	mux.HandleFunc("DELETE /v1/notes/{id}", s.protect(s.handleDeleteNote))

	mux.HandleFunc("GET /v1/audit", s.protect(s.handleAudit))
	mux.HandleFunc("GET /v1/search", s.protect(s.handleSearch))

	s.srv = &http.Server{
		Addr:        opts.Bind,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		// No write timeout: /v1/events streams for as long as the
		// subscriber stays connected.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Start starts the HTTP server concurrently and attaches to ctx for shutdown.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return errors.New("api server already started")
	}
	// Bind early to surface errors synchronously
	ln, err := net.Listen("tcp", s.opts.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Bind, err)
	}
	s.logger.Printf("API listening on http://%s rps=%d burst=%d auth=%v",
		s.opts.Bind, s.opts.RPS, s.opts.Burst, s.opts.Token != "")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Printf("graceful shutdown failed: %v", err)
		}
		if s.limiter != nil {
			s.limiter.Close()
		}
	}()
	return nil
}

// protect enforces bearer auth and the rate limit for API routes.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) != s.opts.Token {
				w.Header().Set("WWW-Authenticate", `Bearer realm="counsel"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(r.Context()); err != nil {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}
		next(w, r)
	}
}

// simpleLimiter is a minimal token bucket limiter
type simpleLimiter struct {
	tokens chan struct{}
	stop   chan struct{}
}

func newSimpleLimiter(rps, burst int) *simpleLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rps
	}
	l := &simpleLimiter{
		tokens: make(chan struct{}, burst),
		stop:   make(chan struct{}),
	}
	// initially fill bucket
	for i := 0; i < burst; i++ {
		l.tokens <- struct{}{}
	}
	// refill goroutine
	go func() {
		// ticker rate: 1 token every 1/rps second
		interval := time.Second / time.Duration(rps)
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case l.tokens <- struct{}{}:
				default:
					// bucket full
				}
			case <-l.stop:
				return
			}
		}
	}()
	return l
}

func (l *simpleLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return errors.New("limiter stopped")
	case <-l.tokens:
		return nil
	}
}

func (l *simpleLimiter) Close() {
	if l == nil {
		return
	}
	close(l.stop)
}

// remoteIP extracts ip from host:port
func remoteIP(addr string) string {
	if i := strings.LastIndex(addr, ":"); i != -1 {
		return addr[:i]
	}
	return addr
}
