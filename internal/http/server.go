// Package http exposes the JSON API. Identity arrives from a trusted
// gateway via headers; this layer never authenticates, it only reads the
// headers and maps service errors to status codes.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tidytab/internal/cache"
	"tidytab/internal/core"
	applog "tidytab/internal/log"
	"tidytab/internal/middleware/ratelimit"
	"tidytab/internal/middleware/security"
	"tidytab/internal/middleware/trace"
	"tidytab/internal/services"
)

type Server struct {
	http.Server
	tabs    *services.TabService
	feed    *services.TabFeed
	scanner ReceiptScanner

	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	headers     security.HeadersConfig
	logger      *applog.StructuredLogger

	// Read cache for single-tab lookups, invalidated on every write.
	tabCache     *cache.LRUCache[core.Tab]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
// feed and scanner may be nil; the corresponding endpoints then answer 503.
func NewServer(addr string, tabs *services.TabService, feed *services.TabFeed, scanner ReceiptScanner) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		tabs:         tabs,
		feed:         feed,
		scanner:      scanner,
		rateLimiter:  ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		detector:     security.NewDetector(),
		headers:      security.DefaultHeadersConfig(),
		logger:       applog.NewStructuredLogger(applog.New(applog.DefaultConfig())),
		tabCache:     cache.NewLRUCache[core.Tab](500, 30*time.Second),
		cacheManager: cache.NewManager(),
	}

	s.cacheManager.Register(s.tabCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/tabs", s.withMiddleware(s.handleCreateTab))
	mux.HandleFunc("GET /api/tabs", s.withMiddleware(s.handleListTabs))
	mux.HandleFunc("GET /api/tabs/{id}", s.withMiddleware(s.handleGetTab))
	mux.HandleFunc("POST /api/tabs/{id}/join", s.withMiddleware(s.handleJoinTab))
	mux.HandleFunc("POST /api/tabs/{id}/resolve", s.withMiddleware(s.handleResolveTab))
	mux.HandleFunc("POST /api/tabs/{id}/reopen", s.withMiddleware(s.handleReopenTab))
	mux.HandleFunc("GET /api/tabs/{id}/settlement", s.withMiddleware(s.handleSettlement))
	mux.HandleFunc("GET /api/tabs/{id}/events", s.withMiddleware(s.handleTabEvents))
	mux.HandleFunc("POST /api/tabs/{id}/expenses", s.withMiddleware(s.handleAddExpense))
	mux.HandleFunc("POST /api/tabs/{id}/receipts", s.withMiddleware(s.handleScanReceipt))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withMiddleware adds security headers, rate limiting, request tracing
// and structured request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := s.detector.ExtractClientIP(r)

		requestID := trace.GenerateRequestID()
		ctx := trace.WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		s.logger.LogHTTPStart(ctx, r, requestID, clientIP)

		if s.detector.DetectSuspiciousRequest(r) {
			slog.WarnContext(ctx, "Suspicious request detected",
				"request_id", requestID,
				"client_ip", clientIP,
				"method", r.Method,
				"url", r.URL.Path)
		}

		// Rate limit mutating requests only.
		if r.Method == http.MethodPost && !s.rateLimiter.Allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		s.headers.ApplyHeaders(w, r)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		s.logger.LogHTTPEnd(ctx, r, requestID, rw.statusCode, duration.Milliseconds(), clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
