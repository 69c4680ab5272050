// Package http is C9's local HTTP surface: POST /conversation/store,
// POST /memory/search, POST /memory/inject, GET /health, GET /status.
//
// internal/rag/router/router.go and pkg/infra/server.Manager register routes
// through an abstract adapter/bridge layer (pkg/infra/server/transport/http)
// whose concrete gin/echo adapters (pkg/infra/adapter/gin, .../echo) are
// referenced by internal/rag/app.go but absent from this tree, and whose
// Server.Engine() method (exercised only by middleware_order_test.go) has no
// definition anywhere in transport/http — that abstraction does not build.
// This package is grounded instead on the concrete, working half of the same
// stack: internal/rag/handler/rag.go's plain *gin.Context handlers plus
// pkg/utils/response and pkg/utils/errors for the envelope, wrapped in a
// bare net/http.Server for Start/Stop (see DESIGN.md).
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/memoryd/pkg/utils/id"
)

// Server wraps a gin engine behind a standard net/http.Server for graceful
// shutdown, the same Start/Stop shape pkg/infra/server.Manager exposes for
// its own transports.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	idem   idempotencyStore
}

// Config controls the HTTP surface.
type Config struct {
	Addr         string
	CORSOrigins  []string // empty means allow all origins
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig mirrors pkg/middleware's DefaultTimeoutConfig/DefaultCORSConfig
// defaults (30s, allow-all origins) ported onto this package's own Config.
func DefaultConfig(addr string) *Config {
	return &Config{
		Addr:         addr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// New builds the HTTP surface. idem may be nil, in which case
// POST /conversation/store performs no idempotency-key deduplication.
func New(cfg *Config, svc Service, idem idempotencyStore) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestIDMiddleware(), recoveryMiddleware(), corsMiddleware(cfg.CORSOrigins), accessLogMiddleware(), metricsMiddleware())

	s := &Server{
		engine: engine,
		idem:   idem,
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	s.registerRoutes(svc)
	return s
}

func (s *Server) registerRoutes(svc Service) {
	s.engine.POST("/conversation/store", s.handleStoreConversation(svc))
	s.engine.POST("/memory/search", s.handleSearch(svc))
	s.engine.POST("/memory/inject", s.handleInject(svc))
	s.engine.GET("/health", s.handleHealth(svc))
	s.engine.GET("/status", s.handleStatus(svc))
	s.engine.GET("/metrics", handleMetrics)
}

// Engine exposes the gin engine directly, for tests (httptest) that want to
// drive requests without a real listener.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Start begins listening. It blocks until the listener stops (on Stop, or
// on a fatal accept error), mirroring net/http.Server.ListenAndServe.
func (s *Server) Start() error {
	logger.Infow("memory HTTP surface listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http surface: listen: %w", err)
	}
	return nil
}

// Stop gracefully drains in-flight requests, honoring ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware ports pkg/middleware.RequestIDConfig's behavior
// (reuse an inbound X-Request-ID, otherwise mint one; echo it on the
// response) directly onto gin, since pkg/middleware's own implementation
// targets the unbuildable transport.Context abstraction.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = generateRequestID()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// generateRequestID mints a Snowflake id rather than a random one: the
// request id then sorts with arrival order, which makes log correlation
// across a busy access log easier than an opaque random token would.
func generateRequestID() string {
	return id.NewSnowflake()
}

// requestID reads back the id requestIDMiddleware stored on the gin context.
func requestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDHeader); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// recoveryMiddleware logs and converts a panic into an INTERNAL error
// response instead of crashing the listener goroutine, gin.Recovery()'s own
// behavior with a logger.Errorw call substituted for gin's default writer.
func recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("http surface: panic recovered", "panic", r, "path", c.Request.URL.Path)
				writeErrno(c, fmt.Errorf("internal: %v", r))
				c.Abort()
			}
		}()
		c.Next()
	}
}

// corsConfig fields mirror pkg/middleware.CORSConfig; ported directly onto
// gin for the reason documented at the top of this file.
func corsMiddleware(allowOrigins []string) gin.HandlerFunc {
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	allowMethods := strings.Join([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}, ", ")
	allowHeaders := strings.Join([]string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader, "Idempotency-Key"}, ", ")
	const maxAge = 86400

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowed := ""
		for _, o := range allowOrigins {
			if o == "*" || o == origin {
				allowed = o
				break
			}
		}
		if allowed == "" {
			c.Next()
			return
		}
		c.Header("Access-Control-Allow-Origin", allowed)
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", allowMethods)
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Infow("http surface: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(c),
		)
	}
}
