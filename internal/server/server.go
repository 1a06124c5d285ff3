package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/genai-studio/edge-proxy/internal/config"
	"github.com/genai-studio/edge-proxy/internal/cors"
	"github.com/genai-studio/edge-proxy/internal/logger"
	"github.com/genai-studio/edge-proxy/internal/metrics"
	"github.com/genai-studio/edge-proxy/internal/ratelimit"
	"github.com/genai-studio/edge-proxy/internal/token"
	"github.com/genai-studio/edge-proxy/internal/upstream"
	"github.com/genai-studio/edge-proxy/internal/validate"
)

// Server represents the proxy server
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	router    *gin.Engine
	gate      *cors.Gate
	validator *validate.Validator
	upstream  *upstream.Client
	limiters  map[upstream.Capability]*ratelimit.Limiter
	keyFunc   ratelimit.KeyFunc
	metrics   *metrics.Metrics
	logs      *logger.LogBuffer
	now       func() time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithLogBuffer sets the buffer served by the admin log endpoint.
func WithLogBuffer(buf *logger.LogBuffer) Option {
	return func(s *Server) {
		s.logs = buf
	}
}

// WithKeyFunc replaces the client-IP rate limit key.
func WithKeyFunc(fn ratelimit.KeyFunc) Option {
	return func(s *Server) {
		s.keyFunc = fn
	}
}

// WithClock overrides the time source of the server and its limiters.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new server instance. It fails on an unusable CORS or rate
// limit configuration.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    gin.New(),
		validator: validate.New(),
		keyFunc:   ratelimit.ClientIP,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	gate, err := cors.NewGate(cfg.CORS, cfg.Server.IsProduction())
	if err != nil {
		return nil, err
	}
	s.gate = gate

	s.limiters = make(map[upstream.Capability]*ratelimit.Limiter, 3)
	limits := map[upstream.Capability]config.LimitConfig{
		upstream.Chat:  cfg.RateLimit.Chat,
		upstream.Image: cfg.RateLimit.Image,
		upstream.Video: cfg.RateLimit.Video,
	}
	for capability, lc := range limits {
		rl, err := lc.Resolve()
		if err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", capability, err)
		}
		s.limiters[capability] = ratelimit.New(rl, ratelimit.WithClock(s.now))
	}

	minter := token.NewMinter().WithClock(s.now)
	s.upstream = upstream.New(cfg.Upstream, minter, logger,
		upstream.WithMintObserver(s.metrics.ObserveMint))

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Limiter returns the limiter of a capability.
func (s *Server) Limiter(capability upstream.Capability) *ratelimit.Limiter {
	return s.limiters[capability]
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware())
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.loggerMiddleware())
	s.router.Use(s.corsMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// 健康检查
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ping", s.ping)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	seen := make(map[string]bool)
	for _, prefix := range s.cfg.Server.RoutePrefixes {
		if seen[prefix] {
			continue
		}
		seen[prefix] = true

		api := s.router.Group(prefix)
		api.Any("/chat", s.capabilityChain(upstream.Chat, s.chat, http.MethodPost)...)
		api.Any("/image", s.capabilityChain(upstream.Image, s.image, http.MethodPost)...)
		api.Any("/video", s.capabilityChain(upstream.Video, s.video, http.MethodPost, http.MethodGet)...)
	}

	if s.cfg.Security.AdminPassword == "" {
		s.logger.Info("Admin endpoints disabled: no admin password configured")
		return
	}

	// 管理后台API
	admin := s.router.Group("/admin")
	{
		admin.POST("/login", s.adminLogin)
		admin.GET("/verify", s.adminVerify)

		auth := admin.Group("/")
		auth.Use(s.adminAuthMiddleware())
		{
			auth.GET("/logs", s.getLogs)
			auth.DELETE("/logs", s.clearLogs)
		}
	}
}

// capabilityChain builds the handler chain of a proxied endpoint: metrics,
// method check, rate limiting, then the handler itself.
func (s *Server) capabilityChain(capability upstream.Capability, h gin.HandlerFunc, methods ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		s.metricsMiddleware(capability),
		methodGuard(methods...),
		s.rateLimitMiddleware(capability),
		h,
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
