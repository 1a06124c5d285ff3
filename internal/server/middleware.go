package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genai-studio/edge-proxy/internal/models"
	"github.com/genai-studio/edge-proxy/internal/upstream"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	rateLimitKey    = "rate_limit_key"

	// resetTimeLayout matches JavaScript's Date.toISOString.
	resetTimeLayout = "2006-01-02T15:04:05.000Z"
)

// recoveryMiddleware turns panics into a generic 500.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		message := "Unknown error"
		if err, ok := recovered.(error); ok {
			message = err.Error()
		}

		s.logger.Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Stack("stack"),
		)

		c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Internal server error",
			Message: message,
		})
	})
}

// requestIDMiddleware propagates or assigns X-Request-ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// loggerMiddleware logs HTTP requests
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		s.logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_key", c.GetString(rateLimitKey)),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
	}
}

// corsMiddleware applies the CORS headers and answers preflight requests
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.gate.HandlePreflight(c.Writer, c.Request) {
			c.Abort()
			return
		}
		s.gate.Apply(c.Writer.Header(), c.GetHeader("Origin"))
		c.Next()
	}
}

// methodGuard rejects requests whose method is not listed.
func methodGuard(methods ...string) gin.HandlerFunc {
	allow := strings.Join(methods, ", ")
	return func(c *gin.Context) {
		for _, m := range methods {
			if c.Request.Method == m {
				c.Next()
				return
			}
		}
		c.Header("Allow", allow)
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, models.ErrorResponse{Error: "Method not allowed"})
	}
}

// metricsMiddleware counts finished requests of a capability.
func (s *Server) metricsMiddleware(capability upstream.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.metrics.ObserveRequest(string(capability), c.Writer.Status())
	}
}

// rateLimitMiddleware counts the request against the capability's limiter
// before the body is looked at.
func (s *Server) rateLimitMiddleware(capability upstream.Capability) gin.HandlerFunc {
	limiter := s.limiters[capability]
	return func(c *gin.Context) {
		key := s.keyFunc(c.Request)
		c.Set(rateLimitKey, key)

		res := limiter.Check(key)

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		h.Set("X-RateLimit-Reset", res.ResetTime.UTC().Format(resetTimeLayout))

		if res.Allowed {
			c.Next()
			return
		}

		retryAfter := res.RetryAfter(s.now())
		h.Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.ObserveRateLimited(string(capability))

		s.logger.Warn("Rate limit exceeded",
			zap.String("capability", string(capability)),
			zap.String("client_key", key),
			zap.Int("retry_after", retryAfter),
		)

		c.AbortWithStatusJSON(http.StatusTooManyRequests, models.RateLimitResponse{
			Error:      "Too many requests",
			Message:    "Rate limit exceeded. Try again in " + strconv.Itoa(retryAfter) + " seconds.",
			RetryAfter: retryAfter,
		})
	}
}

// adminAuthMiddleware checks admin authentication
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.validAdminToken(c.GetHeader("X-Admin-Token")) {
			s.logger.Warn("Invalid admin token attempt",
				zap.String("client_key", s.keyFunc(c.Request)))
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) validAdminToken(token string) bool {
	if token == "" {
		return false
	}
	expected := adminToken(s.cfg.Security.AdminPassword)
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// adminToken derives the admin session token from the password.
func adminToken(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
