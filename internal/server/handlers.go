package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/genai-studio/edge-proxy/internal/logger"
	"github.com/genai-studio/edge-proxy/internal/models"
)

// Admin log paging.
const (
	defaultLogLimit = 100
	maxLogLimit     = 500
)

// ==================== 管理员认证 ====================

func (s *Server) adminLogin(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.Security.AdminPassword)) != 1 {
		s.logger.Warn("Failed login attempt", zap.String("client_key", s.keyFunc(c.Request)))
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid password"})
		return
	}

	s.logger.Info("Admin logged in successfully")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   adminToken(req.Password),
	})
}

func (s *Server) adminVerify(c *gin.Context) {
	if !s.validAdminToken(c.GetHeader("X-Admin-Token")) {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// ==================== 日志 ====================

func (s *Server) getLogs(c *gin.Context) {
	limit := queryInt(c, "limit", defaultLogLimit)
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs := []logger.LogEntry{}
	total := 0
	if s.logs != nil {
		logs, total = s.logs.Range(offset, limit)
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) clearLogs(c *gin.Context) {
	if s.logs != nil {
		s.logs.Clear()
	}
	s.logger.Info("Log buffer cleared")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// queryInt parses an integer query parameter, returning def when it is
// absent or malformed.
func queryInt(c *gin.Context, name string, def int) int {
	v, ok := c.GetQuery(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
