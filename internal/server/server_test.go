package server

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/genai-studio/edge-proxy/internal/config"
	"github.com/genai-studio/edge-proxy/internal/logger"
	"github.com/genai-studio/edge-proxy/internal/token"
	"github.com/genai-studio/edge-proxy/internal/upstream"
	"github.com/genai-studio/edge-proxy/internal/validate"
)

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(http.StatusOK, `{}`))

	rec := env.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = env.do(http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/ping", "")
	assert.JSONEq(t, `{"message":"pong"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(http.StatusOK, `{"id":"x"}`))

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/chat", chatBody).Code)

	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `edgeproxy_requests_total{capability="chat",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), `edgeproxy_tokens_minted_total{result="ok"} 1`)
}

func TestAdmin_LoginAndLogs(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(http.StatusOK, `{}`))
	env.logs.Add(logger.LogEntry{Level: "info", Message: "first"})
	env.logs.Add(logger.LogEntry{Level: "warn", Message: "second"})

	rec := env.do(http.MethodPost, "/admin/login", `{"password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/admin/login", `{"password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	tok := body["token"].(string)
	assert.Equal(t, adminToken("hunter2"), tok)

	rec = env.do(http.MethodGet, "/admin/verify", "", "X-Admin-Token", tok)
	assert.JSONEq(t, `{"valid":true}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/admin/logs?limit=1", "", "X-Admin-Token", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["limit"])
	logs := body["logs"].([]interface{})
	require.Len(t, logs, 1)
	assert.Equal(t, "second", logs[0].(map[string]interface{})["message"])

	rec = env.do(http.MethodGet, "/admin/logs?limit=9999&offset=-3", "", "X-Admin-Token", tok)
	body = decode(t, rec)
	assert.EqualValues(t, maxLogLimit, body["limit"])
	assert.EqualValues(t, 0, body["offset"])

	rec = env.do(http.MethodDelete, "/admin/logs", "", "X-Admin-Token", tok)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Zero(t, env.logs.Len())
}

func TestAdmin_Unauthorized(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(http.StatusOK, `{}`))

	rec := env.do(http.MethodGet, "/admin/logs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodDelete, "/admin/logs", "", "X-Admin-Token", adminToken("guess"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/admin/verify", "")
	assert.JSONEq(t, `{"valid":false}`, rec.Body.String())
}

func TestAdmin_DisabledWithoutPassword(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(http.StatusOK, `{}`), func(cfg *config.Config) {
		cfg.Security.AdminPassword = ""
	})

	rec := env.do(http.MethodPost, "/admin/login", `{"password":""}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_InvalidRateLimitPreset(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.RateLimit.Video.Preset = "unbounded"

	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	label := "BigModel API error"

	perr := classify(ctx, validate.Errors{{Field: "model", Message: "bad"}}, label)
	assert.Equal(t, KindValidation, perr.Kind)
	assert.Equal(t, http.StatusBadRequest, perr.Status)

	perr = classify(ctx, upstream.ErrMissingCredential, label)
	assert.Equal(t, KindConfig, perr.Kind)
	assert.Equal(t, "API key not configured", perr.Body.Error)

	perr = classify(ctx, &upstream.StatusError{Status: http.StatusBadGateway}, label)
	assert.Equal(t, KindUpstream, perr.Kind)
	assert.Equal(t, http.StatusBadGateway, perr.Status)
	assert.Equal(t, label, perr.Body.Error)

	perr = classify(ctx, context.DeadlineExceeded, label)
	assert.Equal(t, KindTimeout, perr.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, perr.Status)

	perr = classify(ctx, &token.SigningError{Err: errors.New("hmac")}, label)
	assert.Equal(t, KindConfig, perr.Kind)
	assert.Equal(t, "Internal server error", perr.Body.Error)

	perr = classify(ctx, errors.New("connection reset"), label)
	assert.Equal(t, KindInternal, perr.Kind)
	assert.Equal(t, "connection reset", perr.Body.Message)
	assert.ErrorIs(t, perr, perr.Err)

	again := classify(ctx, perr, "other")
	assert.Same(t, perr, again)
}
