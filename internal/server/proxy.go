package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/genai-studio/edge-proxy/internal/relay"
	"github.com/genai-studio/edge-proxy/internal/upstream"
)

// maxBodyBytes bounds an inbound request body.
const maxBodyBytes = 32 << 20

const videoStatusError = "Failed to retrieve video status"

// chat handles POST /chat, relaying either a JSON body or an event stream.
func (s *Server) chat(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		s.fail(c, upstream.Chat, c.Request.Context(), err)
		return
	}

	req, err := s.validator.Chat(raw)
	if err != nil {
		s.fail(c, upstream.Chat, c.Request.Context(), err)
		return
	}

	ctx, cancel := s.upstreamContext(c, upstream.Chat)
	defer cancel()

	resp, err := s.callUpstream(upstream.Chat, func() (*http.Response, error) {
		return s.upstream.Chat(ctx, req)
	})
	if err != nil {
		s.fail(c, upstream.Chat, ctx, err)
		return
	}

	if req.Stream {
		s.relayStream(c, ctx, resp)
		return
	}
	s.relayJSON(c, upstream.Chat, ctx, resp)
}

// image handles POST /image.
func (s *Server) image(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		s.fail(c, upstream.Image, c.Request.Context(), err)
		return
	}

	req, err := s.validator.Image(raw)
	if err != nil {
		s.fail(c, upstream.Image, c.Request.Context(), err)
		return
	}

	ctx, cancel := s.upstreamContext(c, upstream.Image)
	defer cancel()

	resp, err := s.callUpstream(upstream.Image, func() (*http.Response, error) {
		return s.upstream.Image(ctx, req)
	})
	if err != nil {
		s.fail(c, upstream.Image, ctx, err)
		return
	}
	s.relayJSON(c, upstream.Image, ctx, resp)
}

// video handles POST /video (create a task) and GET /video?id= (task status).
func (s *Server) video(c *gin.Context) {
	if c.Request.Method == http.MethodGet {
		s.videoStatus(c)
		return
	}

	raw, err := readBody(c)
	if err != nil {
		s.fail(c, upstream.Video, c.Request.Context(), err)
		return
	}

	req, err := s.validator.Video(raw)
	if err != nil {
		s.fail(c, upstream.Video, c.Request.Context(), err)
		return
	}

	ctx, cancel := s.upstreamContext(c, upstream.Video)
	defer cancel()

	resp, err := s.callUpstream(upstream.Video, func() (*http.Response, error) {
		return s.upstream.CreateVideo(ctx, req)
	})
	if err != nil {
		s.fail(c, upstream.Video, ctx, err)
		return
	}
	s.relayJSON(c, upstream.Video, ctx, resp)
}

func (s *Server) videoStatus(c *gin.Context) {
	var id *string
	if v, ok := c.GetQuery("id"); ok {
		id = &v
	}

	q, err := s.validator.VideoQuery(id)
	if err != nil {
		s.fail(c, upstream.Video, c.Request.Context(), err)
		return
	}

	ctx, cancel := s.upstreamContext(c, upstream.Video)
	defer cancel()

	resp, err := s.callUpstream(upstream.Video, func() (*http.Response, error) {
		return s.upstream.RetrieveVideo(ctx, q)
	})
	if err != nil {
		s.render(c, upstream.Video, classify(ctx, err, videoStatusError))
		return
	}
	s.relayJSON(c, upstream.Video, ctx, resp)
}

func readBody(c *gin.Context) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return raw, nil
}

// upstreamContext derives the deadline-bound context of an upstream call.
// It also bounds the stream relay.
func (s *Server) upstreamContext(c *gin.Context, capability upstream.Capability) (context.Context, context.CancelFunc) {
	timeout := s.upstream.Timeout(capability)
	if timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

func (s *Server) callUpstream(capability upstream.Capability, call func() (*http.Response, error)) (*http.Response, error) {
	start := time.Now()
	resp, err := call()
	s.metrics.ObserveUpstream(string(capability), time.Since(start))
	return resp, err
}

// relayJSON forwards a successful upstream JSON body verbatim.
func (s *Server) relayJSON(c *gin.Context, capability upstream.Capability, ctx context.Context, resp *http.Response) {
	body, err := upstream.ReadJSON(resp)
	if err != nil {
		s.fail(c, capability, ctx, err)
		return
	}
	c.Data(resp.StatusCode, "application/json; charset=utf-8", body)
}

// relayStream forwards an upstream event stream. Once the headers are sent
// failures can only end the stream, so they are logged rather than rendered.
func (s *Server) relayStream(c *gin.Context, ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()

	relay.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	stats, err := relay.Stream(ctx, c.Writer, resp.Body)
	s.metrics.ObserveStream(stats)

	fields := []zap.Field{
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Int("relayed", stats.Relayed),
		zap.Int("skipped", stats.Skipped),
		zap.Bool("done", stats.Done),
	}
	switch {
	case err == nil:
		s.logger.Debug("Stream relayed", fields...)
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("Stream ended by upstream deadline", fields...)
	case errors.Is(err, context.Canceled):
		s.logger.Info("Stream canceled by client", fields...)
	default:
		s.logger.Warn("Stream relay failed", append(fields, zap.Error(err))...)
	}
}

// fail classifies err as an upstream failure of capability and renders it.
func (s *Server) fail(c *gin.Context, capability upstream.Capability, ctx context.Context, err error) {
	s.render(c, capability, classify(ctx, err, s.upstream.ProviderName()+" API error"))
}

func (s *Server) render(c *gin.Context, capability upstream.Capability, perr *ProxyError) {
	fields := []zap.Field{
		zap.String("capability", string(capability)),
		zap.String("kind", string(perr.Kind)),
		zap.Int("status", perr.Status),
		zap.String("request_id", c.GetString(requestIDKey)),
	}

	switch perr.Kind {
	case KindValidation:
		s.logger.Debug("Request rejected", append(fields, zap.Error(perr.Err))...)
	case KindUpstream, KindTimeout:
		s.logger.Warn("Upstream call failed", append(fields, zap.Error(perr.Err))...)
	default:
		s.logger.Error("Request failed", append(fields, zap.Error(perr.Err))...)
	}

	c.AbortWithStatusJSON(perr.Status, perr.Body)
}
