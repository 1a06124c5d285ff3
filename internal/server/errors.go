package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/genai-studio/edge-proxy/internal/models"
	"github.com/genai-studio/edge-proxy/internal/token"
	"github.com/genai-studio/edge-proxy/internal/upstream"
	"github.com/genai-studio/edge-proxy/internal/validate"
)

// ErrorKind tags a ProxyError.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindUpstream   ErrorKind = "upstream"
	KindConfig     ErrorKind = "config"
	KindTimeout    ErrorKind = "timeout"
	KindInternal   ErrorKind = "internal"
)

// ProxyError is a classified handler failure ready to be rendered.
type ProxyError struct {
	Kind   ErrorKind
	Status int
	Body   models.ErrorResponse
	Err    error
}

func (e *ProxyError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Body.Error
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// classify maps a component error to a ProxyError. upstreamLabel is the
// error text used for upstream failures. ctx is the upstream call context,
// consulted to tell deadlines apart from other transport errors.
func classify(ctx context.Context, err error, upstreamLabel string) *ProxyError {
	var perr *ProxyError
	if errors.As(err, &perr) {
		return perr
	}

	var verrs validate.Errors
	if errors.As(err, &verrs) {
		return &ProxyError{
			Kind:   KindValidation,
			Status: http.StatusBadRequest,
			Body:   models.ErrorResponse{Error: "Validation error", Details: verrs},
			Err:    err,
		}
	}

	if errors.Is(err, upstream.ErrMissingCredential) {
		return &ProxyError{
			Kind:   KindConfig,
			Status: http.StatusInternalServerError,
			Body:   models.ErrorResponse{Error: "API key not configured"},
			Err:    err,
		}
	}

	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return &ProxyError{
			Kind:   KindUpstream,
			Status: statusErr.Status,
			Body:   models.ErrorResponse{Error: upstreamLabel, Details: statusErr.Body},
			Err:    err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return &ProxyError{
			Kind:   KindTimeout,
			Status: http.StatusGatewayTimeout,
			Body: models.ErrorResponse{
				Error:   "Upstream timeout",
				Message: "The upstream API did not respond in time",
			},
			Err: err,
		}
	}

	var signErr *token.SigningError
	if errors.Is(err, token.ErrMalformedCredential) || errors.As(err, &signErr) {
		return &ProxyError{
			Kind:   KindConfig,
			Status: http.StatusInternalServerError,
			Body:   models.ErrorResponse{Error: "Internal server error", Message: err.Error()},
			Err:    err,
		}
	}

	return &ProxyError{
		Kind:   KindInternal,
		Status: http.StatusInternalServerError,
		Body:   models.ErrorResponse{Error: "Internal server error", Message: err.Error()},
		Err:    err,
	}
}
