// Package cors resolves the allowed origin of each request and answers
// preflight requests.
package cors

import (
	"errors"
	"net/http"
	"strings"
)

// Static headers applied to every response.
const (
	AllowMethods     = "GET, POST, PUT, DELETE, OPTIONS"
	AllowHeaders     = "Content-Type, Authorization, X-Requested-With, X-Admin-Token"
	AllowCredentials = "true"
)

// DevOrigins is the allow-list used outside production when none is
// configured. The first entry is the fallback.
var DevOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

// ErrNoOriginsInProduction is returned by NewGate for a production
// deployment without an allow-list.
var ErrNoOriginsInProduction = errors.New("CORS_ALLOWED_ORIGINS must be set in production")

// Config configures a Gate.
type Config struct {
	// AllowedOrigins is a comma separated list of origins.
	AllowedOrigins string `mapstructure:"allowed_origins"`
	// Strict omits Access-Control-Allow-Origin for unmatched origins
	// instead of granting the first allowed origin.
	Strict bool `mapstructure:"strict"`
}

// Gate applies the CORS policy.
type Gate struct {
	origins []string
	strict  bool
}

// NewGate builds a gate. It fails when production is set and no origins
// are configured.
func NewGate(cfg Config, production bool) (*Gate, error) {
	origins := splitOrigins(cfg.AllowedOrigins)
	if len(origins) == 0 {
		if production {
			return nil, ErrNoOriginsInProduction
		}
		origins = append([]string(nil), DevOrigins...)
	}
	return &Gate{origins: origins, strict: cfg.Strict}, nil
}

func splitOrigins(list string) []string {
	var out []string
	for _, o := range strings.Split(list, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Origins returns the effective allow-list.
func (g *Gate) Origins() []string {
	return append([]string(nil), g.origins...)
}

// ResolveAllowedOrigin returns the value of Access-Control-Allow-Origin
// for a request from origin. An empty result means the header is omitted.
func (g *Gate) ResolveAllowedOrigin(origin string) string {
	if origin != "" {
		for _, o := range g.origins {
			if o == origin {
				return o
			}
		}
	}
	if g.strict {
		return ""
	}
	return g.origins[0]
}

// Apply writes the CORS headers for a request from origin.
func (g *Gate) Apply(h http.Header, origin string) {
	if allowed := g.ResolveAllowedOrigin(origin); allowed != "" {
		h.Set("Access-Control-Allow-Origin", allowed)
	}
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", AllowMethods)
	h.Set("Access-Control-Allow-Headers", AllowHeaders)
	h.Set("Access-Control-Allow-Credentials", AllowCredentials)
}

// HandlePreflight answers an OPTIONS request with 204 and the CORS headers.
// It reports whether the request was handled; callers stop processing when
// it returns true.
func (g *Gate) HandlePreflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodOptions {
		return false
	}
	g.Apply(w.Header(), r.Header.Get("Origin"))
	w.WriteHeader(http.StatusNoContent)
	return true
}
