package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genai-studio/edge-proxy/internal/relay"
)

func TestObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest("chat", 200)
	m.ObserveRequest("chat", 200)
	m.ObserveRequest("image", 429)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("chat", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("image", "429")))
}

func TestObserveStream(t *testing.T) {
	m := New()

	m.ObserveStream(relay.Stats{Relayed: 3, Skipped: 1, Done: true})
	m.ObserveStream(relay.Stats{Relayed: 2})

	assert.Equal(t, 5.0, testutil.ToFloat64(m.streamEvents.WithLabelValues("relayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamEvents.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamEvents.WithLabelValues("done")))
}

func TestObserveMint(t *testing.T) {
	m := New()

	m.ObserveMint(nil)
	m.ObserveMint(errors.New("bad key"))
	m.ObserveMint(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokensMinted.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokensMinted.WithLabelValues("error")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRateLimited("video")
	m.ObserveUpstream("chat", 150*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `edgeproxy_rate_limited_total{capability="video"} 1`)
	assert.Contains(t, body, `edgeproxy_upstream_duration_seconds_count{capability="chat"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
