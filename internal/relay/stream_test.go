package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns one chunk per Read call.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

// writeRecorder keeps every Write call separately.
type writeRecorder struct {
	writes  []string
	flushes int
}

func (w *writeRecorder) Write(p []byte) (int, error) {
	w.writes = append(w.writes, string(p))
	return len(p), nil
}

func (w *writeRecorder) Flush() {
	w.flushes++
}

func TestStream_TwoChunks(t *testing.T) {
	src := &chunkReader{chunks: []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n",
		"data: [DONE]\n\n",
	}}
	w := &writeRecorder{}

	stats, err := Stream(context.Background(), w, src)
	require.NoError(t, err)

	require.Len(t, w.writes, 2)
	assert.Contains(t, w.writes[0], "Hi")
	assert.Equal(t, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n", w.writes[0])
	assert.Equal(t, "data: [DONE]\n\n", w.writes[1])
	assert.Equal(t, 2, w.flushes)
	assert.Equal(t, Stats{Relayed: 1, Done: true}, stats)
}

func TestStream_ReassemblesSplitLines(t *testing.T) {
	src := &chunkReader{chunks: []string{
		"data: {\"id\":",
		"\"a\",\"n\":1}\n",
		"\ndata: {\"id\":\"b\"}\r\n\r\ndata: [DO",
		"NE]\n\n",
	}}
	w := &writeRecorder{}

	stats, err := Stream(context.Background(), w, src)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"data: {\"id\":\"a\",\"n\":1}\n\n",
		"data: {\"id\":\"b\"}\n\n",
		"data: [DONE]\n\n",
	}, w.writes)
	assert.Equal(t, 2, stats.Relayed)
	assert.True(t, stats.Done)
}

func TestStream_SkipsInvalidJSON(t *testing.T) {
	src := strings.NewReader(
		"data: {\"n\":1}\n\n" +
			"data: {not json\n\n" +
			"data: {\"n\":2}\n\n" +
			"data: [DONE]\n\n")
	w := &writeRecorder{}

	stats, err := Stream(context.Background(), w, src)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"data: {\"n\":1}\n\n",
		"data: {\"n\":2}\n\n",
		"data: [DONE]\n\n",
	}, w.writes)
	assert.Equal(t, Stats{Relayed: 2, Skipped: 1, Done: true}, stats)
}

func TestStream_IgnoresNonDataLines(t *testing.T) {
	src := strings.NewReader(": keep-alive\nevent: message\nid: 7\ndata: {\"n\":1}\n\n")
	w := &writeRecorder{}

	stats, err := Stream(context.Background(), w, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"data: {\"n\":1}\n\n"}, w.writes)
	assert.False(t, stats.Done)
}

func TestStream_CompactsPayload(t *testing.T) {
	src := strings.NewReader("data: { \"a\" : [ 1, 2 ] }\n")
	w := &writeRecorder{}

	_, err := Stream(context.Background(), w, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"data: {\"a\":[1,2]}\n\n"}, w.writes)
}

func TestStream_StopsAtDone(t *testing.T) {
	src := strings.NewReader("data: [DONE]\n\ndata: {\"late\":true}\n\n")
	w := &writeRecorder{}

	stats, err := Stream(context.Background(), w, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"data: [DONE]\n\n"}, w.writes)
	assert.Equal(t, 0, stats.Relayed)
}

func TestStream_DropsUnterminatedTail(t *testing.T) {
	src := strings.NewReader("data: {\"n\":1}\n\ndata: {\"n\":2}")
	w := &writeRecorder{}

	stats, err := Stream(context.Background(), w, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"data: {\"n\":1}\n\n"}, w.writes)
	assert.Equal(t, Stats{Relayed: 1}, stats)
}

func TestStream_ContextCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		_, _ = pw.Write([]byte("data: {\"n\":1}\n\n"))
		cancel()
		_ = pw.CloseWithError(context.Canceled)
	}()

	w := &writeRecorder{}
	_, err := Stream(ctx, w, pr)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStream_ReadError(t *testing.T) {
	pr, pw := io.Pipe()
	boom := errors.New("connection reset")
	go func() {
		_ = pw.CloseWithError(boom)
	}()

	_, err := Stream(context.Background(), &writeRecorder{}, pr)
	assert.ErrorIs(t, err, boom)
}

func TestStream_HTTPRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())

	_, err := Stream(context.Background(), rec, strings.NewReader("data: {\"n\":1}\n\ndata: [DONE]\n\n"))
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "data: {\"n\":1}\n\ndata: [DONE]\n\n", rec.Body.String())
}

func TestStream_OverHTTP(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"data: {\"a\"", ":1}\n\n", "data: [DONE]\n\n"} {
			_, _ = io.WriteString(w, part)
			f.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer upstream.Close()

	resp, err := http.Get(upstream.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	w := &writeRecorder{}
	stats, err := Stream(context.Background(), w, resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"data: {\"a\":1}\n\n", "data: [DONE]\n\n"}, w.writes)
	assert.True(t, stats.Done)
}
