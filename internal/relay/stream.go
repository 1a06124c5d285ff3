// Package relay copies an upstream server-sent event stream to the client.
//
// Only "data: " lines are forwarded. Each complete line is re-emitted as its
// own event, in upstream order, and flushed immediately. Lines whose payload
// is not valid JSON are skipped and the stream continues.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DoneSentinel marks the end of an upstream stream.
const DoneSentinel = "[DONE]"

var (
	dataPrefix = []byte("data: ")
	doneEvent  = []byte("data: " + DoneSentinel + "\n\n")
)

// Stats summarizes a relayed stream.
type Stats struct {
	Relayed int
	Skipped int
	Done    bool
}

// SetHeaders writes the event-stream response headers.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// Stream reads events from src and writes them to w until the upstream
// sends the done sentinel, src is exhausted, or ctx ends. If w implements
// http.Flusher it is flushed after every event.
//
// A trailing line with no terminating newline is dropped. A nil error is
// returned for both the sentinel and a clean EOF; Stats.Done tells them
// apart.
func Stream(ctx context.Context, w io.Writer, src io.Reader) (Stats, error) {
	var stats Stats
	flusher, _ := w.(http.Flusher)
	r := bufio.NewReader(src)

	var compact bytes.Buffer
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		line, err := r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			return stats, fmt.Errorf("read upstream stream: %w", err)
		}

		line = bytes.TrimRight(line, "\r\n")
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])

		if string(payload) == DoneSentinel {
			if _, err := w.Write(doneEvent); err != nil {
				return stats, fmt.Errorf("write done event: %w", err)
			}
			flush(flusher)
			stats.Done = true
			return stats, nil
		}

		compact.Reset()
		if err := json.Compact(&compact, payload); err != nil {
			stats.Skipped++
			continue
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", compact.Bytes()); err != nil {
			return stats, fmt.Errorf("write event: %w", err)
		}
		flush(flusher)
		stats.Relayed++
	}
}

func flush(f http.Flusher) {
	if f != nil {
		f.Flush()
	}
}
