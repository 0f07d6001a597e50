package api

import (
	"fmt"
	"net/http"
	"strings"
)

// sseEncoder writes server-sent event frames and flushes after each write
// so proxies and browsers see frames as they happen.
type sseEncoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEEncoder(w http.ResponseWriter) (*sseEncoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseEncoder{w: w, flusher: flusher}, nil
}

// comment writes an SSE comment line. The stream opens with one so clients
// learn immediately that the connection is live.
func (e *sseEncoder) comment(text string) error {
	if _, err := fmt.Fprintf(e.w, ":%s\n\n", text); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// event writes one frame. Multi-line payloads become one data line each,
// which the client-side EventSource rejoins with newlines.
func (e *sseEncoder) event(name string, payload []byte) error {
	if _, err := fmt.Fprintf(e.w, "event: %s\n", name); err != nil {
		return err
	}
	for _, line := range strings.Split(string(payload), "\n") {
		if _, err := fmt.Fprintf(e.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(e.w, "\n"); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
