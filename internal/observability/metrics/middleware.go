package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"
)

// ResponseRecorder wraps an http.ResponseWriter and captures the status code
// written by the downstream handler. It forwards Flush and Hijack so streaming
// responses keep working through the middleware chain.
type ResponseRecorder struct {
	http.ResponseWriter
	status int
}

// NewResponseRecorder wraps the provided writer with a 200 default status.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status returns the last status code written to the response.
func (r *ResponseRecorder) Status() int {
	return r.status
}

func (r *ResponseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *ResponseRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// Middleware observes every request on the provided Recorder.
func Middleware(recorder *Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(wrapped, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, wrapped.Status(), time.Since(start))
	})
}
