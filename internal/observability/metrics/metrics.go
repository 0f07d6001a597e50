package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type actionLabel struct {
	action  string
	outcome string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests, auth
// events, snapshot refreshes, unit actions, and live stream subscribers. All
// writers are coordinated through a RWMutex; gauges use atomics so subscriber
// churn never contends with scrapes.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	authEvents        map[string]uint64
	snapshotRefreshes uint64
	snapshotFailures  uint64
	unitActions       map[actionLabel]uint64
	statusSubscribers atomic.Int64
	logSubscribers    atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record immediately without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		authEvents:      make(map[string]uint64),
		unitActions:     make(map[actionLabel]uint64),
	}
}

// Default returns the singleton Recorder shared across packages that do not
// need a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveAuthEvent counts an authentication lifecycle event such as
// "challenge_issued", "login_success", "login_failure", or "logout".
func (r *Recorder) ObserveAuthEvent(event string) {
	normalized := strings.ToLower(strings.TrimSpace(event))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.authEvents[normalized]++
	r.mu.Unlock()
}

// ObserveSnapshotRefresh counts one status snapshot computation and whether it
// failed outright.
func (r *Recorder) ObserveSnapshotRefresh(failed bool) {
	r.mu.Lock()
	r.snapshotRefreshes++
	if failed {
		r.snapshotFailures++
	}
	r.mu.Unlock()
}

// ObserveUnitAction counts a systemctl invocation by action name and outcome.
func (r *Recorder) ObserveUnitAction(action string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	label := actionLabel{action: strings.ToLower(strings.TrimSpace(action)), outcome: outcome}
	r.mu.Lock()
	r.unitActions[label]++
	r.mu.Unlock()
}

// StatusStreamOpened increments the live status subscriber gauge.
func (r *Recorder) StatusStreamOpened() {
	r.statusSubscribers.Add(1)
}

// StatusStreamClosed decrements the live status subscriber gauge.
func (r *Recorder) StatusStreamClosed() {
	decrementGauge(&r.statusSubscribers)
}

// LogStreamOpened increments the journal tail subscriber gauge.
func (r *Recorder) LogStreamOpened() {
	r.logSubscribers.Add(1)
}

// LogStreamClosed decrements the journal tail subscriber gauge.
func (r *Recorder) LogStreamClosed() {
	decrementGauge(&r.logSubscribers)
}

func decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Handler exposes the recorded metrics in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets for stable output across scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		requestLabels = append(requestLabels, label)
	}
	sort.Slice(requestLabels, func(i, j int) bool {
		a, b := requestLabels[i], requestLabels[j]
		if a.path != b.path {
			return a.path < b.path
		}
		if a.method != b.method {
			return a.method < b.method
		}
		return a.status < b.status
	})

	fmt.Fprintln(w, "# HELP panel_http_requests_total Total number of HTTP requests processed by the panel")
	fmt.Fprintln(w, "# TYPE panel_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "panel_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP panel_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE panel_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "panel_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	authEvents := make([]string, 0, len(r.authEvents))
	for event := range r.authEvents {
		authEvents = append(authEvents, event)
	}
	sort.Strings(authEvents)
	fmt.Fprintln(w, "# HELP panel_auth_events_total Authentication lifecycle events by type")
	fmt.Fprintln(w, "# TYPE panel_auth_events_total counter")
	for _, event := range authEvents {
		fmt.Fprintf(w, "panel_auth_events_total{event=%q} %d\n", event, r.authEvents[event])
	}

	fmt.Fprintln(w, "# HELP panel_snapshot_refreshes_total Status snapshot computations")
	fmt.Fprintln(w, "# TYPE panel_snapshot_refreshes_total counter")
	fmt.Fprintf(w, "panel_snapshot_refreshes_total %d\n", r.snapshotRefreshes)
	fmt.Fprintln(w, "# HELP panel_snapshot_failures_total Status snapshot computations that failed outright")
	fmt.Fprintln(w, "# TYPE panel_snapshot_failures_total counter")
	fmt.Fprintf(w, "panel_snapshot_failures_total %d\n", r.snapshotFailures)

	actionLabels := make([]actionLabel, 0, len(r.unitActions))
	for label := range r.unitActions {
		actionLabels = append(actionLabels, label)
	}
	sort.Slice(actionLabels, func(i, j int) bool {
		a, b := actionLabels[i], actionLabels[j]
		if a.action != b.action {
			return a.action < b.action
		}
		return a.outcome < b.outcome
	})
	fmt.Fprintln(w, "# HELP panel_unit_actions_total systemctl invocations by action and outcome")
	fmt.Fprintln(w, "# TYPE panel_unit_actions_total counter")
	for _, label := range actionLabels {
		fmt.Fprintf(w, "panel_unit_actions_total{action=%q,outcome=%q} %d\n", label.action, label.outcome, r.unitActions[label])
	}

	fmt.Fprintln(w, "# HELP panel_status_stream_subscribers Currently connected status stream subscribers")
	fmt.Fprintln(w, "# TYPE panel_status_stream_subscribers gauge")
	fmt.Fprintf(w, "panel_status_stream_subscribers %d\n", r.statusSubscribers.Load())
	fmt.Fprintln(w, "# HELP panel_log_stream_subscribers Currently connected journal tail subscribers")
	fmt.Fprintln(w, "# TYPE panel_log_stream_subscribers gauge")
	fmt.Fprintf(w, "panel_log_stream_subscribers %d\n", r.logSubscribers.Load())
}
