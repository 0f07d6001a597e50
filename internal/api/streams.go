package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/diprog/systemd-panel/internal/systemd"
)

// StatusStream serves live unit snapshots over SSE. The first frame is
// written before the handler blocks, so a fresh subscriber renders without
// waiting for the next refresh tick.
func (h *Handler) StatusStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	bus := h.Buses.Get(h.Units.Dir())
	sub := bus.Subscribe(r.Context())
	defer sub.Close()

	enc, err := newSSEEncoder(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.metrics().StatusStreamOpened()
	defer h.metrics().StatusStreamClosed()
	if err := enc.comment("ok"); err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-sub.Updates():
			if !ok {
				return
			}
			payload, err := json.Marshal(map[string]interface{}{"services": snapshot})
			if err != nil {
				h.logger().Error("encode status frame", "error", err)
				return
			}
			if err := enc.event("status", payload); err != nil {
				return
			}
		}
	}
}

// LogStream follows one unit's journal over SSE, one frame per line.
// Query parameters: unit (required), lines (backlog, default 200).
func (h *Handler) LogStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	unit := r.URL.Query().Get("unit")
	if !strings.HasSuffix(unit, ".service") {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unit must end in .service"))
		return
	}
	if !h.Units.IsManaged(unit) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown unit"))
		return
	}
	lines := systemd.DefaultJournalBacklog
	if raw := r.URL.Query().Get("lines"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid lines"))
			return
		}
		lines = parsed
	}

	ctx := r.Context()
	journalLines, err := h.Units.FollowJournal(ctx, unit, lines)
	if err != nil {
		h.logger().Error("follow journal", "unit", unit, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("journal unavailable"))
		return
	}

	enc, err := newSSEEncoder(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.metrics().LogStreamOpened()
	defer h.metrics().LogStreamClosed()
	if err := enc.comment("ok"); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-journalLines:
			if !ok {
				return
			}
			payload, err := json.Marshal(map[string]string{"line": line})
			if err != nil {
				return
			}
			if err := enc.event("log", payload); err != nil {
				return
			}
		}
	}
}
