package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diprog/systemd-panel/internal/auth"
	"github.com/diprog/systemd-panel/internal/journal"
	"github.com/diprog/systemd-panel/internal/observability/metrics"
	"github.com/diprog/systemd-panel/internal/statusbus"
	"github.com/diprog/systemd-panel/internal/systemd"
)

// Handler exposes the panel's JSON and SSE endpoints. Auth, Units, and Buses
// are required; the remaining fields are optional and fall back to safe
// defaults.
type Handler struct {
	Auth                *auth.Manager
	Units               *systemd.Manager
	Buses               *statusbus.Registry
	Journal             journal.Store
	Logger              *slog.Logger
	Metrics             *metrics.Recorder
	SessionCookiePolicy SessionCookiePolicy
}

func NewHandler(manager *auth.Manager, units *systemd.Manager, buses *statusbus.Registry) *Handler {
	return &Handler{Auth: manager, Units: units, Buses: buses}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Challenge hands out a single-use login nonce.
func (h *Handler) Challenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	nonce, err := h.Auth.IssueChallenge()
	if err != nil {
		h.logger().Error("issue challenge", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("challenge unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"nonce": nonce})
}

type loginRequest struct {
	Nonce string `json:"nonce"`
	Proof string `json:"proof"`
}

// Login redeems a challenge proof for a session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.metrics().ObserveAuthEvent("login_malformed")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "malformed request"})
		return
	}
	session, err := h.Auth.Redeem(req.Nonce, req.Proof)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredential) {
			h.logger().Error("redeem challenge", "error", err)
		}
		h.metrics().ObserveAuthEvent("login_rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"ok": false, "error": "invalid"})
		return
	}
	h.metrics().ObserveAuthEvent("login_accepted")
	h.setSessionCookie(w, r, session, time.Now().Add(h.Auth.SessionTTL()))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Logout revokes the presented session, if any. It always succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if token := ExtractToken(r); token != "" {
		h.Auth.RevokeSession(token)
	}
	h.metrics().ObserveAuthEvent("logout")
	h.ClearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Services returns the current snapshot of every managed unit.
func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	statuses, err := h.Units.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("snapshot failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": statuses})
}

type actionResponse struct {
	OK     bool   `json:"ok"`
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// ServiceAction runs start, stop, or restart against one managed unit.
// The path is /api/service/{unit}/{action}.
func (h *Handler) ServiceAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/service/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	unit, action := parts[0], parts[1]
	if !strings.HasSuffix(unit, ".service") {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unit must end in .service"))
		return
	}
	if !h.Units.IsManaged(unit) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown unit"))
		return
	}

	var result systemd.ActionResult
	var err error
	switch action {
	case "start":
		result, err = h.Units.Start(r.Context(), unit)
	case "stop":
		result, err = h.Units.Stop(r.Context(), unit)
	case "restart":
		result, err = h.Units.Restart(r.Context(), unit)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action"))
		return
	}
	if err != nil {
		h.logger().Error("unit action", "unit", unit, "action", action, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("action failed"))
		return
	}

	h.metrics().ObserveUnitAction(action, result.OK())
	h.logger().Info("unit action", "unit", unit, "action", action, "code", result.Code)
	h.recordAction(r.Context(), unit, action, result)
	h.Buses.Get(h.Units.Dir()).Trigger()

	writeJSON(w, http.StatusOK, actionResponse{
		OK:     result.OK(),
		Code:   result.Code,
		Stdout: result.Stdout,
		Stderr: result.Stderr,
	})
}

func (h *Handler) recordAction(ctx context.Context, unit, action string, result systemd.ActionResult) {
	if h.Journal == nil {
		return
	}
	entry := journal.Entry{
		Unit:      unit,
		Action:    action,
		Code:      result.Code,
		OK:        result.OK(),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Journal.Append(ctx, entry); err != nil {
		h.logger().Error("record action", "unit", unit, "action", action, "error", err)
	}
}

// Actions returns the recent action history, newest first.
func (h *Handler) Actions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if h.Journal == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"actions": []journal.Entry{}})
		return
	}
	limit := journal.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit"))
			return
		}
		limit = parsed
	}
	entries, err := h.Journal.Recent(r.Context(), limit)
	if err != nil {
		h.logger().Error("journal query", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("journal unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": entries})
}
