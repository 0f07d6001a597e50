package api

import (
	"fmt"
	"net/http"
	"strings"
)

// SessionCookieName is the cookie carrying the operator's session id.
const SessionCookieName = "panel_session"

// ExtractToken pulls the session id from the request, preferring a Bearer
// header over the session cookie so scripted clients can skip cookies.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// AuthenticateRequest validates the session on the request. A successful
// validation slides the session expiry forward.
func (h *Handler) AuthenticateRequest(r *http.Request) error {
	token := ExtractToken(r)
	if token == "" {
		return fmt.Errorf("missing session token")
	}
	if !h.Auth.ValidateSession(token) {
		return fmt.Errorf("invalid or expired session")
	}
	return nil
}
