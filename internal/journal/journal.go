package journal

import (
	"context"
	"time"
)

// Entry records one lifecycle action issued against a unit, together with
// the outcome systemctl reported.
type Entry struct {
	Unit      string    `json:"unit"`
	Action    string    `json:"action"`
	Code      int       `json:"code"`
	OK        bool      `json:"ok"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists action entries and serves the recent history shown in the
// dashboard. Recent returns entries newest first.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// DefaultRecentLimit bounds history responses when the caller asks for
// nothing specific.
const DefaultRecentLimit = 50
