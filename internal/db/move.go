package db

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Move statuses derived from the nullable timestamps.
const (
	StatusInCompost = "in_compost"
	StatusRecovered = "recovered"
	StatusEvicted   = "evicted"
)

// Move is one relocation into the compost tree.
type Move struct {
	ID          string `json:"id"`
	Op          string `json:"op"`
	Tier        string `json:"tier"`
	ScopeKey    string `json:"scope_key"`
	SourcePath  string `json:"source_path"`
	CompostPath string `json:"compost_path"`
	Bytes       int64  `json:"bytes"`
	MovedAt     int64  `json:"moved_at"`
	RecoveredAt *int64 `json:"recovered_at,omitempty"`
	EvictedAt   *int64 `json:"evicted_at,omitempty"`
}

// Status reports where the moved item is now.
func (m *Move) Status() string {
	switch {
	case m.RecoveredAt != nil:
		return StatusRecovered
	case m.EvictedAt != nil:
		return StatusEvicted
	default:
		return StatusInCompost
	}
}

// NewID returns a new ULID, sortable by creation time.
func NewID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
