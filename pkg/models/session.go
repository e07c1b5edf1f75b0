package models

import "time"

// CloseReason explains why a Session was closed.
type CloseReason string

const (
	CloseReasonTokenLimit CloseReason = "token_limit"
	CloseReasonManual     CloseReason = "manual"
)

// Session is the unit over which the token budget is enforced. At most
// one open session (EndedAt == nil) exists per (UserID, Channel) — guests
// are further capped at one open session total.
type Session struct {
	ID          string       `json:"session_id"`
	UserID      string       `json:"user_id"`
	Channel     ChannelType  `json:"channel"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	Summary     *string      `json:"summary,omitempty"`
	TokenCount  int          `json:"token_count"`
	CloseReason *CloseReason `json:"close_reason,omitempty"`
}

// IsOpen reports whether the session has not yet been closed.
func (s *Session) IsOpen() bool {
	return s != nil && s.EndedAt == nil
}
