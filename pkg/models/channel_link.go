package models

import "time"

// ChannelLink resolves an external channel identity to a user_id.
// Unique on (Channel, ChannelAddress).
type ChannelLink struct {
	UserID         string         `json:"user_id"`
	Channel        string         `json:"channel"`
	ChannelAddress string         `json:"channel_address"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
