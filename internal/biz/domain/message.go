package domain

import "time"

// Message represents one ingested channel message
type Message struct {
	ID         int64  // Store insertion id, assigned on append
	Channel    string // Channel name or chat id the message was scraped from
	MsgID      string // Platform-native message id, unique within the channel
	Sender     string
	Text       string
	PostedAt   time.Time // Message timestamp from the platform (UTC)
	IngestedAt time.Time
}

// DedupKey returns the (channel, message id) pair that identifies the message
func (m *Message) DedupKey() string {
	return m.Channel + "/" + m.MsgID
}

// InWindow checks if the message falls inside [start, end)
func (m *Message) InWindow(start, end time.Time) bool {
	return !m.PostedAt.Before(start) && m.PostedAt.Before(end)
}
