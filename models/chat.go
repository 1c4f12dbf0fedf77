package models

import "time"

type SessionMode string

const (
	SessionCommunity SessionMode = "community"
	SessionPrivate   SessionMode = "private"
	SessionDM        SessionMode = "dm"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// ChatSession is a logical conversation. UniqueKey enforces one community
// session per tenant and one dm session per unordered participant pair.
// Private sessions are opened by staff for a chosen set of participants.
type ChatSession struct {
	ID             string      `gorm:"primaryKey;size:64" json:"id"`
	Mode           SessionMode `gorm:"not null;size:16" json:"mode"`
	Title          string      `json:"title,omitempty"`
	CoachID        string      `gorm:"not null;index" json:"coach_id"`
	UniqueKey      string      `gorm:"not null;uniqueIndex" json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	ParticipantIDs []string    `gorm:"-" json:"participant_ids"`
}

type ChatSessionMember struct {
	SessionID     string    `gorm:"primaryKey;size:64"`
	ParticipantID string    `gorm:"primaryKey;size:64;index"`
	JoinedAt      time.Time
}

type ChatMessage struct {
	ID          string         `gorm:"primaryKey;size:64;index:idx_message_order,priority:3" json:"id"`
	SessionID   string         `gorm:"not null;size:64;index:idx_message_order,priority:1" json:"session_id"`
	SenderID    string         `gorm:"not null;size:320;index:idx_message_nonce,priority:1" json:"sender_id"`
	SenderName  string         `json:"sender_name"`
	Content     string         `gorm:"type:text;not null" json:"content"`
	CreatedAt   time.Time      `gorm:"index:idx_message_order,priority:2" json:"created_at"`
	Delivery    DeliveryStatus `gorm:"size:16;default:'pending'" json:"delivery"`
	ClientNonce *string        `gorm:"size:128;index:idx_message_nonce,priority:2" json:"client_nonce,omitempty"`
}

// ReadMarker is the per-participant high-water mark used for unread counts.
type ReadMarker struct {
	ParticipantID string    `gorm:"primaryKey;size:320"`
	SessionID     string    `gorm:"primaryKey;size:64"`
	LastReadAt    time.Time `gorm:"not null"`
}

// CommunityKey is the unique key of a tenant's community session.
func CommunityKey(coachID string) string {
	return "community:" + coachID
}

// DMKey is the unique key of the dm session between a and b, independent of
// argument order.
func DMKey(coachID, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + coachID + ":" + a + "|" + b
}

// PrivateKey makes every private session unique on its own id.
func PrivateKey(sessionID string) string {
	return "private:" + sessionID
}
