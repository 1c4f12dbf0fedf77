package models

import "time"

// Participant is a chat/CRM contact owned by one coach. IdentityKey is the
// normalized email, or "tel:<phone>" for phone-only contacts.
type Participant struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Email       string    `gorm:"index" json:"email"`
	Phone       string    `json:"phone"`
	Source      string    `json:"source"`
	CoachID     string    `gorm:"not null;uniqueIndex:idx_participant_identity,priority:2" json:"coach_id"`
	IdentityKey string    `gorm:"not null;uniqueIndex:idx_participant_identity,priority:1" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
