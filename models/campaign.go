package models

import "time"

type CampaignChannel string

const (
	ChannelEmail    CampaignChannel = "email"
	ChannelWhatsApp CampaignChannel = "whatsapp"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
)

// Campaign is a scheduled broadcast. The row is the queue: the worker claims
// it by compare-and-set on Status and records each recipient outcome in Log.
type Campaign struct {
	ID            string              `gorm:"primaryKey;size:64" json:"id"`
	CoachID       string              `gorm:"not null;index" json:"coach_id"`
	Name          string              `json:"name"`
	Channel       CampaignChannel     `gorm:"not null;size:16" json:"channel"`
	Subject       string              `json:"subject,omitempty"`
	Body          string              `gorm:"type:text;not null" json:"body"`
	Recipients    []CampaignRecipient `gorm:"type:jsonb;serializer:json" json:"recipients"`
	ScheduledAt   *time.Time          `gorm:"index:idx_campaign_due,priority:2" json:"scheduled_at"`
	Status        CampaignStatus      `gorm:"not null;size:16;default:'draft';index:idx_campaign_due,priority:1" json:"status"`
	MaxAttempts   int                 `gorm:"not null;default:3" json:"attempts_per_recipient"`
	Log           []CampaignLogEntry  `gorm:"type:jsonb;serializer:json" json:"log"`
	ClaimedBy     string              `gorm:"size:128" json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time          `json:"claimed_at,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type CampaignRecipient struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// CampaignLogEntry is the delivery outcome for one de-duplicated recipient.
type CampaignLogEntry struct {
	RecipientKey string          `json:"recipient_key"`
	Name         string          `json:"name,omitempty"`
	Address      string          `json:"address"`
	Status       RecipientStatus `json:"status"`
	Attempts     int             `json:"attempts"`
	ProviderID   string          `json:"provider_id,omitempty"`
	Error        string          `json:"error,omitempty"`
	AttemptedAt  *time.Time      `json:"attempted_at,omitempty"`
}

// Terminal reports whether the entry will never be retried.
func (e CampaignLogEntry) Terminal() bool {
	return e.Status == RecipientSent || e.Status == RecipientFailed
}
