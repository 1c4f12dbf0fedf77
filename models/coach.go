package models

import "time"

// UnlimitedCredits marks a coach whose balance is never decremented.
const UnlimitedCredits = -1

// Coach is a partner account. Email is the tenant key used as coach_id on
// every record the coach owns.
type Coach struct {
	Email        string    `gorm:"primaryKey;size:320" json:"email"`
	Name         string    `json:"name"`
	PlatformName string    `json:"platform_name,omitempty"`
	Credits      int       `gorm:"not null;default:0" json:"credits"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
	StripeLink   string    `json:"stripe_link,omitempty"`
	TwintLink    string    `json:"twint_link,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c *Coach) Unlimited() bool {
	return c.Credits == UnlimitedCredits
}

// CreditTransaction records credit usage and purchases. StripeEventID makes
// webhook top-ups idempotent.
type CreditTransaction struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CoachEmail    string    `gorm:"not null;index;size:320" json:"coach_email"`
	Delta         int       `gorm:"not null" json:"delta"`
	BalanceAfter  int       `json:"balance_after"`
	Reason        string    `json:"reason"`
	StripeEventID *string   `gorm:"uniqueIndex;size:255" json:"stripe_event_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
