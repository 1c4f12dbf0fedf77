package models

import "time"

type Reservation struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	CoachID    string    `gorm:"not null;index" json:"coach_id"`
	UserEmail  string    `gorm:"not null;index" json:"user_email"`
	UserName   string    `json:"user_name"`
	CourseName string    `json:"course_name"`
	SlotAt     time.Time `json:"slot_at"`
	Status     string    `gorm:"size:16;default:'confirmed'" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
