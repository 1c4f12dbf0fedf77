package models

import "time"

// SingletonID is the primary key of the settings documents.
const SingletonID = "singleton"

type PlatformSettings struct {
	ID              string         `gorm:"primaryKey;size:32" json:"-"`
	MaintenanceMode bool           `json:"maintenance_mode"`
	Branding        map[string]any `gorm:"type:jsonb;serializer:json" json:"branding"`
	Features        map[string]any `gorm:"type:jsonb;serializer:json" json:"features"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type ConceptSettings struct {
	ID          string         `gorm:"primaryKey;size:32" json:"-"`
	AppName     string         `json:"app_name"`
	Description string         `json:"description"`
	HeroVideo   string         `json:"hero_video_url,omitempty"`
	Branding    map[string]any `gorm:"type:jsonb;serializer:json" json:"branding"`
	Features    map[string]any `gorm:"type:jsonb;serializer:json" json:"features"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
