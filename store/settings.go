package store

import (
	"context"
	"errors"
	"time"

	"afroboost/models"

	"gorm.io/gorm/clause"
)

// PlatformSettings returns the singleton, or defaults when it was never saved.
func (s *Store) PlatformSettings(ctx context.Context) (*models.PlatformSettings, error) {
	settings := models.PlatformSettings{
		ID:       models.SingletonID,
		Branding: map[string]any{},
		Features: map[string]any{},
	}
	err := s.db.WithContext(ctx).Where("id = ?", models.SingletonID).First(&settings).Error
	if err != nil && !errors.Is(notFound(err), ErrNotFound) {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) SavePlatformSettings(ctx context.Context, settings *models.PlatformSettings) error {
	settings.ID = models.SingletonID
	settings.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(settings).Error
}

func (s *Store) ConceptSettings(ctx context.Context) (*models.ConceptSettings, error) {
	settings := models.ConceptSettings{
		ID:       models.SingletonID,
		AppName:  "Afroboost",
		Branding: map[string]any{},
		Features: map[string]any{},
	}
	err := s.db.WithContext(ctx).Where("id = ?", models.SingletonID).First(&settings).Error
	if err != nil && !errors.Is(notFound(err), ErrNotFound) {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) SaveConceptSettings(ctx context.Context, settings *models.ConceptSettings) error {
	settings.ID = models.SingletonID
	settings.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(settings).Error
}
