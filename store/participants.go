package store

import (
	"context"
	"fmt"
	"time"

	"afroboost/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertParticipant inserts p unless a participant with the same identity
// key already exists for the tenant, in which case the stored record is
// refreshed (last_seen_at, missing contact fields) and returned. Concurrent
// first calls collapse onto one row through the unique index.
func (s *Store) UpsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_key"}, {Name: "coach_id"}},
		DoNothing: true,
	}).Create(p)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert participant: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return p, true, nil
	}

	var existing models.Participant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_key = ? AND coach_id = ?", p.IdentityKey, p.CoachID).
			First(&existing).Error; err != nil {
			return notFound(err)
		}

		updates := map[string]interface{}{"last_seen_at": p.LastSeenAt}
		if existing.Phone == "" && p.Phone != "" {
			updates["phone"] = p.Phone
			existing.Phone = p.Phone
		}
		if existing.Email == "" && p.Email != "" {
			updates["email"] = p.Email
			existing.Email = p.Email
		}
		existing.LastSeenAt = p.LastSeenAt
		return tx.Model(&models.Participant{}).Where("id = ?", existing.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("refresh participant: %w", err)
	}
	return &existing, false, nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	var p models.Participant
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) TouchParticipant(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Participant{}).Where("id = ?", id).Update("last_seen_at", at).Error
}

// FindParticipant looks a participant up by identity key within a tenant.
func (s *Store) FindParticipant(ctx context.Context, identityKey, coachID string) (*models.Participant, error) {
	var p models.Participant
	if err := s.db.WithContext(ctx).Where("identity_key = ? AND coach_id = ?", identityKey, coachID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
