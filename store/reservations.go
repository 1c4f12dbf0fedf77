package store

import (
	"context"

	"afroboost/access"
	"afroboost/models"
)

func (s *Store) CreateReservation(ctx context.Context, r *models.Reservation) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *Store) ListReservations(ctx context.Context, filter access.TenantFilter) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.WithContext(ctx).Scopes(Scoped(filter)).
		Order("slot_at ASC, id ASC").
		Find(&reservations).Error
	return reservations, err
}
