package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"afroboost/access"
	"afroboost/models"
)

// ErrStateChanged is returned by guarded updates whose filter no longer
// matches: another request or worker moved the campaign first.
var ErrStateChanged = errors.New("campaign state changed")

// claimBatch bounds how many due campaigns one tick claims.
const claimBatch = 50

func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Store) GetCampaign(ctx context.Context, id string, filter access.TenantFilter) (*models.Campaign, error) {
	var c models.Campaign
	if err := s.db.WithContext(ctx).Scopes(Scoped(filter)).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, filter access.TenantFilter) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).Scopes(Scoped(filter)).
		Order("created_at DESC, id DESC").
		Find(&campaigns).Error
	return campaigns, err
}

// UpdateCampaignIf writes the named columns of c only while the stored status
// is one of from.
func (s *Store) UpdateCampaignIf(ctx context.Context, c *models.Campaign, columns []string, from ...models.CampaignStatus) error {
	c.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND coach_id = ? AND status IN ?", c.ID, c.CoachID, from).
		Select(append(columns, "updated_at")).
		Updates(c)
	if res.Error != nil {
		return fmt.Errorf("update campaign %s: %w", c.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStateChanged
	}
	return nil
}

// DeleteCampaignIf removes a campaign still in one of the given states.
func (s *Store) DeleteCampaignIf(ctx context.Context, id string, filter access.TenantFilter, from ...models.CampaignStatus) error {
	res := s.db.WithContext(ctx).Scopes(Scoped(filter)).
		Where("id = ? AND status IN ?", id, from).
		Delete(&models.Campaign{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateChanged
	}
	return nil
}

// ClaimDue moves due scheduled campaigns to running for workerID. Each claim
// is a compare-and-set on status, so concurrent workers never share one.
func (s *Store) ClaimDue(ctx context.Context, workerID string, now time.Time) ([]string, error) {
	var candidates []string
	if err := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("status = ? AND scheduled_at <= ?", models.CampaignScheduled, now).
		Order("scheduled_at ASC, id ASC").
		Limit(claimBatch).
		Pluck("id", &candidates).Error; err != nil {
		return nil, fmt.Errorf("find due campaigns: %w", err)
	}

	claimed := make([]string, 0, len(candidates))
	for _, id := range candidates {
		res := s.db.WithContext(ctx).Model(&models.Campaign{}).
			Where("id = ? AND status = ?", id, models.CampaignScheduled).
			Updates(map[string]interface{}{
				"status":     models.CampaignRunning,
				"claimed_by": workerID,
				"claimed_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return claimed, fmt.Errorf("claim campaign %s: %w", id, res.Error)
		}
		if res.RowsAffected == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

// ReclaimStale takes over running campaigns whose lease was not refreshed
// since now-lease. The guard on the previous owner and lease keeps a takeover
// exclusive.
func (s *Store) ReclaimStale(ctx context.Context, workerID string, now time.Time, lease time.Duration) ([]string, error) {
	cutoff := now.Add(-lease)

	var stale []models.Campaign
	if err := s.db.WithContext(ctx).Select("id", "claimed_by").
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", models.CampaignRunning, cutoff).
		Limit(claimBatch).
		Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("find stale campaigns: %w", err)
	}

	reclaimed := make([]string, 0, len(stale))
	for _, c := range stale {
		res := s.db.WithContext(ctx).Model(&models.Campaign{}).
			Where("id = ? AND status = ? AND claimed_by = ? AND (claimed_at IS NULL OR claimed_at < ?)",
				c.ID, models.CampaignRunning, c.ClaimedBy, cutoff).
			Updates(map[string]interface{}{
				"claimed_by": workerID,
				"claimed_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return reclaimed, fmt.Errorf("reclaim campaign %s: %w", c.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			reclaimed = append(reclaimed, c.ID)
		}
	}
	return reclaimed, nil
}

// ListOwnedRunning returns the running campaigns leased by workerID.
func (s *Store) ListOwnedRunning(ctx context.Context, workerID string) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Where("status = ? AND claimed_by = ?", models.CampaignRunning, workerID).
		Order("scheduled_at ASC, id ASC").
		Find(&campaigns).Error
	return campaigns, err
}

// SaveCampaignLog persists c.Log and refreshes the lease. It fails with
// ErrStateChanged once workerID no longer owns the campaign.
func (s *Store) SaveCampaignLog(ctx context.Context, c *models.Campaign, workerID string, now time.Time) error {
	c.ClaimedAt = &now
	c.UpdatedAt = now
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ? AND claimed_by = ?", c.ID, models.CampaignRunning, workerID).
		Select("log", "claimed_at", "updated_at").
		Updates(c)
	if res.Error != nil {
		return fmt.Errorf("save campaign log %s: %w", c.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStateChanged
	}
	return nil
}

// FinishCampaign moves an owned running campaign to its terminal status.
func (s *Store) FinishCampaign(ctx context.Context, c *models.Campaign, workerID string, now time.Time) error {
	c.CompletedAt = &now
	c.UpdatedAt = now
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ? AND claimed_by = ?", c.ID, models.CampaignRunning, workerID).
		Select("status", "log", "failure_reason", "completed_at", "updated_at").
		Updates(c)
	if res.Error != nil {
		return fmt.Errorf("finish campaign %s: %w", c.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStateChanged
	}
	return nil
}
