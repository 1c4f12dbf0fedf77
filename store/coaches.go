package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"afroboost/access"
	"afroboost/models"
	"afroboost/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientCredits is returned when a deduction exceeds the balance.
var ErrInsufficientCredits = errors.New("insufficient credits")

// FindCoach implements access.CoachLookup.
func (s *Store) FindCoach(ctx context.Context, email string) (*models.Coach, error) {
	var coach models.Coach
	err := s.db.WithContext(ctx).Where("email = ?", utils.NormalizeEmail(email)).First(&coach).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, access.ErrCoachNotFound
		}
		return nil, err
	}
	return &coach, nil
}

// SaveCoach inserts or replaces a coach account.
func (s *Store) SaveCoach(ctx context.Context, coach *models.Coach) error {
	coach.Email = utils.NormalizeEmail(coach.Email)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		UpdateAll: true,
	}).Create(coach).Error
}

// DeductCredits atomically decrements a finite balance. Unlimited coaches
// are never decremented and report a balance of -1.
func (s *Store) DeductCredits(ctx context.Context, email string, amount int, reason string) (int, error) {
	email = utils.NormalizeEmail(email)
	balance := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var coach models.Coach
		if err := tx.Where("email = ?", email).First(&coach).Error; err != nil {
			return notFound(err)
		}
		if coach.Unlimited() {
			balance = models.UnlimitedCredits
			return nil
		}

		res := tx.Model(&models.Coach{}).
			Where("email = ? AND credits >= ? AND credits <> ?", email, amount, models.UnlimitedCredits).
			Updates(map[string]interface{}{
				"credits":    gorm.Expr("credits - ?", amount),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientCredits
		}

		if err := tx.Model(&models.Coach{}).Select("credits").Where("email = ?", email).Scan(&balance).Error; err != nil {
			return err
		}
		return tx.Create(&models.CreditTransaction{
			CoachEmail:   email,
			Delta:        -amount,
			BalanceAfter: balance,
			Reason:       reason,
			CreatedAt:    time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("deduct credits: %w", err)
	}
	return balance, nil
}

// AddCredits tops up a coach once per Stripe event. applied is false when the
// event was already recorded.
func (s *Store) AddCredits(ctx context.Context, email string, amount int, reason, stripeEventID string) (balance int, applied bool, err error) {
	email = utils.NormalizeEmail(email)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var coach models.Coach
		if err := tx.Where("email = ?", email).First(&coach).Error; err != nil {
			return notFound(err)
		}

		entry := models.CreditTransaction{
			CoachEmail: email,
			Delta:      amount,
			Reason:     reason,
			CreatedAt:  time.Now().UTC(),
		}
		if stripeEventID != "" {
			entry.StripeEventID = &stripeEventID
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			balance = coach.Credits
			return nil
		}
		applied = true

		if coach.Unlimited() {
			balance = models.UnlimitedCredits
		} else {
			if err := tx.Model(&models.Coach{}).Where("email = ?", email).Updates(map[string]interface{}{
				"credits":    gorm.Expr("credits + ?", amount),
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
			balance = coach.Credits + amount
		}
		return tx.Model(&entry).Update("balance_after", balance).Error
	})
	if err != nil {
		return 0, false, fmt.Errorf("add credits: %w", err)
	}
	return balance, applied, nil
}

func (s *Store) ListCreditTransactions(ctx context.Context, filter access.TenantFilter, limit int) ([]models.CreditTransaction, error) {
	var entries []models.CreditTransaction
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if !filter.All {
		q = q.Where("coach_email = ?", filter.CoachID)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
