package controller

import (
	"context"
	"errors"

	"afroboost/access"
	"afroboost/apperrors"
	"afroboost/middleware"
	"afroboost/models"
	"afroboost/store"
	"afroboost/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type CoachStore interface {
	FindCoach(ctx context.Context, email string) (*models.Coach, error)
	SaveCoach(ctx context.Context, coach *models.Coach) error
	DeductCredits(ctx context.Context, email string, amount int, reason string) (int, error)
	ListCreditTransactions(ctx context.Context, filter access.TenantFilter, limit int) ([]models.CreditTransaction, error)
}

type AccessController struct {
	Core   *access.Core
	Store  CoachStore
	Logger *logrus.Entry
}

func NewAccessController(core *access.Core, st CoachStore, logger *logrus.Entry) *AccessController {
	return &AccessController{Core: core, Store: st, Logger: logger}
}

// GetRole reports the caller's access decision.
func (ac *AccessController) GetRole(c *fiber.Ctx) error {
	d := middleware.DecisionOf(c)
	return c.JSON(fiber.Map{
		"email":          d.Email,
		"role":           d.Role,
		"is_super_admin": d.IsSuperAdmin(),
		"is_coach":       d.IsCoach(),
		"tenant_filter":  d.Filter,
		"credits":        d.Credits,
		"participant_id": d.ParticipantID,
	})
}

// CheckPartner tells whether an email belongs to a partner account.
func (ac *AccessController) CheckPartner(c *fiber.Ctx) error {
	email := utils.NormalizeEmail(c.Params("email"))
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	if ac.Core.IsSuperAdmin(email) {
		return c.JSON(fiber.Map{
			"email":          email,
			"is_partner":     true,
			"is_active":      true,
			"is_super_admin": true,
		})
	}

	coach, err := ac.Store.FindCoach(c.UserContext(), email)
	if err != nil {
		if errors.Is(err, access.ErrCoachNotFound) {
			return c.JSON(fiber.Map{
				"email":          email,
				"is_partner":     false,
				"is_active":      false,
				"is_super_admin": false,
			})
		}
		return apperrors.Dependency("failed to look up partner", err)
	}

	return c.JSON(fiber.Map{
		"email":          email,
		"is_partner":     true,
		"is_active":      coach.IsActive,
		"is_super_admin": false,
		"platform_name":  coach.PlatformName,
		"stripe_link":    coach.StripeLink,
		"twint_link":     coach.TwintLink,
		"video_url":      coach.VideoURL,
	})
}

type partnerRequest struct {
	Email        string `json:"email" validate:"required,max=320"`
	Name         string `json:"name" validate:"max=200"`
	PlatformName string `json:"platform_name" validate:"max=200"`
	Credits      *int   `json:"credits" validate:"omitempty,min=-1"`
	IsActive     *bool  `json:"is_active"`
	StripeLink   string `json:"stripe_link" validate:"max=500"`
	TwintLink    string `json:"twint_link" validate:"max=500"`
	VideoURL     string `json:"video_url" validate:"max=500"`
}

// SavePartner registers or updates a partner account. Super admin only.
func (ac *AccessController) SavePartner(c *fiber.Ctx) error {
	d := middleware.DecisionOf(c)
	if !d.IsSuperAdmin() {
		return apperrors.Forbidden("only super admins manage partners")
	}

	var req partnerRequest
	if err := utils.ParseStrict(c, &req); err != nil {
		return err
	}
	email := utils.NormalizeEmail(req.Email)
	if err := checkmail.ValidateFormat(email); err != nil {
		return apperrors.InvalidInput("email is not a valid address")
	}

	coach := &models.Coach{Email: email, IsActive: true}
	existing, err := ac.Store.FindCoach(c.UserContext(), email)
	switch {
	case err == nil:
		coach = existing
	case !errors.Is(err, access.ErrCoachNotFound):
		return apperrors.Dependency("failed to look up partner", err)
	}

	if req.Name != "" {
		coach.Name = req.Name
	}
	if req.PlatformName != "" {
		coach.PlatformName = req.PlatformName
	}
	if req.Credits != nil {
		coach.Credits = *req.Credits
	}
	if req.IsActive != nil {
		coach.IsActive = *req.IsActive
	}
	if req.StripeLink != "" {
		coach.StripeLink = req.StripeLink
	}
	if req.TwintLink != "" {
		coach.TwintLink = req.TwintLink
	}
	if req.VideoURL != "" {
		coach.VideoURL = req.VideoURL
	}

	if err := ac.Store.SaveCoach(c.UserContext(), coach); err != nil {
		return apperrors.Dependency("failed to save partner", err)
	}
	utils.LogEvent("partner_saved", map[string]interface{}{
		"coach":     coach.Email,
		"active":    coach.IsActive,
		"saved_by":  d.Email,
		"is_create": existing == nil,
	})
	return c.JSON(coach)
}

func (ac *AccessController) CheckCredits(c *fiber.Ctx) error {
	d := middleware.DecisionOf(c)
	return c.JSON(fiber.Map{
		"email":       d.Email,
		"role":        d.Role,
		"has_credits": d.Credits.Has,
		"credits":     d.Credits.Credits,
		"unlimited":   d.Credits.Unlimited,
		"bypassed":    d.Credits.Bypassed,
	})
}

type deductRequest struct {
	Amount int    `json:"amount" validate:"omitempty,min=1,max=1000"`
	Reason string `json:"reason" validate:"max=200"`
}

// DeductCredits charges the calling coach. Super admins are bypassed and
// nothing is written.
func (ac *AccessController) DeductCredits(c *fiber.Ctx) error {
	var req deductRequest
	if err := parseOptional(c, &req); err != nil {
		return err
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	d := middleware.DecisionOf(c)
	if d.Credits.Bypassed {
		return c.JSON(fiber.Map{
			"bypassed":  true,
			"deducted":  0,
			"credits":   d.Credits.Credits,
			"unlimited": d.Credits.Unlimited,
		})
	}
	if !d.IsCoach() {
		return apperrors.Forbidden("only partners hold credits")
	}

	balance, err := ac.Store.DeductCredits(c.UserContext(), d.Email, req.Amount, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientCredits):
			return apperrors.Forbidden("insufficient credits")
		case errors.Is(err, store.ErrNotFound):
			return apperrors.NotFound("partner not found")
		}
		return apperrors.Dependency("failed to deduct credits", err)
	}

	deducted := req.Amount
	if balance == models.UnlimitedCredits {
		deducted = 0
	}
	return c.JSON(fiber.Map{
		"bypassed":  false,
		"deducted":  deducted,
		"credits":   balance,
		"unlimited": balance == models.UnlimitedCredits,
	})
}

// CreditHistory lists the caller's ledger, every ledger for super admins.
func (ac *AccessController) CreditHistory(c *fiber.Ctx) error {
	d := middleware.DecisionOf(c)
	if !d.IsSuperAdmin() && !d.IsCoach() {
		return apperrors.Forbidden("only partners hold credits")
	}

	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := ac.Store.ListCreditTransactions(c.UserContext(), d.Filter, limit)
	if err != nil {
		return apperrors.Dependency("failed to list credit transactions", err)
	}
	if entries == nil {
		entries = []models.CreditTransaction{}
	}
	return c.JSON(fiber.Map{"transactions": entries})
}
