package controller

import (
	"context"

	"afroboost/apperrors"
	"afroboost/middleware"
	"afroboost/models"
	"afroboost/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type SettingsStore interface {
	PlatformSettings(ctx context.Context) (*models.PlatformSettings, error)
	SavePlatformSettings(ctx context.Context, settings *models.PlatformSettings) error
	ConceptSettings(ctx context.Context) (*models.ConceptSettings, error)
	SaveConceptSettings(ctx context.Context, settings *models.ConceptSettings) error
}

type SettingsController struct {
	Store  SettingsStore
	Logger *logrus.Entry
}

func NewSettingsController(st SettingsStore, logger *logrus.Entry) *SettingsController {
	return &SettingsController{Store: st, Logger: logger}
}

func (sc *SettingsController) GetPlatform(c *fiber.Ctx) error {
	settings, err := sc.Store.PlatformSettings(c.UserContext())
	if err != nil {
		return apperrors.Dependency("failed to load platform settings", err)
	}
	return c.JSON(settings)
}

type platformRequest struct {
	MaintenanceMode *bool          `json:"maintenance_mode"`
	Branding        map[string]any `json:"branding"`
	Features        map[string]any `json:"features"`
}

func (sc *SettingsController) UpdatePlatform(c *fiber.Ctx) error {
	d := middleware.DecisionOf(c)
	if !d.IsSuperAdmin() {
		return apperrors.Forbidden("only super admins change platform settings")
	}

	var req platformRequest
	if err := utils.ParseStrict(c, &req); err != nil {
		return err
	}

	settings, err := sc.Store.PlatformSettings(c.UserContext())
	if err != nil {
		return apperrors.Dependency("failed to load platform settings", err)
	}
	if req.MaintenanceMode != nil {
		settings.MaintenanceMode = *req.MaintenanceMode
	}
	if req.Branding != nil {
		settings.Branding = req.Branding
	}
	if req.Features != nil {
		settings.Features = req.Features
	}
	if err := sc.Store.SavePlatformSettings(c.UserContext(), settings); err != nil {
		return apperrors.Dependency("failed to save platform settings", err)
	}

	sc.Logger.WithFields(logrus.Fields{
		"maintenance_mode": settings.MaintenanceMode,
		"updated_by":       d.Email,
	}).Info("Platform settings updated")
	return c.JSON(settings)
}

func (sc *SettingsController) GetConcept(c *fiber.Ctx) error {
	settings, err := sc.Store.ConceptSettings(c.UserContext())
	if err != nil {
		return apperrors.Dependency("failed to load concept settings", err)
	}
	return c.JSON(settings)
}

type conceptRequest struct {
	AppName     *string        `json:"app_name" validate:"omitempty,min=1,max=120"`
	Description *string        `json:"description" validate:"omitempty,max=2000"`
	HeroVideo   *string        `json:"hero_video_url" validate:"omitempty,max=500"`
	Branding    map[string]any `json:"branding"`
	Features    map[string]any `json:"features"`
}

func (sc *SettingsController) UpdateConcept(c *fiber.Ctx) error {
	d := middleware.DecisionOf(c)
	if !d.IsSuperAdmin() && !d.IsCoach() {
		return apperrors.Forbidden("only coaches change the concept")
	}

	var req conceptRequest
	if err := utils.ParseStrict(c, &req); err != nil {
		return err
	}

	settings, err := sc.Store.ConceptSettings(c.UserContext())
	if err != nil {
		return apperrors.Dependency("failed to load concept settings", err)
	}
	if req.AppName != nil {
		settings.AppName = *req.AppName
	}
	if req.Description != nil {
		settings.Description = *req.Description
	}
	if req.HeroVideo != nil {
		settings.HeroVideo = *req.HeroVideo
	}
	if req.Branding != nil {
		settings.Branding = req.Branding
	}
	if req.Features != nil {
		settings.Features = req.Features
	}
	if err := sc.Store.SaveConceptSettings(c.UserContext(), settings); err != nil {
		return apperrors.Dependency("failed to save concept settings", err)
	}
	return c.JSON(settings)
}
