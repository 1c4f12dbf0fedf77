package controller

import (
	"time"

	"afroboost/campaign"
	"afroboost/middleware"
	"afroboost/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type CampaignController struct {
	Campaigns *campaign.Service
	Location  *time.Location
	Logger    *logrus.Entry
}

func NewCampaignController(campaigns *campaign.Service, location *time.Location, logger *logrus.Entry) *CampaignController {
	if location == nil {
		location = time.UTC
	}
	return &CampaignController{
		Campaigns: campaigns,
		Location:  location,
		Logger:    logger,
	}
}

func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	var input campaign.CreateInput
	if err := utils.ParseStrict(c, &input); err != nil {
		return err
	}

	created, err := cc.Campaigns.Create(c.UserContext(), middleware.DecisionOf(c), input)
	if err != nil {
		return err
	}
	cc.Logger.WithFields(logrus.Fields{
		"campaign_id": created.ID,
		"coach_id":    created.CoachID,
		"status":      created.Status,
	}).Info("Campaign created")
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (cc *CampaignController) GetCampaigns(c *fiber.Ctx) error {
	campaigns, err := cc.Campaigns.List(c.UserContext(), middleware.DecisionOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"campaigns": campaigns})
}

func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	found, err := cc.Campaigns.Get(c.UserContext(), middleware.DecisionOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(found)
}

// GetCampaignLogs reports delivery logs, for one campaign with ?campaign_id=.
func (cc *CampaignController) GetCampaignLogs(c *fiber.Ctx) error {
	logs, err := cc.Campaigns.Logs(c.UserContext(), middleware.DecisionOf(c), c.Query("campaign_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"logs": logs})
}

func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	var input campaign.UpdateInput
	if err := utils.ParseStrict(c, &input); err != nil {
		return err
	}

	updated, err := cc.Campaigns.Update(c.UserContext(), middleware.DecisionOf(c), c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

type scheduleRequest struct {
	ScheduledAt string `json:"scheduled_at"`
}

func (cc *CampaignController) ScheduleCampaign(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := parseOptional(c, &req); err != nil {
		return err
	}

	var at *time.Time
	if req.ScheduledAt != "" {
		parsed, err := campaign.ParseScheduledAt(req.ScheduledAt, cc.Location)
		if err != nil {
			return err
		}
		at = &parsed
	}

	scheduled, err := cc.Campaigns.Schedule(c.UserContext(), middleware.DecisionOf(c), c.Params("id"), at)
	if err != nil {
		return err
	}
	return c.JSON(scheduled)
}

func (cc *CampaignController) CancelCampaign(c *fiber.Ctx) error {
	cancelled, err := cc.Campaigns.Cancel(c.UserContext(), middleware.DecisionOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(cancelled)
}

func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	if err := cc.Campaigns.Delete(c.UserContext(), middleware.DecisionOf(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
