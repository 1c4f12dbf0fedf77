// Package campaign manages campaign records and their user-driven state
// transitions. Dispatch is the scheduler's job (see package worker).
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"afroboost/access"
	"afroboost/apperrors"
	"afroboost/models"
	"afroboost/store"
	"afroboost/utils"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultMaxAttempts = 3

type Store interface {
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string, filter access.TenantFilter) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, filter access.TenantFilter) ([]models.Campaign, error)
	UpdateCampaignIf(ctx context.Context, c *models.Campaign, columns []string, from ...models.CampaignStatus) error
	DeleteCampaignIf(ctx context.Context, id string, filter access.TenantFilter, from ...models.CampaignStatus) error
}

type CreateInput struct {
	CoachID     string                     `json:"coach_id" validate:"omitempty,max=320"`
	Name        string                     `json:"name" validate:"max=200"`
	Channel     models.CampaignChannel     `json:"channel" validate:"required,oneof=email whatsapp"`
	Subject     string                     `json:"subject" validate:"max=300"`
	Body        string                     `json:"body" validate:"required"`
	Recipients  []models.CampaignRecipient `json:"recipients" validate:"required,min=1"`
	ScheduledAt string                     `json:"scheduled_at"`
	Status      models.CampaignStatus      `json:"status" validate:"omitempty,oneof=draft scheduled"`
	MaxAttempts int                        `json:"attempts_per_recipient" validate:"omitempty,min=1,max=10"`
}

// UpdateInput carries a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Name        *string                     `json:"name" validate:"omitempty,max=200"`
	Subject     *string                     `json:"subject" validate:"omitempty,max=300"`
	Body        *string                     `json:"body"`
	Recipients  *[]models.CampaignRecipient `json:"recipients"`
	ScheduledAt *string                     `json:"scheduled_at"`
	Status      *models.CampaignStatus      `json:"status" validate:"omitempty,oneof=draft scheduled"`
	MaxAttempts *int                        `json:"attempts_per_recipient" validate:"omitempty,min=1,max=10"`
}

// LogView is the per-campaign delivery report served by GET /campaigns/logs.
type LogView struct {
	CampaignID    string                    `json:"campaign_id"`
	Name          string                    `json:"name"`
	CoachID       string                    `json:"coach_id"`
	Channel       models.CampaignChannel    `json:"channel"`
	Status        models.CampaignStatus     `json:"status"`
	FailureReason string                    `json:"failure_reason,omitempty"`
	Sent          int                       `json:"sent"`
	Failed        int                       `json:"failed"`
	Pending       int                       `json:"pending"`
	Log           []models.CampaignLogEntry `json:"log"`
}

type Service struct {
	store    Store
	location *time.Location
	now      func() time.Time
	log      *logrus.Entry
}

func NewService(st Store, location *time.Location) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{
		store:    st,
		location: location,
		now:      time.Now,
		log:      logrus.WithField("component", "campaign"),
	}
}

func (s *Service) Create(ctx context.Context, d access.Decision, in CreateInput) (*models.Campaign, error) {
	coachID, err := owner(d, in.CoachID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, apperrors.InvalidInput("body is required")
	}
	recipients, err := cleanRecipients(in.Channel, in.Recipients)
	if err != nil {
		return nil, err
	}

	now := utils.UTC(s.now())
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Internal("failed to mint campaign id", err)
	}
	c := &models.Campaign{
		ID:          id.String(),
		CoachID:     coachID,
		Name:        strings.TrimSpace(in.Name),
		Channel:     in.Channel,
		Subject:     in.Subject,
		Body:        in.Body,
		Recipients:  recipients,
		Status:      models.CampaignDraft,
		MaxAttempts: in.MaxAttempts,
		Log:         []models.CampaignLogEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if in.ScheduledAt != "" {
		at, err := ParseScheduledAt(in.ScheduledAt, s.location)
		if err != nil {
			return nil, err
		}
		c.ScheduledAt = &at
	}
	if in.Status == models.CampaignScheduled {
		if c.ScheduledAt == nil {
			return nil, apperrors.InvalidInput("scheduled_at is required to schedule a campaign")
		}
		c.Status = models.CampaignScheduled
	}

	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, apperrors.Dependency("failed to create campaign", err)
	}
	s.log.WithFields(logrus.Fields{
		"campaign_id": c.ID,
		"coach_id":    c.CoachID,
		"status":      c.Status,
		"recipients":  len(c.Recipients),
	}).Info("campaign created")
	return c, nil
}

// Update edits a draft or scheduled campaign. A status field moves it
// between draft and scheduled; running and finished campaigns are frozen.
func (s *Service) Update(ctx context.Context, d access.Decision, id string, in UpdateInput) (*models.Campaign, error) {
	c, err := s.Get(ctx, d, id)
	if err != nil {
		return nil, err
	}
	if !d.CanManage(c.CoachID) {
		return nil, apperrors.Forbidden("caller may not edit this campaign")
	}
	if c.Status != models.CampaignDraft && c.Status != models.CampaignScheduled {
		return nil, apperrors.Conflict(fmt.Sprintf("campaign is %s and can no longer be edited", c.Status))
	}

	from := c.Status
	columns := []string{}
	if in.Name != nil {
		c.Name = strings.TrimSpace(*in.Name)
		columns = append(columns, "name")
	}
	if in.Subject != nil {
		c.Subject = *in.Subject
		columns = append(columns, "subject")
	}
	if in.Body != nil {
		if strings.TrimSpace(*in.Body) == "" {
			return nil, apperrors.InvalidInput("body must not be empty")
		}
		c.Body = *in.Body
		columns = append(columns, "body")
	}
	if in.Recipients != nil {
		recipients, err := cleanRecipients(c.Channel, *in.Recipients)
		if err != nil {
			return nil, err
		}
		c.Recipients = recipients
		columns = append(columns, "recipients")
	}
	if in.MaxAttempts != nil {
		c.MaxAttempts = *in.MaxAttempts
		columns = append(columns, "max_attempts")
	}
	if in.ScheduledAt != nil {
		if *in.ScheduledAt == "" {
			c.ScheduledAt = nil
		} else {
			at, err := ParseScheduledAt(*in.ScheduledAt, s.location)
			if err != nil {
				return nil, err
			}
			c.ScheduledAt = &at
		}
		columns = append(columns, "scheduled_at")
	}
	if in.Status != nil {
		c.Status = *in.Status
		columns = append(columns, "status")
	}
	if c.Status == models.CampaignScheduled && c.ScheduledAt == nil {
		return nil, apperrors.InvalidInput("scheduled_at is required to schedule a campaign")
	}
	if len(columns) == 0 {
		return c, nil
	}

	if err := s.store.UpdateCampaignIf(ctx, c, columns, from); err != nil {
		return nil, s.transitionError(ctx, d, id, err)
	}
	return c, nil
}

// Schedule moves a draft to scheduled, optionally setting the send time.
func (s *Service) Schedule(ctx context.Context, d access.Decision, id string, at *time.Time) (*models.Campaign, error) {
	c, err := s.Get(ctx, d, id)
	if err != nil {
		return nil, err
	}
	if !d.CanManage(c.CoachID) {
		return nil, apperrors.Forbidden("caller may not schedule this campaign")
	}
	if c.Status != models.CampaignDraft {
		return nil, apperrors.Conflict(fmt.Sprintf("only draft campaigns can be scheduled, campaign is %s", c.Status))
	}
	if at != nil {
		c.ScheduledAt = utils.Pointer(utils.UTC(*at))
	}
	if c.ScheduledAt == nil {
		return nil, apperrors.InvalidInput("scheduled_at is required to schedule a campaign")
	}
	c.Status = models.CampaignScheduled
	if err := s.store.UpdateCampaignIf(ctx, c, []string{"status", "scheduled_at"}, models.CampaignDraft); err != nil {
		return nil, s.transitionError(ctx, d, id, err)
	}
	return c, nil
}

// Cancel returns a scheduled campaign to draft. It is refused once the
// scheduler has claimed the campaign.
func (s *Service) Cancel(ctx context.Context, d access.Decision, id string) (*models.Campaign, error) {
	c, err := s.Get(ctx, d, id)
	if err != nil {
		return nil, err
	}
	if !d.CanManage(c.CoachID) {
		return nil, apperrors.Forbidden("caller may not cancel this campaign")
	}
	switch c.Status {
	case models.CampaignDraft:
		return c, nil
	case models.CampaignScheduled:
	default:
		return nil, apperrors.Conflict(fmt.Sprintf("campaign is %s and cannot be cancelled", c.Status))
	}
	c.Status = models.CampaignDraft
	if err := s.store.UpdateCampaignIf(ctx, c, []string{"status"}, models.CampaignScheduled); err != nil {
		return nil, s.transitionError(ctx, d, id, err)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, d access.Decision, id string) (*models.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, id, d.Filter)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("campaign not found")
		}
		return nil, apperrors.Dependency("failed to load campaign", err)
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, d access.Decision) ([]models.Campaign, error) {
	if !d.IsSuperAdmin() && !d.IsCoach() {
		return nil, apperrors.Forbidden("only coaches can list campaigns")
	}
	campaigns, err := s.store.ListCampaigns(ctx, d.Filter)
	if err != nil {
		return nil, apperrors.Dependency("failed to list campaigns", err)
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	return campaigns, nil
}

// Logs summarizes delivery outcomes, for one campaign when campaignID is set.
func (s *Service) Logs(ctx context.Context, d access.Decision, campaignID string) ([]LogView, error) {
	var campaigns []models.Campaign
	if campaignID != "" {
		c, err := s.Get(ctx, d, campaignID)
		if err != nil {
			return nil, err
		}
		campaigns = []models.Campaign{*c}
	} else {
		list, err := s.List(ctx, d)
		if err != nil {
			return nil, err
		}
		campaigns = list
	}

	views := make([]LogView, 0, len(campaigns))
	for _, c := range campaigns {
		view := LogView{
			CampaignID:    c.ID,
			Name:          c.Name,
			CoachID:       c.CoachID,
			Channel:       c.Channel,
			Status:        c.Status,
			FailureReason: c.FailureReason,
			Log:           c.Log,
		}
		if view.Log == nil {
			view.Log = []models.CampaignLogEntry{}
		}
		for _, entry := range c.Log {
			switch entry.Status {
			case models.RecipientSent:
				view.Sent++
			case models.RecipientFailed:
				view.Failed++
			default:
				view.Pending++
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// Delete removes a draft campaign.
func (s *Service) Delete(ctx context.Context, d access.Decision, id string) error {
	c, err := s.Get(ctx, d, id)
	if err != nil {
		return err
	}
	if !d.CanManage(c.CoachID) {
		return apperrors.Forbidden("caller may not delete this campaign")
	}
	if err := s.store.DeleteCampaignIf(ctx, id, d.Filter, models.CampaignDraft); err != nil {
		return s.transitionError(ctx, d, id, err)
	}
	return nil
}

// transitionError turns a lost compare-and-set into a conflict naming the
// state the campaign is in now.
func (s *Service) transitionError(ctx context.Context, d access.Decision, id string, err error) error {
	if !errors.Is(err, store.ErrStateChanged) {
		return apperrors.Dependency("failed to update campaign", err)
	}
	current, getErr := s.store.GetCampaign(ctx, id, d.Filter)
	if getErr != nil {
		return apperrors.Conflict("campaign changed concurrently")
	}
	return apperrors.Conflict(fmt.Sprintf("campaign is %s", current.Status))
}

// owner resolves the tenant a new campaign belongs to.
func owner(d access.Decision, requested string) (string, error) {
	requested = utils.NormalizeEmail(requested)
	switch {
	case d.IsSuperAdmin():
		if requested == "" {
			return "", apperrors.InvalidInput("coach_id is required")
		}
		return requested, nil
	case d.IsCoach():
		if requested != "" && requested != d.Email {
			return "", apperrors.Forbidden("coaches can only create their own campaigns")
		}
		return d.Email, nil
	default:
		return "", apperrors.Forbidden("only coaches can create campaigns")
	}
}

// cleanRecipients normalizes addresses and rejects lists that cannot reach
// anybody on the channel.
func cleanRecipients(channel models.CampaignChannel, in []models.CampaignRecipient) ([]models.CampaignRecipient, error) {
	out := make([]models.CampaignRecipient, 0, len(in))
	reachable := 0
	for i, r := range in {
		r.Email = utils.NormalizeEmail(r.Email)
		r.Phone = utils.NormalizePhone(r.Phone)
		r.Name = strings.TrimSpace(r.Name)
		if r.Email != "" {
			if err := checkmail.ValidateFormat(r.Email); err != nil {
				return nil, apperrors.InvalidInput(fmt.Sprintf("recipients[%d].email is not a valid address", i))
			}
		}
		if RecipientKey(channel, r) != "" {
			reachable++
		}
		out = append(out, r)
	}
	if reachable == 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("no recipient is reachable on the %s channel", channel))
	}
	return out, nil
}

// RecipientKey identifies a recipient on a channel: the lower-cased email for
// email campaigns, the normalized phone for WhatsApp.
func RecipientKey(channel models.CampaignChannel, r models.CampaignRecipient) string {
	switch channel {
	case models.ChannelEmail:
		return utils.NormalizeEmail(r.Email)
	case models.ChannelWhatsApp:
		return utils.NormalizePhone(r.Phone)
	}
	return ""
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduledAt accepts RFC3339 or a wall-clock time without offset, which
// is read in loc. The result is UTC.
func ParseScheduledAt(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return utils.UTC(t), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return utils.UTC(t), nil
		}
	}
	return time.Time{}, apperrors.InvalidInput("scheduled_at must be RFC3339 or YYYY-MM-DDTHH:MM local time")
}
