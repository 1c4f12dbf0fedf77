// Package identity implements smart-entry: it maps a (name, email, phone)
// triple onto one participant per tenant and attaches it to the tenant's
// community session.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"afroboost/apperrors"
	"afroboost/models"
	"afroboost/utils"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Store interface {
	UpsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, bool, error)
	EnsureSession(ctx context.Context, session *models.ChatSession) (*models.ChatSession, error)
	AddMember(ctx context.Context, sessionID, participantID string, at time.Time) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
}

type Input struct {
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"omitempty,max=320"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	CoachID string `json:"coach_id" validate:"omitempty,max=320"`
	Source  string `json:"source" validate:"omitempty,max=64"`
}

type Result struct {
	Participant *models.Participant `json:"participant"`
	IsReturning bool                `json:"is_returning"`
	Session     *models.ChatSession `json:"session"`
	Greeting    string              `json:"greeting"`
}

type Resolver struct {
	store        Store
	defaultCoach string
	now          func() time.Time
	log          *logrus.Entry
}

func NewResolver(store Store, defaultCoach string) *Resolver {
	return &Resolver{
		store:        store,
		defaultCoach: defaultCoach,
		now:          time.Now,
		log:          logrus.WithField("component", "identity"),
	}
}

// ResolveOrCreate returns the tenant's participant for the email (or phone
// when no email is given), minting it on first contact, and makes sure it is
// a member of the community session. Repeated calls return the same id.
func (r *Resolver) ResolveOrCreate(ctx context.Context, in Input) (*Result, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	email := utils.NormalizeEmail(in.Email)
	phone := utils.NormalizePhone(in.Phone)
	if email == "" && phone == "" {
		return nil, apperrors.InvalidInput("email or phone is required")
	}
	if email != "" {
		if err := checkmail.ValidateFormat(email); err != nil {
			return nil, apperrors.InvalidInput("email is not a valid address")
		}
	}

	coachID := utils.NormalizeEmail(in.CoachID)
	if coachID == "" {
		coachID = r.defaultCoach
	}
	if coachID == "" {
		return nil, apperrors.InvalidInput("coach_id is required")
	}

	identityKey := email
	if identityKey == "" {
		identityKey = "tel:" + phone
	}

	now := utils.UTC(r.now())
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Internal("failed to mint participant id", err)
	}

	participant, created, err := r.store.UpsertParticipant(ctx, &models.Participant{
		ID:          id.String(),
		Name:        name,
		Email:       email,
		Phone:       phone,
		Source:      strings.TrimSpace(in.Source),
		CoachID:     coachID,
		IdentityKey: identityKey,
		CreatedAt:   now,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, apperrors.Dependency("failed to resolve participant", err)
	}

	session, err := r.joinCommunity(ctx, coachID, participant.ID, now)
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"participant_id": participant.ID,
		"coach_id":       coachID,
		"returning":      !created,
	}).Info("smart entry resolved")

	return &Result{
		Participant: participant,
		IsReturning: !created,
		Session:     session,
		Greeting:    greeting(participant.Name, !created),
	}, nil
}

func (r *Resolver) joinCommunity(ctx context.Context, coachID, participantID string, now time.Time) (*models.ChatSession, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Internal("failed to mint session id", err)
	}
	session, err := r.store.EnsureSession(ctx, &models.ChatSession{
		ID:        id.String(),
		Mode:      models.SessionCommunity,
		Title:     "Communauté",
		CoachID:   coachID,
		UniqueKey: models.CommunityKey(coachID),
		CreatedAt: now,
	})
	if err != nil {
		return nil, apperrors.Dependency("failed to open community session", err)
	}
	if err := r.store.AddMember(ctx, session.ID, participantID, now); err != nil {
		return nil, apperrors.Dependency("failed to join community session", err)
	}

	session, err = r.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, apperrors.Dependency("failed to load community session", err)
	}
	return session, nil
}

func greeting(name string, returning bool) string {
	if returning {
		return fmt.Sprintf("Bon retour, %s !", name)
	}
	return fmt.Sprintf("Bienvenue, %s !", name)
}
