package controller

import (
	"context"
	"errors"
	"time"

	"afroboost/access"
	"afroboost/apperrors"
	"afroboost/middleware"
	"afroboost/models"
	"afroboost/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ReservationStore interface {
	FindCoach(ctx context.Context, email string) (*models.Coach, error)
	CreateReservation(ctx context.Context, r *models.Reservation) error
	ListReservations(ctx context.Context, filter access.TenantFilter) ([]models.Reservation, error)
}

type ReservationController struct {
	Store  ReservationStore
	Logger *logrus.Entry
}

func NewReservationController(st ReservationStore, logger *logrus.Entry) *ReservationController {
	return &ReservationController{Store: st, Logger: logger}
}

// GetReservations lists the reservations of the caller's tenant.
func (rc *ReservationController) GetReservations(c *fiber.Ctx) error {
	d := middleware.DecisionOf(c)
	reservations, err := rc.Store.ListReservations(c.UserContext(), d.Filter)
	if err != nil {
		return apperrors.Dependency("failed to list reservations", err)
	}
	if reservations == nil {
		reservations = []models.Reservation{}
	}
	return c.JSON(fiber.Map{"reservations": reservations})
}

type reservationRequest struct {
	CoachID    string    `json:"coach_id" validate:"max=320"`
	UserEmail  string    `json:"user_email" validate:"max=320"`
	UserName   string    `json:"user_name" validate:"max=120"`
	CourseName string    `json:"course_name" validate:"required,max=200"`
	SlotAt     time.Time `json:"slot_at" validate:"required"`
}

// CreateReservation books a slot with a coach. Callers book for themselves;
// the coach and super admins may book on behalf of a user.
func (rc *ReservationController) CreateReservation(c *fiber.Ctx) error {
	var req reservationRequest
	if err := utils.ParseStrict(c, &req); err != nil {
		return err
	}

	d := middleware.DecisionOf(c)
	coachID := utils.NormalizeEmail(req.CoachID)
	if coachID == "" && d.IsCoach() {
		coachID = d.Email
	}
	if coachID == "" {
		return apperrors.InvalidInput("coach_id is required")
	}

	userEmail := d.Email
	if req.UserEmail != "" && d.CanManage(coachID) {
		userEmail = utils.NormalizeEmail(req.UserEmail)
	}
	if err := checkmail.ValidateFormat(userEmail); err != nil {
		return apperrors.InvalidInput("user_email is not a valid address")
	}

	if !isOwnTenant(d, coachID) {
		if _, err := rc.Store.FindCoach(c.UserContext(), coachID); err != nil {
			if errors.Is(err, access.ErrCoachNotFound) {
				return apperrors.NotFound("coach not found")
			}
			return apperrors.Dependency("failed to look up coach", err)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return apperrors.Internal("failed to mint reservation id", err)
	}
	reservation := &models.Reservation{
		ID:         id.String(),
		CoachID:    coachID,
		UserEmail:  userEmail,
		UserName:   req.UserName,
		CourseName: req.CourseName,
		SlotAt:     utils.UTC(req.SlotAt),
		Status:     "confirmed",
		CreatedAt:  utils.UTC(time.Now()),
	}
	if err := rc.Store.CreateReservation(c.UserContext(), reservation); err != nil {
		return apperrors.Dependency("failed to save reservation", err)
	}

	utils.LogEvent("reservation_created", map[string]interface{}{
		"reservation_id": reservation.ID,
		"coach_id":       coachID,
	})
	return c.Status(fiber.StatusCreated).JSON(reservation)
}

// isOwnTenant reports whether the caller is the active coach itself.
func isOwnTenant(d access.Decision, coachID string) bool {
	return d.IsCoach() && d.Email == coachID
}
