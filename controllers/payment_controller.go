package controller

import (
	"context"
	"errors"

	"afroboost/apperrors"
	"afroboost/store"
	"afroboost/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type CreditStore interface {
	AddCredits(ctx context.Context, email string, amount int, reason, stripeEventID string) (int, bool, error)
}

type PaymentController struct {
	Store         CreditStore
	WebhookSecret string
	Logger        *logrus.Entry
}

func NewPaymentController(st CreditStore, webhookSecret string, logger *logrus.Entry) *PaymentController {
	return &PaymentController{Store: st, WebhookSecret: webhookSecret, Logger: logger}
}

// HandleStripeWebhook tops up coach credits for paid checkouts. Each Stripe
// event is applied at most once.
func (pc *PaymentController) HandleStripeWebhook(c *fiber.Ctx) error {
	event, err := utils.ConstructStripeEvent(c.Body(), c.Get("Stripe-Signature"), pc.WebhookSecret)
	if err != nil {
		return err
	}

	purchase, ok, err := utils.CheckoutCredits(event)
	if err != nil {
		return err
	}
	if !ok {
		pc.Logger.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Debug("Stripe event carries no credit purchase")
		return c.JSON(fiber.Map{"received": true, "applied": false})
	}

	balance, applied, err := pc.Store.AddCredits(c.UserContext(), purchase.CoachEmail, purchase.Credits, "stripe checkout", purchase.EventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Acknowledge so Stripe stops retrying; the purchase needs a manual fix.
			utils.LogError("stripe_unknown_coach", err, map[string]interface{}{
				"event_id": purchase.EventID,
				"coach":    purchase.CoachEmail,
			})
			return c.JSON(fiber.Map{"received": true, "applied": false})
		}
		return apperrors.Dependency("failed to credit coach", err)
	}

	utils.LogEvent("credits_purchased", map[string]interface{}{
		"event_id": purchase.EventID,
		"coach":    purchase.CoachEmail,
		"credits":  purchase.Credits,
		"balance":  balance,
		"applied":  applied,
	})
	return c.JSON(fiber.Map{
		"received": true,
		"applied":  applied,
		"credits":  balance,
	})
}
