package utils

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"afroboost/apperrors"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeCheckoutCompleted is the only event that moves credits.
const StripeCheckoutCompleted = "checkout.session.completed"

// CreditPurchase is a paid checkout that buys credits for a coach.
type CreditPurchase struct {
	EventID    string
	CoachEmail string
	Credits    int
}

// ConstructStripeEvent verifies the Stripe-Signature header against the
// webhook secret before decoding the event.
func ConstructStripeEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	if secret == "" {
		return stripe.Event{}, apperrors.New(apperrors.KindDependencyFailure, "stripe webhook secret is not configured")
	}
	if signature == "" {
		return stripe.Event{}, apperrors.InvalidInput("missing Stripe-Signature header")
	}

	// Verify the webhook signature with tolerance for clock drift
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                5 * time.Minute,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		prefix := signature
		if len(prefix) > 10 {
			prefix = prefix[:10] + "..."
		}
		logrus.WithError(err).WithField("signature_prefix", prefix).Warn("Failed to verify webhook signature")
		return stripe.Event{}, apperrors.Wrap(apperrors.KindInvalidInput, "invalid webhook signature", err)
	}

	logrus.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	}).Info("Stripe webhook event verified")
	return event, nil
}

// CheckoutCredits extracts a credit purchase from a completed checkout
// session. The coach is metadata.coach_email, else the client reference,
// else the customer email; the amount is metadata.credits. ok is false for
// sessions that are unpaid or carry no credit metadata.
func CheckoutCredits(event stripe.Event) (purchase CreditPurchase, ok bool, err error) {
	if event.Type != StripeCheckoutCompleted || event.Data == nil {
		return CreditPurchase{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return CreditPurchase{}, false, apperrors.Wrap(apperrors.KindInvalidInput, "error parsing checkout session", err)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return CreditPurchase{}, false, nil
	}

	credits, err := strconv.Atoi(strings.TrimSpace(session.Metadata["credits"]))
	if err != nil || credits <= 0 {
		return CreditPurchase{}, false, nil
	}

	email := session.Metadata["coach_email"]
	if email == "" {
		email = session.ClientReferenceID
	}
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	if email == "" {
		email = session.CustomerEmail
	}
	email = NormalizeEmail(email)
	if email == "" {
		return CreditPurchase{}, false, nil
	}

	return CreditPurchase{EventID: event.ID, CoachEmail: email, Credits: credits}, true, nil
}
