package middleware

import (
	"context"
	"time"

	"afroboost/access"
	"afroboost/apperrors"
	"afroboost/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// HeaderUserEmail carries the caller email on API requests.
const HeaderUserEmail = "X-User-Email"

const localDecision = "decision"

type Decider interface {
	Decide(ctx context.Context, callerEmail string) (access.Decision, error)
}

// Access resolves the caller once per request. The email comes from the
// X-User-Email header, else from the signed identity cookie issued at
// smart-entry. The cookie's participant id is attached only when it belongs
// to the same email.
func Access(core Decider, jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		email := utils.NormalizeEmail(c.Get(HeaderUserEmail))
		participantID := ""

		if token := c.Cookies(utils.IdentityCookie); token != "" && jwtSecret != "" {
			claims, err := utils.ParseIdentityToken(jwtSecret, token)
			if err != nil {
				logrus.WithError(err).WithField("path", c.Path()).Debug("Ignoring invalid identity cookie")
			} else {
				claimEmail := utils.NormalizeEmail(claims.Email)
				if email == "" {
					email = claimEmail
				}
				if email == claimEmail {
					participantID = claims.ParticipantID
				}
			}
		}

		decision, err := core.Decide(c.UserContext(), email)
		if err != nil {
			return err
		}
		decision.ParticipantID = participantID
		c.Locals(localDecision, decision)
		return c.Next()
	}
}

// DecisionOf returns the decision stored by Access. Requests that skipped
// the middleware get an anonymous user decision.
func DecisionOf(c *fiber.Ctx) access.Decision {
	if d, ok := c.Locals(localDecision).(access.Decision); ok {
		return d
	}
	return access.Decision{Role: access.RoleUser}
}

// RequireCaller rejects anonymous requests.
func RequireCaller() fiber.Handler {
	return func(c *fiber.Ctx) error {
		d := DecisionOf(c)
		if d.Email == "" && d.ParticipantID == "" {
			return apperrors.Unauthorized("caller identity is required")
		}
		return c.Next()
	}
}

// Deadline bounds the request context handed to services and the store.
func Deadline(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if timeout <= 0 {
			return c.Next()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}
