// Package access maps a caller email onto a role, a tenant filter and a
// credit verdict. It is the single gate every protected endpoint consults.
package access

import (
	"context"
	"errors"

	"afroboost/apperrors"
	"afroboost/models"
	"afroboost/utils"
)

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleCoach      Role = "coach"
	RoleUser       Role = "user"
)

// ErrCoachNotFound is returned by a CoachLookup when no coach has the email.
var ErrCoachNotFound = errors.New("coach not found")

// CoachLookup is the only I/O the core performs.
type CoachLookup interface {
	FindCoach(ctx context.Context, email string) (*models.Coach, error)
}

// TenantFilter restricts records to one coach_id. The zero value with All
// set matches every tenant.
type TenantFilter struct {
	All     bool   `json:"all"`
	CoachID string `json:"coach_id,omitempty"`
}

func (f TenantFilter) Matches(coachID string) bool {
	return f.All || f.CoachID == coachID
}

type CreditVerdict struct {
	Has       bool `json:"has_credits"`
	Credits   int  `json:"credits"`
	Unlimited bool `json:"unlimited"`
	Bypassed  bool `json:"bypassed"`
}

// Decision is the outcome of Decide. ParticipantID is filled by the edge
// when the caller presented a smart-entry identity.
type Decision struct {
	Email         string        `json:"email"`
	Role          Role          `json:"role"`
	Filter        TenantFilter  `json:"tenant_filter"`
	Credits       CreditVerdict `json:"credits"`
	Coach         *models.Coach `json:"-"`
	ParticipantID string        `json:"participant_id,omitempty"`
}

func (d Decision) IsSuperAdmin() bool { return d.Role == RoleSuperAdmin }

func (d Decision) IsCoach() bool { return d.Role == RoleCoach }

// CanManage reports whether the caller administers records of coachID.
func (d Decision) CanManage(coachID string) bool {
	return d.IsSuperAdmin() || (d.IsCoach() && d.Filter.Matches(coachID))
}

type Core struct {
	superAdmins map[string]struct{}
	coaches     CoachLookup
}

func NewCore(superAdmins []string, coaches CoachLookup) *Core {
	set := make(map[string]struct{}, len(superAdmins))
	for _, email := range superAdmins {
		if email = utils.NormalizeEmail(email); email != "" {
			set[email] = struct{}{}
		}
	}
	return &Core{superAdmins: set, coaches: coaches}
}

func (c *Core) IsSuperAdmin(email string) bool {
	_, ok := c.superAdmins[utils.NormalizeEmail(email)]
	return ok
}

// Decide evaluates the rules in order: super-admin, active coach, user. An
// email that resolves to nothing is a user, not an error.
func (c *Core) Decide(ctx context.Context, callerEmail string) (Decision, error) {
	email := utils.NormalizeEmail(callerEmail)

	if _, ok := c.superAdmins[email]; ok && email != "" {
		return Decision{
			Email:  email,
			Role:   RoleSuperAdmin,
			Filter: TenantFilter{All: true},
			Credits: CreditVerdict{
				Has:       true,
				Credits:   models.UnlimitedCredits,
				Unlimited: true,
				Bypassed:  true,
			},
		}, nil
	}

	user := Decision{
		Email:  email,
		Role:   RoleUser,
		Filter: TenantFilter{CoachID: email},
	}
	if email == "" {
		return user, nil
	}

	coach, err := c.coaches.FindCoach(ctx, email)
	if err != nil {
		if errors.Is(err, ErrCoachNotFound) {
			return user, nil
		}
		return Decision{}, apperrors.Dependency("failed to look up coach", err)
	}
	if coach == nil || !coach.IsActive {
		return user, nil
	}

	return Decision{
		Email:   email,
		Role:    RoleCoach,
		Filter:  TenantFilter{CoachID: email},
		Credits: Verdict(coach),
		Coach:   coach,
	}, nil
}

// Verdict computes the credit verdict of a coach account.
func Verdict(coach *models.Coach) CreditVerdict {
	return CreditVerdict{
		Has:       coach.Credits > 0 || coach.Unlimited(),
		Credits:   coach.Credits,
		Unlimited: coach.Unlimited(),
	}
}
