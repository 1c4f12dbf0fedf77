package access

import (
	"context"
	"errors"
	"testing"

	"afroboost/apperrors"
	"afroboost/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coachMap struct {
	coaches map[string]*models.Coach
	err     error
	calls   int
}

func (m *coachMap) FindCoach(_ context.Context, email string) (*models.Coach, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	coach, ok := m.coaches[email]
	if !ok {
		return nil, ErrCoachNotFound
	}
	return coach, nil
}

func newCore(coaches ...*models.Coach) (*Core, *coachMap) {
	lookup := &coachMap{coaches: map[string]*models.Coach{}}
	for _, c := range coaches {
		lookup.coaches[c.Email] = c
	}
	return NewCore([]string{"contact.artboost@gmail.com", "Afroboost.Bassi@gmail.com"}, lookup), lookup
}

func TestDecideSuperAdminBypassesEverything(t *testing.T) {
	core, lookup := newCore()

	decision, err := core.Decide(context.Background(), "  Contact.Artboost@gmail.com ")
	require.NoError(t, err)

	assert.Equal(t, RoleSuperAdmin, decision.Role)
	assert.True(t, decision.Filter.All)
	assert.True(t, decision.Filter.Matches("any-coach"))
	assert.Equal(t, CreditVerdict{Has: true, Credits: -1, Unlimited: true, Bypassed: true}, decision.Credits)
	assert.Zero(t, lookup.calls, "super admins never hit the store")
	assert.True(t, core.IsSuperAdmin("afroboost.bassi@gmail.com"))
}

func TestDecideActiveCoach(t *testing.T) {
	core, _ := newCore(&models.Coach{Email: "coach@x.com", Credits: 5, IsActive: true})

	decision, err := core.Decide(context.Background(), "COACH@x.com")
	require.NoError(t, err)

	assert.Equal(t, RoleCoach, decision.Role)
	assert.Equal(t, TenantFilter{CoachID: "coach@x.com"}, decision.Filter)
	assert.Equal(t, CreditVerdict{Has: true, Credits: 5}, decision.Credits)
	assert.True(t, decision.CanManage("coach@x.com"))
	assert.False(t, decision.CanManage("other@x.com"))
}

func TestDecideCoachCreditVerdicts(t *testing.T) {
	core, _ := newCore(
		&models.Coach{Email: "broke@x.com", Credits: 0, IsActive: true},
		&models.Coach{Email: "vip@x.com", Credits: -1, IsActive: true},
	)

	broke, err := core.Decide(context.Background(), "broke@x.com")
	require.NoError(t, err)
	assert.False(t, broke.Credits.Has)

	vip, err := core.Decide(context.Background(), "vip@x.com")
	require.NoError(t, err)
	assert.True(t, vip.Credits.Has)
	assert.True(t, vip.Credits.Unlimited)
	assert.False(t, vip.Credits.Bypassed)
}

func TestDecideInactiveCoachIsUser(t *testing.T) {
	core, _ := newCore(&models.Coach{Email: "gone@x.com", Credits: 10, IsActive: false})

	decision, err := core.Decide(context.Background(), "gone@x.com")
	require.NoError(t, err)

	assert.Equal(t, RoleUser, decision.Role)
	assert.Equal(t, TenantFilter{CoachID: "gone@x.com"}, decision.Filter)
	assert.Equal(t, CreditVerdict{}, decision.Credits)
}

func TestDecideUnknownEmailIsUser(t *testing.T) {
	core, _ := newCore()

	decision, err := core.Decide(context.Background(), "someone@x.com")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, decision.Role)
	assert.False(t, decision.Credits.Has)

	anonymous, err := core.Decide(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, anonymous.Role)
	assert.False(t, anonymous.Filter.All)
}

func TestDecideLookupFailureIsDependencyFailure(t *testing.T) {
	core, lookup := newCore()
	lookup.err = errors.New("connection refused")

	_, err := core.Decide(context.Background(), "coach@x.com")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDependencyFailure, apperrors.KindOf(err))
}

func TestDecideIsDeterministic(t *testing.T) {
	core, _ := newCore(&models.Coach{Email: "coach@x.com", Credits: 3, IsActive: true})

	first, err := core.Decide(context.Background(), "coach@x.com")
	require.NoError(t, err)
	second, err := core.Decide(context.Background(), "coach@x.com")
	require.NoError(t, err)

	assert.Equal(t, first.Role, second.Role)
	assert.Equal(t, first.Filter, second.Filter)
	assert.Equal(t, first.Credits, second.Credits)
}
