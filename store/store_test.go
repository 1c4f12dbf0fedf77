package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"afroboost/access"
	"afroboost/models"
	"afroboost/store"
	"afroboost/store/storetest"
	"afroboost/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParticipant(email, coach string) *models.Participant {
	now := utils.UTC(time.Now())
	return &models.Participant{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Name:        "Alice",
		Email:       email,
		CoachID:     coach,
		IdentityKey: email,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
}

func TestUpsertParticipantConcurrentFirstCalls(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, _, err := s.UpsertParticipant(ctx, newParticipant("alice@x.com", "bassi"))
			if assert.NoError(t, err) {
				ids[i] = p.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var count int64
	require.NoError(t, s.DB().Model(&models.Participant{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUpsertParticipantIsScopedByCoach(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()

	a, created, err := s.UpsertParticipant(ctx, newParticipant("alice@x.com", "coach-a"))
	require.NoError(t, err)
	assert.True(t, created)

	b, created, err := s.UpsertParticipant(ctx, newParticipant("alice@x.com", "coach-b"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)

	again, created, err := s.UpsertParticipant(ctx, newParticipant("alice@x.com", "coach-a"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, again.ID)
}

func TestEnsureSessionAndMembersAreIdempotent(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	now := utils.UTC(time.Now())

	first, err := s.EnsureSession(ctx, &models.ChatSession{
		ID: "s1", Mode: models.SessionCommunity, CoachID: "bassi", UniqueKey: "community:bassi", CreatedAt: now,
	})
	require.NoError(t, err)
	second, err := s.EnsureSession(ctx, &models.ChatSession{
		ID: "s2", Mode: models.SessionCommunity, CoachID: "bassi", UniqueKey: "community:bassi", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", first.ID)
	assert.Equal(t, "s1", second.ID)

	require.NoError(t, s.AddMember(ctx, "s1", "p1", now))
	require.NoError(t, s.AddMember(ctx, "s1", "p1", now))
	require.NoError(t, s.AddMember(ctx, "s1", "p2", now))

	session, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, session.ParticipantIDs)

	ok, err := s.IsMember(ctx, "s1", "p3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListMessagesPagesStrictlyBefore(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	base := utils.UTC(time.Now())

	var all []models.ChatMessage
	for i := 0; i < 5; i++ {
		msg := models.ChatMessage{
			ID:        uuid.Must(uuid.NewV7()).String(),
			SessionID: "s1",
			SenderID:  "p1",
			Content:   "m",
			CreatedAt: base.Add(time.Duration(i) * time.Microsecond),
			Delivery:  models.DeliverySent,
		}
		require.NoError(t, s.InsertMessage(ctx, &msg))
		all = append(all, msg)
	}

	tail, err := s.ListMessages(ctx, "s1", nil, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, all[3].ID, tail[0].ID)
	assert.Equal(t, all[4].ID, tail[1].ID)

	older, err := s.ListMessages(ctx, "s1", &tail[0], 10)
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, all[0].ID, older[0].ID)
	assert.Equal(t, all[2].ID, older[2].ID)

	last, err := s.LastMessageAt(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, last.Equal(all[4].CreatedAt))

	empty, err := s.LastMessageAt(ctx, "nope")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestAdvanceReadMarkerNeverMovesBack(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	t1 := utils.UTC(time.Now())
	t0 := t1.Add(-time.Minute)

	got, err := s.AdvanceReadMarker(ctx, "p1", "s1", t1)
	require.NoError(t, err)
	assert.True(t, got.Equal(t1))

	got, err = s.AdvanceReadMarker(ctx, "p1", "s1", t0)
	require.NoError(t, err)
	assert.True(t, got.Equal(t1))

	markers, err := s.ReadMarkers(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, markers["s1"].Equal(t1))
}

func TestClaimDueIsExclusive(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	now := utils.UTC(time.Now())
	due := now.Add(-time.Second)

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.CreateCampaign(ctx, &models.Campaign{
			ID: id, CoachID: "bassi", Channel: models.ChannelEmail, Body: "hi",
			Status: models.CampaignScheduled, ScheduledAt: &due, MaxAttempts: 3,
		}))
	}
	later := now.Add(time.Hour)
	require.NoError(t, s.CreateCampaign(ctx, &models.Campaign{
		ID: "future", CoachID: "bassi", Channel: models.ChannelEmail, Body: "hi",
		Status: models.CampaignScheduled, ScheduledAt: &later, MaxAttempts: 3,
	}))

	var mu sync.Mutex
	owners := map[string][]string{}
	var wg sync.WaitGroup
	for _, worker := range []string{"w1", "w2", "w3"} {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			ids, err := s.ClaimDue(ctx, worker, now)
			assert.NoError(t, err)
			mu.Lock()
			for _, id := range ids {
				owners[id] = append(owners[id], worker)
			}
			mu.Unlock()
		}(worker)
	}
	wg.Wait()

	assert.Len(t, owners, 3)
	for id, ws := range owners {
		assert.Len(t, ws, 1, "campaign %s claimed by %v", id, ws)
	}
	assert.NotContains(t, owners, "future")
}

func TestReclaimStaleTakesOverExpiredLease(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	now := utils.UTC(time.Now())
	old := now.Add(-10 * time.Minute)

	require.NoError(t, s.CreateCampaign(ctx, &models.Campaign{
		ID: "c1", CoachID: "bassi", Channel: models.ChannelEmail, Body: "hi",
		Status: models.CampaignRunning, ScheduledAt: &old, ClaimedBy: "dead", ClaimedAt: &old, MaxAttempts: 3,
	}))
	fresh := now.Add(-time.Minute)
	require.NoError(t, s.CreateCampaign(ctx, &models.Campaign{
		ID: "c2", CoachID: "bassi", Channel: models.ChannelEmail, Body: "hi",
		Status: models.CampaignRunning, ScheduledAt: &old, ClaimedBy: "alive", ClaimedAt: &fresh, MaxAttempts: 3,
	}))

	ids, err := s.ReclaimStale(ctx, "w2", now, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	ids, err = s.ReclaimStale(ctx, "w3", now, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, ids)

	owned, err := s.ListOwnedRunning(ctx, "w2")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "c1", owned[0].ID)

	c := owned[0]
	c.Log = []models.CampaignLogEntry{{RecipientKey: "a@x", Status: models.RecipientSent, Attempts: 1}}
	assert.ErrorIs(t, s.SaveCampaignLog(ctx, &c, "dead", now), store.ErrStateChanged)
	require.NoError(t, s.SaveCampaignLog(ctx, &c, "w2", now))

	stored, err := s.GetCampaign(ctx, "c1", access.TenantFilter{All: true})
	require.NoError(t, err)
	require.Len(t, stored.Log, 1)
	assert.Equal(t, models.RecipientSent, stored.Log[0].Status)
}

func TestUpdateCampaignIfGuardsStatus(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()

	c := &models.Campaign{ID: "c1", CoachID: "bassi", Channel: models.ChannelEmail, Body: "hi", Status: models.CampaignRunning, MaxAttempts: 3}
	require.NoError(t, s.CreateCampaign(ctx, c))

	c.Status = models.CampaignDraft
	err := s.UpdateCampaignIf(ctx, c, []string{"status"}, models.CampaignScheduled)
	assert.ErrorIs(t, err, store.ErrStateChanged)

	err = s.DeleteCampaignIf(ctx, "c1", access.TenantFilter{CoachID: "bassi"}, models.CampaignDraft)
	assert.ErrorIs(t, err, store.ErrStateChanged)
}

func TestDeductCredits(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCoach(ctx, &models.Coach{Email: "Coach@X.com", Credits: 2, IsActive: true}))
	require.NoError(t, s.SaveCoach(ctx, &models.Coach{Email: "vip@x.com", Credits: models.UnlimitedCredits, IsActive: true}))

	balance, err := s.DeductCredits(ctx, "coach@x.com", 1, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, balance)

	balance, err = s.DeductCredits(ctx, "coach@x.com", 1, "test")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)

	_, err = s.DeductCredits(ctx, "coach@x.com", 1, "test")
	assert.ErrorIs(t, err, store.ErrInsufficientCredits)

	balance, err = s.DeductCredits(ctx, "vip@x.com", 5, "test")
	require.NoError(t, err)
	assert.Equal(t, models.UnlimitedCredits, balance)

	_, err = s.DeductCredits(ctx, "ghost@x.com", 1, "test")
	assert.ErrorIs(t, err, store.ErrNotFound)

	entries, err := s.ListCreditTransactions(ctx, access.TenantFilter{CoachID: "coach@x.com"}, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAddCreditsOncePerEvent(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	require.NoError(t, s.SaveCoach(ctx, &models.Coach{Email: "coach@x.com", Credits: 1, IsActive: true}))

	balance, applied, err := s.AddCredits(ctx, "coach@x.com", 10, "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 11, balance)

	balance, applied, err = s.AddCredits(ctx, "coach@x.com", 10, "stripe", "evt_1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 11, balance)

	coach, err := s.FindCoach(ctx, "coach@x.com")
	require.NoError(t, err)
	assert.Equal(t, 11, coach.Credits)
}

func TestFindCoachUnknown(t *testing.T) {
	s := storetest.Open(t)
	_, err := s.FindCoach(context.Background(), "nobody@x.com")
	assert.True(t, errors.Is(err, access.ErrCoachNotFound))
}

func TestSettingsDefaultThenSave(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()

	platform, err := s.PlatformSettings(ctx)
	require.NoError(t, err)
	assert.False(t, platform.MaintenanceMode)

	platform.MaintenanceMode = true
	platform.Features = map[string]any{"chat": true}
	require.NoError(t, s.SavePlatformSettings(ctx, platform))

	platform, err = s.PlatformSettings(ctx)
	require.NoError(t, err)
	assert.True(t, platform.MaintenanceMode)
	assert.Equal(t, true, platform.Features["chat"])
}
