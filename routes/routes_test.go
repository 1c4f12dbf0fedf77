package routes

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"afroboost/access"
	"afroboost/campaign"
	"afroboost/chat"
	"afroboost/config"
	"afroboost/identity"
	"afroboost/middleware"
	"afroboost/models"
	"afroboost/store"
	"afroboost/store/storetest"
	"afroboost/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	superAdmin    = "contact.artboost@gmail.com"
	coachA        = "coach.a@afroboost.ch"
	coachB        = "coach.b@afroboost.ch"
	webhookSecret = "whsec_test"
)

type edge struct {
	t     *testing.T
	app   *fiber.App
	store *store.Store
}

func newEdge(t *testing.T) *edge {
	t.Helper()
	st := storetest.Open(t)

	cfg := &config.Config{
		Environment:         "test",
		SuperAdminEmails:    config.DefaultSuperAdmins,
		DefaultCoachID:      "bassi",
		Location:            time.UTC,
		MaxMessageSize:      4000,
		NonceWindow:         2 * time.Minute,
		RequestTimeout:      5 * time.Second,
		RateLimitPerMinute:  1000,
		CORSOrigins:         "*",
		JWTSecret:           "test-secret",
		StripeWebhookSecret: webhookSecret,
	}

	app := NewApp(Dependencies{
		Config:    cfg,
		Store:     st,
		Access:    access.NewCore(cfg.SuperAdminEmails, st),
		Identity:  identity.NewResolver(st, cfg.DefaultCoachID),
		Chat:      chat.NewService(st, chat.NewHub(), chat.Config{MaxMessageSize: cfg.MaxMessageSize, NonceWindow: cfg.NonceWindow}),
		Campaigns: campaign.NewService(st, cfg.Location),
	})

	ctx := context.Background()
	require.NoError(t, st.SaveCoach(ctx, &models.Coach{Email: coachA, Name: "Coach A", Credits: 1, IsActive: true}))
	require.NoError(t, st.SaveCoach(ctx, &models.Coach{Email: coachB, Name: "Coach B", Credits: 5, IsActive: true}))

	return &edge{t: t, app: app, store: st}
}

type call struct {
	method  string
	path    string
	as      string
	body    interface{}
	raw     []byte
	cookies []*http.Cookie
	headers map[string]string
}

func (e *edge) do(c call) (*http.Response, map[string]interface{}) {
	e.t.Helper()

	var body io.Reader
	switch {
	case c.raw != nil:
		body = bytes.NewReader(c.raw)
	case c.body != nil:
		payload, err := json.Marshal(c.body)
		require.NoError(e.t, err)
		body = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(c.method, c.path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.as != "" {
		req.Header.Set(middleware.HeaderUserEmail, c.as)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(e.t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	_ = resp.Body.Close()

	decoded := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(e.t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func identityCookie(resp *http.Response) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == utils.IdentityCookie {
			return cookie
		}
	}
	return nil
}

func TestSmartEntryAndChatOverHTTP(t *testing.T) {
	e := newEdge(t)
	entry := map[string]string{"name": "Alice", "email": "ALICE@x.com", "phone": "+41790000001", "coach_id": "bassi"}

	resp, first := e.do(call{method: fiber.MethodPost, path: "/chat/smart-entry", body: entry})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, first)
	participant := first["participant"].(map[string]interface{})
	assert.NotEmpty(t, participant["id"])
	assert.Equal(t, "alice@x.com", participant["email"])
	assert.Equal(t, false, first["is_returning"])
	session := first["session"].(map[string]interface{})
	assert.Equal(t, "community", session["mode"])

	cookie := identityCookie(resp)
	require.NotNil(t, cookie)

	resp, second := e.do(call{method: fiber.MethodPost, path: "/chat/smart-entry", body: entry})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, participant["id"], second["participant"].(map[string]interface{})["id"])
	assert.Equal(t, true, second["is_returning"])

	sessionID := session["id"].(string)
	messagesPath := "/chat/sessions/" + sessionID + "/messages"

	resp, posted := e.do(call{
		method:  fiber.MethodPost,
		path:    messagesPath,
		body:    map[string]string{"content": "hello", "client_nonce": "n-1"},
		cookies: []*http.Cookie{cookie},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, posted)
	assert.Equal(t, participant["id"], posted["sender_id"])

	resp, history := e.do(call{method: fiber.MethodGet, path: messagesPath, cookies: []*http.Cookie{cookie}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	messages := history["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].(map[string]interface{})["content"])

	resp, sessions := e.do(call{method: fiber.MethodGet, path: "/chat/sessions", cookies: []*http.Cookie{cookie}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, sessions["sessions"], 1)

	// Without identity the history is refused.
	resp, body := e.do(call{method: fiber.MethodGet, path: messagesPath})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["kind"])

	resp, unread := e.do(call{method: fiber.MethodGet, path: "/chat/unread", cookies: []*http.Cookie{cookie}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, unread["total"])

	resp, marked := e.do(call{method: fiber.MethodPost, path: "/chat/sessions/" + sessionID + "/read", cookies: []*http.Cookie{cookie}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, marked)
	assert.NotEmpty(t, marked["last_read_at"])
}

func TestSuperAdminBypass(t *testing.T) {
	e := newEdge(t)

	resp, role := e.do(call{method: fiber.MethodGet, path: "/auth/role", as: superAdmin})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "super_admin", role["role"])
	assert.Equal(t, true, role["is_super_admin"])

	resp, deducted := e.do(call{method: fiber.MethodPost, path: "/credits/deduct", as: superAdmin})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, deducted["bypassed"])

	for _, email := range []string{coachA, coachB} {
		coach, err := e.store.FindCoach(context.Background(), email)
		require.NoError(t, err)
		assert.NotZero(t, coach.Credits)
	}
	entries, err := e.store.ListCreditTransactions(context.Background(), access.TenantFilter{All: true}, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCoachCredits(t *testing.T) {
	e := newEdge(t)

	resp, check := e.do(call{method: fiber.MethodGet, path: "/credits/check", as: coachA})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, check["has_credits"])
	assert.EqualValues(t, 1, check["credits"])

	resp, deducted := e.do(call{method: fiber.MethodPost, path: "/credits/deduct", as: coachA, body: map[string]interface{}{"amount": 1, "reason": "campaign"}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, deducted)
	assert.Equal(t, false, deducted["bypassed"])
	assert.EqualValues(t, 0, deducted["credits"])

	resp, body := e.do(call{method: fiber.MethodPost, path: "/credits/deduct", as: coachA})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["kind"])
	assert.Equal(t, "insufficient credits", body["detail"])

	resp, _ = e.do(call{method: fiber.MethodPost, path: "/credits/deduct", as: "visitor@x.com"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, history := e.do(call{method: fiber.MethodGet, path: "/credits/transactions", as: coachA})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, history["transactions"], 1)
}

func TestReservationsAreTenantIsolated(t *testing.T) {
	e := newEdge(t)
	ctx := context.Background()
	slot := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	for i, coach := range []string{coachA, coachA, coachB} {
		require.NoError(t, e.store.CreateReservation(ctx, &models.Reservation{
			ID:         fmt.Sprintf("r-%d", i),
			CoachID:    coach,
			UserEmail:  "user@x.com",
			CourseName: "Afro dance",
			SlotAt:     slot.Add(time.Duration(i) * time.Hour),
			Status:     "confirmed",
		}))
	}

	ids := func(as string) map[string]string {
		resp, body := e.do(call{method: fiber.MethodGet, path: "/reservations", as: as})
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		out := map[string]string{}
		for _, r := range body["reservations"].([]interface{}) {
			row := r.(map[string]interface{})
			out[row["id"].(string)] = row["coach_id"].(string)
		}
		return out
	}

	a := ids(coachA)
	b := ids(coachB)
	assert.Equal(t, map[string]string{"r-0": coachA, "r-1": coachA}, a)
	assert.Equal(t, map[string]string{"r-2": coachB}, b)
	for id := range a {
		assert.NotContains(t, b, id)
	}
	assert.Len(t, ids(superAdmin), 3)

	resp, created := e.do(call{method: fiber.MethodPost, path: "/reservations", as: "user@x.com", body: map[string]interface{}{
		"coach_id":    coachB,
		"course_name": "Afro dance",
		"slot_at":     slot.Add(24 * time.Hour).Format(time.RFC3339),
	}})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, created)
	assert.Equal(t, coachB, created["coach_id"])
	assert.Len(t, ids(coachB), 2)
	assert.Len(t, ids(coachA), 2)

	resp, _ = e.do(call{method: fiber.MethodPost, path: "/reservations", as: "user@x.com", body: map[string]interface{}{
		"coach_id":    "nobody@x.com",
		"course_name": "Afro dance",
		"slot_at":     slot.Format(time.RFC3339),
	}})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCampaignEndpoints(t *testing.T) {
	e := newEdge(t)

	resp, created := e.do(call{method: fiber.MethodPost, path: "/campaigns", as: coachA, body: map[string]interface{}{
		"name":       "Rentrée",
		"channel":    "email",
		"subject":    "Nouveau cours",
		"body":       "Bonjour {prenom}",
		"recipients": []map[string]string{{"email": "a@x.com"}, {"email": "A@x.com"}},
	}})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, created)
	id := created["id"].(string)
	assert.Equal(t, "draft", created["status"])
	assert.Equal(t, coachA, created["coach_id"])

	resp, scheduled := e.do(call{method: fiber.MethodPost, path: "/campaigns/" + id + "/schedule", as: coachA, body: map[string]string{
		"scheduled_at": "2030-01-01T09:00",
	}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, scheduled)
	assert.Equal(t, "scheduled", scheduled["status"])

	resp, body := e.do(call{method: fiber.MethodGet, path: "/campaigns/" + id, as: coachB})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])

	resp, logs := e.do(call{method: fiber.MethodGet, path: "/campaigns/logs", as: coachA})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, logs["logs"], 1)

	resp, logs = e.do(call{method: fiber.MethodGet, path: "/campaigns/logs", as: superAdmin})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, logs["logs"], 1)

	resp, body = e.do(call{method: fiber.MethodDelete, path: "/campaigns/" + id, as: coachA})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["kind"])

	resp, cancelled := e.do(call{method: fiber.MethodPost, path: "/campaigns/" + id + "/cancel", as: coachA})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "draft", cancelled["status"])

	resp, updated := e.do(call{method: fiber.MethodPut, path: "/campaigns/" + id, as: coachA, body: map[string]string{"name": "Rentrée 2030"}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, updated)
	assert.Equal(t, "Rentrée 2030", updated["name"])

	resp, _ = e.do(call{method: fiber.MethodDelete, path: "/campaigns/" + id, as: coachA})
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, _ = e.do(call{method: fiber.MethodGet, path: "/campaigns", as: "visitor@x.com"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestErrorEnvelope(t *testing.T) {
	e := newEdge(t)

	resp, body := e.do(call{method: fiber.MethodPost, path: "/chat/smart-entry", body: map[string]string{"name": "Bob", "email": "bob@x.com", "role": "admin"}})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["kind"])
	assert.NotEmpty(t, body["detail"])

	resp, body = e.do(call{method: fiber.MethodGet, path: "/campaigns/missing", as: coachA})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])

	resp, body = e.do(call{method: fiber.MethodGet, path: "/campaigns"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["kind"])
}

func TestSettingsPermissions(t *testing.T) {
	e := newEdge(t)

	resp, _ := e.do(call{method: fiber.MethodPut, path: "/settings/platform", as: coachA, body: map[string]bool{"maintenance_mode": true}})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, saved := e.do(call{method: fiber.MethodPut, path: "/settings/platform", as: superAdmin, body: map[string]bool{"maintenance_mode": true}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, saved)

	resp, platform := e.do(call{method: fiber.MethodGet, path: "/settings/platform"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, platform["maintenance_mode"])

	resp, _ = e.do(call{method: fiber.MethodPut, path: "/settings/concept", as: "visitor@x.com", body: map[string]string{"app_name": "X"}})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, concept := e.do(call{method: fiber.MethodPut, path: "/settings/concept", as: coachA, body: map[string]string{"app_name": "Afroboost Genève"}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, concept)
	assert.Equal(t, "Afroboost Genève", concept["app_name"])
}

func TestPrivateSessionOverHTTP(t *testing.T) {
	e := newEdge(t)

	resp, entered := e.do(call{method: fiber.MethodPost, path: "/chat/smart-entry", body: map[string]string{
		"name": "Alice", "email": "alice@x.com", "coach_id": coachA,
	}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, entered)
	aliceID := entered["participant"].(map[string]interface{})["id"].(string)
	cookie := identityCookie(resp)
	require.NotNil(t, cookie)

	request := map[string]interface{}{"title": "Suivi", "participant_ids": []string{aliceID}}

	resp, _ = e.do(call{method: fiber.MethodPost, path: "/chat/sessions", cookies: []*http.Cookie{cookie}, body: request})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = e.do(call{method: fiber.MethodPost, path: "/chat/sessions", as: coachB, body: request})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, created := e.do(call{method: fiber.MethodPost, path: "/chat/sessions", as: coachA, body: request})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, created)
	assert.Equal(t, "private", created["mode"])

	resp, listed := e.do(call{method: fiber.MethodGet, path: "/chat/sessions", cookies: []*http.Cookie{cookie}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, listed["sessions"], 2)
}

func TestCheckPartner(t *testing.T) {
	e := newEdge(t)

	_, body := e.do(call{method: fiber.MethodGet, path: "/check-partner/" + coachA})
	assert.Equal(t, true, body["is_partner"])
	assert.Equal(t, true, body["is_active"])

	_, body = e.do(call{method: fiber.MethodGet, path: "/check-partner/someone@x.com"})
	assert.Equal(t, false, body["is_partner"])

	_, body = e.do(call{method: fiber.MethodGet, path: "/check-partner/" + superAdmin})
	assert.Equal(t, true, body["is_super_admin"])
}

func TestSavePartner(t *testing.T) {
	e := newEdge(t)

	resp, _ := e.do(call{method: fiber.MethodPost, path: "/partners", as: coachA, body: map[string]string{"email": "new@afroboost.ch"}})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, saved := e.do(call{method: fiber.MethodPost, path: "/partners", as: superAdmin, body: map[string]interface{}{
		"email":   "New@Afroboost.ch",
		"name":    "New Coach",
		"credits": 3,
	}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, saved)

	resp, role := e.do(call{method: fiber.MethodGet, path: "/auth/role", as: "new@afroboost.ch"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "coach", role["role"])
}

func signStripe(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeWebhookTopsUpOnce(t *testing.T) {
	e := newEdge(t)
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"api_version": "2023-10-16",
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"payment_status": "paid",
			"metadata": {"coach_email": "coach.b@afroboost.ch", "credits": "10"}
		}}
	}`)

	resp, body := e.do(call{method: fiber.MethodPost, path: "/webhooks/stripe", raw: payload, headers: map[string]string{
		"Stripe-Signature": signStripe(payload, "wrong", time.Now()),
	}})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["kind"])

	sig := signStripe(payload, webhookSecret, time.Now())
	resp, body = e.do(call{method: fiber.MethodPost, path: "/webhooks/stripe", raw: payload, headers: map[string]string{"Stripe-Signature": sig}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["applied"])
	assert.EqualValues(t, 15, body["credits"])

	resp, body = e.do(call{method: fiber.MethodPost, path: "/webhooks/stripe", raw: payload, headers: map[string]string{"Stripe-Signature": sig}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["applied"])

	coach, err := e.store.FindCoach(context.Background(), coachB)
	require.NoError(t, err)
	assert.Equal(t, 15, coach.Credits)
}

func TestHealth(t *testing.T) {
	e := newEdge(t)

	resp, body := e.do(call{method: fiber.MethodGet, path: "/health"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = e.do(call{method: fiber.MethodGet, path: "/metrics"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
