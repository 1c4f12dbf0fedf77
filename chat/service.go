// Package chat is the chat hub: session access, ordered persistence of
// messages, live fan-out to subscribers and unread accounting.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"afroboost/access"
	"afroboost/apperrors"
	"afroboost/metrics"
	"afroboost/models"
	"afroboost/store"
	"afroboost/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	minNonceWindow      = time.Minute
)

type Store interface {
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	FindParticipant(ctx context.Context, identityKey, coachID string) (*models.Participant, error)
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	EnsureSession(ctx context.Context, session *models.ChatSession) (*models.ChatSession, error)
	AddMember(ctx context.Context, sessionID, participantID string, at time.Time) error
	IsMember(ctx context.Context, sessionID, participantID string) (bool, error)
	ListSessions(ctx context.Context, filter access.TenantFilter) ([]models.ChatSession, error)
	ListMemberSessions(ctx context.Context, participantID string) ([]models.ChatSession, error)
	MemberSessionIDs(ctx context.Context, participantID string) ([]string, error)
	InsertMessage(ctx context.Context, msg *models.ChatMessage) error
	GetMessage(ctx context.Context, id string) (*models.ChatMessage, error)
	FindMessageByNonce(ctx context.Context, senderID, nonce string, since time.Time) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID string, before *models.ChatMessage, limit int) ([]models.ChatMessage, error)
	LastMessageAt(ctx context.Context, sessionID string) (time.Time, error)
	CountUnread(ctx context.Context, sessionID, participantID string, after *time.Time) (int64, error)
	ReadMarkers(ctx context.Context, participantID string) (map[string]time.Time, error)
	AdvanceReadMarker(ctx context.Context, participantID, sessionID string, upTo time.Time) (time.Time, error)
}

type Config struct {
	MaxMessageSize int
	NonceWindow    time.Duration
}

type PostInput struct {
	SessionID   string `json:"session_id" validate:"required"`
	SenderID    string `json:"sender_id" validate:"required"`
	Content     string `json:"content" validate:"required"`
	ClientNonce string `json:"client_nonce" validate:"omitempty,max=128"`
}

type DirectInput struct {
	SenderID    string `json:"sender_id" validate:"required"`
	RecipientID string `json:"recipient_id" validate:"required"`
	Content     string `json:"content" validate:"required"`
	ClientNonce string `json:"client_nonce" validate:"omitempty,max=128"`
}

// PrivateInput opens a titled session restricted to the listed participants.
type PrivateInput struct {
	CoachID        string   `json:"coach_id" validate:"omitempty,max=320"`
	Title          string   `json:"title" validate:"required,max=200"`
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,max=100,dive,required"`
}

type Service struct {
	store Store
	hub   *Hub
	seq   *sequencer
	cfg   Config
	now   func() time.Time
	log   *logrus.Entry
}

func NewService(st Store, hub *Hub, cfg Config) *Service {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4000
	}
	if cfg.NonceWindow < minNonceWindow {
		cfg.NonceWindow = minNonceWindow
	}
	return &Service{
		store: st,
		hub:   hub,
		seq:   newSequencer(),
		cfg:   cfg,
		now:   time.Now,
		log:   logrus.WithField("component", "chat"),
	}
}

func (s *Service) Hub() *Hub { return s.hub }

// Join subscribes sub to a session on behalf of participantID. Staff of the
// session's tenant may join any session; others must be members.
func (s *Service) Join(ctx context.Context, d access.Decision, sub Subscriber, sessionID, participantID string) (*models.ChatSession, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !d.CanManage(session.CoachID) {
		if _, err := s.authorizeMember(ctx, d, session, participantID); err != nil {
			return nil, err
		}
	}

	refs := s.hub.Join(sub, session.ID)
	s.log.WithFields(logrus.Fields{
		"session_id":     session.ID,
		"subscriber_id":  sub.ID(),
		"participant_id": participantID,
		"refs":           refs,
	}).Debug("subscriber joined")
	return session, nil
}

// Leave drops one subscription reference and reports whether sub stopped
// receiving the session's events.
func (s *Service) Leave(sub Subscriber, sessionID string) bool {
	return s.hub.Leave(sub, sessionID)
}

// Post persists a message and then fans it out. A nonce replayed by the same
// sender within the window returns the message persisted the first time,
// whichever session it went to.
func (s *Service) Post(ctx context.Context, d access.Decision, in PostInput) (*models.ChatMessage, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperrors.InvalidInput("content must not be empty")
	}
	if len(content) > s.cfg.MaxMessageSize {
		return nil, apperrors.InvalidInput("content exceeds the maximum message size")
	}

	session, err := s.session(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	senderName, err := s.authorizeSender(ctx, d, session, in.SenderID)
	if err != nil {
		return nil, err
	}

	sl := s.seq.lock(session.ID)
	defer s.seq.unlock(session.ID, sl)

	now := utils.UTC(s.now())
	if in.ClientNonce != "" {
		existing, err := s.store.FindMessageByNonce(ctx, in.SenderID, in.ClientNonce, now.Add(-s.cfg.NonceWindow))
		if err == nil {
			metrics.ChatNonceReplays.Inc()
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.Dependency("failed to check message nonce", err)
		}
	}

	if !sl.loaded {
		last, err := s.store.LastMessageAt(ctx, session.ID)
		if err != nil {
			return nil, apperrors.Dependency("failed to read session order", err)
		}
		sl.last, sl.loaded = last, true
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Internal("failed to mint message id", err)
	}
	msg := &models.ChatMessage{
		ID:         id.String(),
		SessionID:  session.ID,
		SenderID:   in.SenderID,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  sl.next(now),
		Delivery:   models.DeliverySent,
	}
	if in.ClientNonce != "" {
		msg.ClientNonce = utils.Pointer(in.ClientNonce)
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, apperrors.Dependency("failed to persist message", err)
	}
	sl.last = msg.CreatedAt
	metrics.ChatMessagesPosted.WithLabelValues(string(session.Mode)).Inc()

	events := []Event{{Name: EventMessage, Data: msg}}
	if session.Mode == models.SessionCommunity {
		events = append(events, Event{Name: EventGroup, Data: msg})
	}
	s.hub.Publish(session.ID, events...)
	return msg, nil
}

// PostDirect posts into the dm session of the unordered (sender, recipient)
// pair, creating it on first use.
func (s *Service) PostDirect(ctx context.Context, d access.Decision, in DirectInput) (*models.ChatMessage, *models.ChatSession, error) {
	if in.SenderID == in.RecipientID {
		return nil, nil, apperrors.InvalidInput("sender and recipient must differ")
	}
	sender, err := s.participant(ctx, in.SenderID)
	if err != nil {
		return nil, nil, err
	}
	recipient, err := s.participant(ctx, in.RecipientID)
	if err != nil {
		return nil, nil, err
	}
	if sender.CoachID != recipient.CoachID {
		return nil, nil, apperrors.Forbidden("participants belong to different tenants")
	}
	if !d.CanManage(sender.CoachID) && !s.isCaller(d, sender) {
		return nil, nil, apperrors.Forbidden("caller may not post as this participant")
	}

	now := utils.UTC(s.now())
	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, apperrors.Internal("failed to mint session id", err)
	}
	session, err := s.store.EnsureSession(ctx, &models.ChatSession{
		ID:        id.String(),
		Mode:      models.SessionDM,
		CoachID:   sender.CoachID,
		UniqueKey: models.DMKey(sender.CoachID, sender.ID, recipient.ID),
		CreatedAt: now,
	})
	if err != nil {
		return nil, nil, apperrors.Dependency("failed to open direct session", err)
	}
	for _, pid := range []string{sender.ID, recipient.ID} {
		if err := s.store.AddMember(ctx, session.ID, pid, now); err != nil {
			return nil, nil, apperrors.Dependency("failed to add session member", err)
		}
	}

	msg, err := s.Post(ctx, d, PostInput{
		SessionID:   session.ID,
		SenderID:    sender.ID,
		Content:     in.Content,
		ClientNonce: in.ClientNonce,
	})
	if err != nil {
		return nil, nil, err
	}
	session.ParticipantIDs = []string{sender.ID, recipient.ID}
	return msg, session, nil
}

// History returns up to limit messages strictly older than the message
// before (the tail when empty), oldest first.
// CreatePrivate opens a private session of the caller's tenant. Only staff
// may open one and every participant must belong to the tenant.
func (s *Service) CreatePrivate(ctx context.Context, d access.Decision, in PrivateInput) (*models.ChatSession, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperrors.InvalidInput("title is required")
	}
	coachID := utils.NormalizeEmail(in.CoachID)
	switch {
	case d.IsSuperAdmin():
		if coachID == "" {
			return nil, apperrors.InvalidInput("coach_id is required")
		}
	case d.IsCoach():
		if coachID != "" && coachID != d.Email {
			return nil, apperrors.Forbidden("coaches can only open sessions in their own tenant")
		}
		coachID = d.Email
	default:
		return nil, apperrors.Forbidden("only coaches can open private sessions")
	}

	members := make([]string, 0, len(in.ParticipantIDs))
	seen := make(map[string]struct{}, len(in.ParticipantIDs))
	for _, pid := range in.ParticipantIDs {
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		p, err := s.participant(ctx, pid)
		if err != nil {
			return nil, err
		}
		if p.CoachID != coachID {
			return nil, apperrors.Forbidden("participant belongs to another tenant")
		}
		members = append(members, p.ID)
	}

	now := utils.UTC(s.now())
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Internal("failed to mint session id", err)
	}
	session, err := s.store.EnsureSession(ctx, &models.ChatSession{
		ID:        id.String(),
		Mode:      models.SessionPrivate,
		Title:     title,
		CoachID:   coachID,
		UniqueKey: models.PrivateKey(id.String()),
		CreatedAt: now,
	})
	if err != nil {
		return nil, apperrors.Dependency("failed to open private session", err)
	}
	for _, pid := range members {
		if err := s.store.AddMember(ctx, session.ID, pid, now); err != nil {
			return nil, apperrors.Dependency("failed to add session member", err)
		}
	}
	session.ParticipantIDs = members

	s.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"coach_id":   coachID,
		"members":    len(members),
	}).Info("private session opened")
	return session, nil
}

func (s *Service) History(ctx context.Context, d access.Decision, sessionID, before string, limit int) ([]models.ChatMessage, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeReader(ctx, d, session); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	var cursor *models.ChatMessage
	if before != "" {
		cursor, err = s.store.GetMessage(ctx, before)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperrors.InvalidInput("before does not reference a message")
			}
			return nil, apperrors.Dependency("failed to load cursor message", err)
		}
		if cursor.SessionID != session.ID {
			return nil, apperrors.InvalidInput("before references another session")
		}
	}

	messages, err := s.store.ListMessages(ctx, session.ID, cursor, limit)
	if err != nil {
		return nil, apperrors.Dependency("failed to load messages", err)
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return messages, nil
}

// Unread counts, per session of the participant, messages from others newer
// than the participant's read marker.
func (s *Service) Unread(ctx context.Context, d access.Decision, participantID string) (map[string]int64, error) {
	p, err := s.participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if !d.CanManage(p.CoachID) && !s.isCaller(d, p) {
		return nil, apperrors.Forbidden("caller may not read this participant's counters")
	}

	sessionIDs, err := s.store.MemberSessionIDs(ctx, p.ID)
	if err != nil {
		return nil, apperrors.Dependency("failed to list sessions", err)
	}
	markers, err := s.store.ReadMarkers(ctx, p.ID)
	if err != nil {
		return nil, apperrors.Dependency("failed to load read markers", err)
	}

	counts := make(map[string]int64, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		var after *time.Time
		if marker, ok := markers[sessionID]; ok {
			after = &marker
		}
		n, err := s.store.CountUnread(ctx, sessionID, p.ID, after)
		if err != nil {
			return nil, apperrors.Dependency("failed to count unread messages", err)
		}
		counts[sessionID] = n
	}
	return counts, nil
}

// MarkRead advances the participant's read marker to upTo, or to now when
// upTo is nil. upTo is capped at the later of now and the newest message.
// Earlier values leave the marker untouched.
func (s *Service) MarkRead(ctx context.Context, d access.Decision, participantID, sessionID string, upTo *time.Time) (time.Time, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	if _, err := s.authorizeMember(ctx, d, session, participantID); err != nil {
		return time.Time{}, err
	}

	now := utils.UTC(s.now())
	at := now
	if upTo != nil {
		// A marker past the newest message would hide messages not yet posted.
		last, err := s.store.LastMessageAt(ctx, session.ID)
		if err != nil {
			return time.Time{}, apperrors.Dependency("failed to read session order", err)
		}
		bound := now
		if last.After(bound) {
			bound = last
		}
		at = utils.UTC(*upTo)
		if at.After(bound) {
			at = bound
		}
	}
	marker, err := s.store.AdvanceReadMarker(ctx, participantID, session.ID, at)
	if err != nil {
		return time.Time{}, apperrors.Dependency("failed to update read marker", err)
	}
	return marker, nil
}

// Sessions lists what the caller may see: every tenant for super admins, the
// coach's own tenant for coaches, memberships for participants.
func (s *Service) Sessions(ctx context.Context, d access.Decision) ([]models.ChatSession, error) {
	var (
		sessions []models.ChatSession
		err      error
	)
	switch {
	case d.IsSuperAdmin() || d.IsCoach():
		sessions, err = s.store.ListSessions(ctx, d.Filter)
	case d.ParticipantID != "":
		sessions, err = s.store.ListMemberSessions(ctx, d.ParticipantID)
	default:
		sessions, err = s.store.ListSessions(ctx, d.Filter)
	}
	if err != nil {
		return nil, apperrors.Dependency("failed to list sessions", err)
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	return sessions, nil
}

func (s *Service) session(ctx context.Context, id string) (*models.ChatSession, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("session_id is required")
	}
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("session not found")
		}
		return nil, apperrors.Dependency("failed to load session", err)
	}
	return session, nil
}

func (s *Service) participant(ctx context.Context, id string) (*models.Participant, error) {
	p, err := s.store.GetParticipant(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("participant not found")
		}
		return nil, apperrors.Dependency("failed to load participant", err)
	}
	return p, nil
}

// isCaller reports whether the request was made by participant p itself.
func (s *Service) isCaller(d access.Decision, p *models.Participant) bool {
	if d.ParticipantID != "" {
		return d.ParticipantID == p.ID
	}
	return p.Email != "" && p.Email == d.Email
}

// authorizeMember checks that participantID is the caller (or the caller
// administers the tenant) and belongs to the session.
func (s *Service) authorizeMember(ctx context.Context, d access.Decision, session *models.ChatSession, participantID string) (*models.Participant, error) {
	if participantID == "" {
		return nil, apperrors.InvalidInput("participant_id is required")
	}
	p, err := s.participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if !d.CanManage(session.CoachID) && !s.isCaller(d, p) {
		return nil, apperrors.Forbidden("caller may not act as this participant")
	}
	ok, err := s.store.IsMember(ctx, session.ID, p.ID)
	if err != nil {
		return nil, apperrors.Dependency("failed to check membership", err)
	}
	if !ok {
		return nil, apperrors.Forbidden("participant is not a member of the session")
	}
	return p, nil
}

// authorizeSender returns the display name of a permitted sender. Staff of the
// tenant post under their own email.
func (s *Service) authorizeSender(ctx context.Context, d access.Decision, session *models.ChatSession, senderID string) (string, error) {
	if senderID == "" {
		return "", apperrors.InvalidInput("sender_id is required")
	}
	if senderID == d.Email && d.CanManage(session.CoachID) {
		if d.Coach != nil && d.Coach.Name != "" {
			return d.Coach.Name, nil
		}
		return d.Email, nil
	}
	p, err := s.authorizeMember(ctx, d, session, senderID)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

// authorizeReader lets tenant staff and session members read history.
func (s *Service) authorizeReader(ctx context.Context, d access.Decision, session *models.ChatSession) error {
	if d.CanManage(session.CoachID) {
		return nil
	}
	participantID := d.ParticipantID
	if participantID == "" && d.Email != "" {
		p, err := s.store.FindParticipant(ctx, d.Email, session.CoachID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.Forbidden("caller is not a member of the session")
			}
			return apperrors.Dependency("failed to resolve caller", err)
		}
		participantID = p.ID
	}
	if participantID == "" {
		return apperrors.Unauthorized("caller identity is required")
	}
	ok, err := s.store.IsMember(ctx, session.ID, participantID)
	if err != nil {
		return apperrors.Dependency("failed to check membership", err)
	}
	if !ok {
		return apperrors.Forbidden("caller is not a member of the session")
	}
	return nil
}
