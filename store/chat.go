package store

import (
	"context"
	"fmt"
	"time"

	"afroboost/access"
	"afroboost/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureSession returns the session with s.UniqueKey, creating it from s when
// absent. The unique key makes the get-or-create safe under concurrency.
func (s *Store) EnsureSession(ctx context.Context, session *models.ChatSession) (*models.ChatSession, error) {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "unique_key"}},
		DoNothing: true,
	}).Create(session).Error; err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	var stored models.ChatSession
	if err := s.db.WithContext(ctx).Where("unique_key = ?", session.UniqueKey).First(&stored).Error; err != nil {
		return nil, notFound(err)
	}
	return &stored, nil
}

// AddMember is an idempotent set-add on the session's participants.
func (s *Store) AddMember(ctx context.Context, sessionID, participantID string, at time.Time) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ChatSessionMember{
		SessionID:     sessionID,
		ParticipantID: participantID,
		JoinedAt:      at,
	}).Error
}

func (s *Store) IsMember(ctx context.Context, sessionID, participantID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ChatSessionMember{}).
		Where("session_id = ? AND participant_id = ?", sessionID, participantID).
		Count(&count).Error
	return count > 0, err
}

// GetSession loads a session with its participant ids.
func (s *Store) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, notFound(err)
	}
	if err := s.loadMembers(ctx, []*models.ChatSession{&session}); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) ListSessions(ctx context.Context, filter access.TenantFilter) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	if err := s.db.WithContext(ctx).Scopes(Scoped(filter)).Order("created_at ASC, id ASC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	ptrs := make([]*models.ChatSession, len(sessions))
	for i := range sessions {
		ptrs[i] = &sessions[i]
	}
	if err := s.loadMembers(ctx, ptrs); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListMemberSessions returns the sessions a participant belongs to.
func (s *Store) ListMemberSessions(ctx context.Context, participantID string) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&models.ChatSessionMember{}).Select("session_id").Where("participant_id = ?", participantID)).
		Order("created_at ASC, id ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	ptrs := make([]*models.ChatSession, len(sessions))
	for i := range sessions {
		ptrs[i] = &sessions[i]
	}
	if err := s.loadMembers(ctx, ptrs); err != nil {
		return nil, err
	}
	return sessions, nil
}

// MemberSessionIDs lists the sessions a participant belongs to.
func (s *Store) MemberSessionIDs(ctx context.Context, participantID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.ChatSessionMember{}).
		Where("participant_id = ?", participantID).
		Order("session_id ASC").
		Pluck("session_id", &ids).Error
	return ids, err
}

func (s *Store) loadMembers(ctx context.Context, sessions []*models.ChatSession) error {
	if len(sessions) == 0 {
		return nil
	}
	ids := make([]string, len(sessions))
	byID := make(map[string]*models.ChatSession, len(sessions))
	for i, session := range sessions {
		ids[i] = session.ID
		session.ParticipantIDs = []string{}
		byID[session.ID] = session
	}

	var members []models.ChatSessionMember
	if err := s.db.WithContext(ctx).Where("session_id IN ?", ids).
		Order("joined_at ASC, participant_id ASC").
		Find(&members).Error; err != nil {
		return err
	}
	for _, m := range members {
		if session, ok := byID[m.SessionID]; ok {
			session.ParticipantIDs = append(session.ParticipantIDs, m.ParticipantID)
		}
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// FindMessageByNonce returns the message a sender already posted with nonce
// since the given instant, in any session.
func (s *Store) FindMessageByNonce(ctx context.Context, senderID, nonce string, since time.Time) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("sender_id = ? AND client_nonce = ? AND created_at >= ?", senderID, nonce, since).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// ListMessages returns up to limit messages strictly older than before (or
// the tail when before is nil), ascending by (created_at, id).
func (s *Store) ListMessages(ctx context.Context, sessionID string, before *models.ChatMessage, limit int) ([]models.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if before != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", before.CreatedAt, before.CreatedAt, before.ID)
	}

	var messages []models.ChatMessage
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// LastMessageAt is the created_at of the newest message in the session, or
// the zero time.
func (s *Store) LastMessageAt(ctx context.Context, sessionID string) (time.Time, error) {
	var msg models.ChatMessage
	err := s.db.WithContext(ctx).Select("created_at").Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").First(&msg).Error
	if err != nil {
		if notFound(err) == ErrNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return msg.CreatedAt, nil
}

// CountUnread counts messages from others newer than after (all of them when
// after is nil).
func (s *Store) CountUnread(ctx context.Context, sessionID, participantID string, after *time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("session_id = ? AND sender_id <> ?", sessionID, participantID)
	if after != nil {
		q = q.Where("created_at > ?", *after)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

func (s *Store) ReadMarkers(ctx context.Context, participantID string) (map[string]time.Time, error) {
	var markers []models.ReadMarker
	if err := s.db.WithContext(ctx).Where("participant_id = ?", participantID).Find(&markers).Error; err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(markers))
	for _, m := range markers {
		out[m.SessionID] = m.LastReadAt
	}
	return out, nil
}

// AdvanceReadMarker moves the marker forward to upTo and never backwards. It
// returns the marker value after the call.
func (s *Store) AdvanceReadMarker(ctx context.Context, participantID, sessionID string, upTo time.Time) (time.Time, error) {
	var current models.ReadMarker
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ReadMarker{
			ParticipantID: participantID,
			SessionID:     sessionID,
			LastReadAt:    upTo,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Model(&models.ReadMarker{}).
				Where("participant_id = ? AND session_id = ? AND last_read_at < ?", participantID, sessionID, upTo).
				Update("last_read_at", upTo).Error; err != nil {
				return err
			}
		}
		return tx.Where("participant_id = ? AND session_id = ?", participantID, sessionID).First(&current).Error
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("advance read marker: %w", err)
	}
	return current.LastReadAt, nil
}
