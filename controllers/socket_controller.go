package controller

import (
	"context"
	"encoding/json"
	"time"

	"afroboost/access"
	"afroboost/apperrors"
	"afroboost/chat"
	"afroboost/middleware"
	"afroboost/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Client to server socket events.
const (
	SocketJoin  = "join_session"
	SocketLeave = "leave_session"
	SocketSend  = "send_message"
)

const (
	socketBuffer       = 64
	socketWriteTimeout = 10 * time.Second
	localSocketCaller  = "socket_decision"
)

type socketRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinRequest struct {
	SessionID     string `json:"session_id" validate:"required"`
	ParticipantID string `json:"participant_id"`
}

type leaveRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// sendRequest is chat.PostInput with the sender optional; it defaults to the
// caller's participant.
type sendRequest struct {
	SessionID   string `json:"session_id" validate:"required"`
	SenderID    string `json:"sender_id"`
	Content     string `json:"content" validate:"required"`
	ClientNonce string `json:"client_nonce" validate:"omitempty,max=128"`
}

type SocketController struct {
	Chat           *chat.Service
	RequestTimeout time.Duration
	Logger         *logrus.Entry
}

func NewSocketController(chatService *chat.Service, requestTimeout time.Duration, logger *logrus.Entry) *SocketController {
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	return &SocketController{
		Chat:           chatService,
		RequestTimeout: requestTimeout,
		Logger:         logger,
	}
}

// Upgrade only lets websocket handshakes through and keeps the caller's
// access decision for the connection.
func (sc *SocketController) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return apperrors.InvalidInput("websocket upgrade required")
	}
	c.Locals(localSocketCaller, middleware.DecisionOf(c))
	return c.Next()
}

func (sc *SocketController) Handler() fiber.Handler {
	return websocket.New(sc.serve)
}

func (sc *SocketController) serve(conn *websocket.Conn) {
	d, _ := conn.Locals(localSocketCaller).(access.Decision)
	sub := chat.NewChanSubscriber(uuid.NewString(), socketBuffer)
	log := sc.Logger.WithFields(logrus.Fields{
		"subscriber_id": sub.ID(),
		"caller":        d.Email,
	})
	log.Debug("Socket connected")

	writerDone := make(chan struct{})
	go sc.writePump(conn, sub, writerDone, log)

	defer func() {
		sc.Chat.Hub().LeaveAll(sub)
		sub.Close()
		<-writerDone
		_ = conn.Close()
		log.Debug("Socket disconnected")
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("Socket read failed")
			}
			return
		}
		var req socketRequest
		if err := utils.DecodeStrict(frame, "socket frame", &req); err != nil {
			sc.reject(sub, req.Event, err, log)
			continue
		}
		sc.handle(d, sub, req, log)
	}
}

// writePump is the only writer on the connection.
func (sc *SocketController) writePump(conn *websocket.Conn, sub *chat.ChanSubscriber, done chan<- struct{}, log *logrus.Entry) {
	defer close(done)
	for {
		select {
		case event := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.WithError(err).Debug("Socket write failed")
				sc.Chat.Hub().LeaveAll(sub)
				sub.Close()
				_ = conn.Close()
				return
			}
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}
	}
}

func (sc *SocketController) handle(d access.Decision, sub *chat.ChanSubscriber, req socketRequest, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), sc.RequestTimeout)
	defer cancel()

	var err error
	switch req.Event {
	case SocketJoin:
		var in joinRequest
		if err = decodeEvent(req.Data, &in); err != nil {
			break
		}
		if in.ParticipantID == "" {
			in.ParticipantID = d.ParticipantID
		}
		if _, err = sc.Chat.Join(ctx, d, sub, in.SessionID, in.ParticipantID); err == nil {
			sub.Deliver(chat.Event{Name: chat.EventJoined, Data: fiber.Map{"session_id": in.SessionID, "status": "joined"}})
		}

	case SocketLeave:
		var in leaveRequest
		if err = decodeEvent(req.Data, &in); err != nil {
			break
		}
		sc.Chat.Leave(sub, in.SessionID)
		sub.Deliver(chat.Event{Name: chat.EventLeft, Data: fiber.Map{"session_id": in.SessionID, "status": "left"}})

	case SocketSend:
		var in sendRequest
		if err = decodeEvent(req.Data, &in); err != nil {
			break
		}
		if in.SenderID == "" {
			in.SenderID = d.ParticipantID
		}
		_, err = sc.Chat.Post(ctx, d, chat.PostInput{
			SessionID:   in.SessionID,
			SenderID:    in.SenderID,
			Content:     in.Content,
			ClientNonce: in.ClientNonce,
		})

	default:
		err = apperrors.InvalidInput("unknown event " + req.Event)
	}

	if err != nil {
		sc.reject(sub, req.Event, err, log)
	}
}

// reject reports a failed event back to the client as an error event.
func (sc *SocketController) reject(sub *chat.ChanSubscriber, event string, err error, log *logrus.Entry) {
	kind := apperrors.KindOf(err)
	if apperrors.HTTPStatus(kind) >= fiber.StatusInternalServerError {
		utils.LogError("socket_"+string(kind), err, map[string]interface{}{"event": event})
	} else {
		log.WithError(err).WithField("event", event).Debug("Socket event rejected")
	}
	sub.Deliver(chat.Event{Name: chat.EventError, Data: fiber.Map{
		"event":  event,
		"detail": apperrors.MessageOf(err),
		"kind":   kind,
	}})
}

func decodeEvent(raw json.RawMessage, dst interface{}) error {
	if err := utils.DecodeStrict(raw, "event data", dst); err != nil {
		return err
	}
	return utils.ValidateStruct(dst)
}
