package controller

import (
	"time"

	"afroboost/apperrors"
	"afroboost/chat"
	"afroboost/identity"
	"afroboost/middleware"
	"afroboost/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const identityCookieTTL = 30 * 24 * time.Hour

type ChatController struct {
	Chat         *chat.Service
	Identity     *identity.Resolver
	JWTSecret    string
	SecureCookie bool
	Logger       *logrus.Entry
}

func NewChatController(chatService *chat.Service, resolver *identity.Resolver, jwtSecret string, secureCookie bool, logger *logrus.Entry) *ChatController {
	return &ChatController{
		Chat:         chatService,
		Identity:     resolver,
		JWTSecret:    jwtSecret,
		SecureCookie: secureCookie,
		Logger:       logger,
	}
}

// SmartEntry resolves the visitor into a participant and hands back a signed
// identity cookie for later requests.
func (cc *ChatController) SmartEntry(c *fiber.Ctx) error {
	var input identity.Input
	if err := utils.ParseStrict(c, &input); err != nil {
		return err
	}

	result, err := cc.Identity.ResolveOrCreate(c.UserContext(), input)
	if err != nil {
		return err
	}

	if cc.JWTSecret != "" {
		token, err := utils.GenerateIdentityToken(cc.JWTSecret, utils.IdentityClaims{
			Email:         result.Participant.Email,
			ParticipantID: result.Participant.ID,
			CoachID:       result.Participant.CoachID,
		}, identityCookieTTL)
		if err != nil {
			return apperrors.Internal("failed to sign identity", err)
		}
		c.Cookie(&fiber.Cookie{
			Name:     utils.IdentityCookie,
			Value:    token,
			Path:     "/",
			Expires:  time.Now().Add(identityCookieTTL),
			HTTPOnly: true,
			Secure:   cc.SecureCookie,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	} else {
		cc.Logger.Warn("JWT_SECRET is not set, smart-entry issues no identity cookie")
	}

	return c.JSON(result)
}

func (cc *ChatController) ListSessions(c *fiber.Ctx) error {
	sessions, err := cc.Chat.Sessions(c.UserContext(), middleware.DecisionOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (cc *ChatController) CreatePrivate(c *fiber.Ctx) error {
	var input chat.PrivateInput
	if err := utils.ParseStrict(c, &input); err != nil {
		return err
	}

	session, err := cc.Chat.CreatePrivate(c.UserContext(), middleware.DecisionOf(c), input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (cc *ChatController) History(c *fiber.Ctx) error {
	messages, err := cc.Chat.History(
		c.UserContext(),
		middleware.DecisionOf(c),
		c.Params("id"),
		c.Query("before"),
		c.QueryInt("limit", chat.DefaultHistoryLimit),
	)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"messages": messages})
}

type postMessageRequest struct {
	SenderID    string `json:"sender_id"`
	Content     string `json:"content"`
	ClientNonce string `json:"client_nonce" validate:"omitempty,max=128"`
}

func (cc *ChatController) PostMessage(c *fiber.Ctx) error {
	var req postMessageRequest
	if err := utils.ParseStrict(c, &req); err != nil {
		return err
	}

	d := middleware.DecisionOf(c)
	senderID := req.SenderID
	if senderID == "" {
		senderID = d.ParticipantID
	}

	msg, err := cc.Chat.Post(c.UserContext(), d, chat.PostInput{
		SessionID:   c.Params("id"),
		SenderID:    senderID,
		Content:     req.Content,
		ClientNonce: req.ClientNonce,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (cc *ChatController) PostDirect(c *fiber.Ctx) error {
	var input chat.DirectInput
	if err := utils.ParseStrict(c, &input); err != nil {
		return err
	}

	msg, session, err := cc.Chat.PostDirect(c.UserContext(), middleware.DecisionOf(c), input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": msg,
		"session": session,
	})
}

func (cc *ChatController) Unread(c *fiber.Ctx) error {
	d := middleware.DecisionOf(c)
	participantID := c.Query("participant_id", d.ParticipantID)
	if participantID == "" {
		return apperrors.InvalidInput("participant_id is required")
	}

	counts, err := cc.Chat.Unread(c.UserContext(), d, participantID)
	if err != nil {
		return err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return c.JSON(fiber.Map{
		"participant_id": participantID,
		"unread":         counts,
		"total":          total,
	})
}

type markReadRequest struct {
	ParticipantID string     `json:"participant_id"`
	UpTo          *time.Time `json:"up_to"`
}

func (cc *ChatController) MarkRead(c *fiber.Ctx) error {
	var req markReadRequest
	if err := parseOptional(c, &req); err != nil {
		return err
	}

	d := middleware.DecisionOf(c)
	participantID := req.ParticipantID
	if participantID == "" {
		participantID = d.ParticipantID
	}

	marker, err := cc.Chat.MarkRead(c.UserContext(), d, participantID, c.Params("id"), req.UpTo)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"session_id":     c.Params("id"),
		"participant_id": participantID,
		"last_read_at":   marker,
	})
}
