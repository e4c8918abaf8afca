package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/orchestrator"
	"github.com/audit-agent/backend/internal/session"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
)

const historyLimit = 50

type Conversation interface {
	HandleMessage(ctx context.Context, sessionID string, t orchestrator.Transcript, text string) orchestrator.Reply
}

type Sessions interface {
	Do(ctx context.Context, id string, fn func(ctx context.Context, s *session.Session) error) (string, error)
	Get(id string) (*session.Session, bool)
}

type RoutingHistory interface {
	GetRoutingHistory(ctx context.Context, sessionID string, limit int) ([]models.RoutingRecord, error)
}

type ChatResponse struct {
	SessionID string `json:"session_id"`
	orchestrator.Reply
}

// chatRunner queues a message on its session and waits for the reply.
type chatRunner struct {
	conv     Conversation
	sessions Sessions
	timeout  time.Duration
}

func (r chatRunner) run(ctx context.Context, sessionID, text string) (ChatResponse, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var reply orchestrator.Reply
	id, err := r.sessions.Do(ctx, sessionID, func(ctx context.Context, s *session.Session) error {
		reply = r.conv.HandleMessage(ctx, s.ID, s, text)
		return nil
	})
	if err != nil {
		return ChatResponse{SessionID: id}, err
	}
	return ChatResponse{SessionID: id, Reply: reply}, nil
}

type ChatHandler struct {
	runner  chatRunner
	history RoutingHistory
}

// NewChatHandler bounds every message, queueing included, by timeout.
// history may be nil.
func NewChatHandler(conv Conversation, sessions Sessions, history RoutingHistory, timeout time.Duration) *ChatHandler {
	return &ChatHandler{
		runner:  chatRunner{conv: conv, sessions: sessions, timeout: timeout},
		history: history,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	resp, err := h.runner.run(c.UserContext(), req.SessionID, req.Message)
	if err != nil {
		logger.Error("Failed to handle chat message",
			zap.String("session_id", resp.SessionID),
			zap.Error(err),
		)
		return c.Status(chatErrorStatus(err)).JSON(fiber.Map{
			"error":      chatErrorText(err),
			"session_id": resp.SessionID,
		})
	}

	return c.JSON(resp)
}

func chatErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrQueueFull):
		return fiber.StatusTooManyRequests
	case errors.Is(err, session.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

func chatErrorText(err error) string {
	switch {
	case errors.Is(err, session.ErrQueueFull):
		return "Too many messages in flight for this session. Please wait for the previous reply."
	case errors.Is(err, session.ErrClosed):
		return "Server is shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	}
	return "Failed to process message"
}

// GetChatHistory returns the live transcript and the stored routing records
// of a session.
func (h *ChatHandler) GetChatHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	messages := []models.ChatMessage{}
	s, live := h.runner.sessions.Get(sessionID)
	if live {
		messages = s.History()
	}

	records := []models.RoutingRecord{}
	if h.history != nil {
		stored, err := h.history.GetRoutingHistory(c.UserContext(), sessionID, c.QueryInt("limit", historyLimit))
		if err != nil {
			logger.Error("Failed to load routing history", zap.String("session_id", sessionID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load history",
			})
		}
		if stored != nil {
			records = stored
		}
	}

	if !live && len(records) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"active":     live,
		"history":    messages,
		"decisions":  records,
	})
}
