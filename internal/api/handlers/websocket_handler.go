package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	runner chatRunner
}

func NewWebSocketHandler(conv Conversation, sessions Sessions, timeout time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		runner: chatRunner{conv: conv, sessions: sessions, timeout: timeout},
	}
}

type wsFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// frameConn is the part of a websocket connection the handler uses. Reads
// and writes happen on different goroutines.
type frameConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
}

// HandleConnection serves one socket. A connection sticks to the session of
// its first reply unless a frame names another one.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	h.serve(c, c.Query("session_id"))
}

// serve reads frames until the peer goes away. The turn in flight shares the
// connection context, so a disconnect cancels its work.
func (h *WebSocketHandler) serve(c frameConn, sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan wsFrame)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			var msg wsFrame
			if err := c.ReadJSON(&msg); err != nil {
				logger.Debug("WebSocket read ended", zap.Error(err))
				return
			}
			select {
			case frames <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range frames {
		if msg.Type != "message" {
			continue
		}
		if msg.SessionID != "" {
			sessionID = msg.SessionID
		}

		logger.Info("Processing WebSocket message", zap.String("session_id", sessionID))

		id, err := h.streamResponse(ctx, c, sessionID, msg.Content)
		if id != "" {
			sessionID = id
		}
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("WebSocket client left mid-turn", zap.String("session_id", sessionID))
				return
			}
			logger.Error("Failed to stream response", zap.String("session_id", sessionID), zap.Error(err))
			h.sendError(c, chatErrorText(err))
		}
	}
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, c frameConn, sessionID, text string) (string, error) {
	if err := h.sendChunk(c, "status", "Processing message..."); err != nil {
		return "", err
	}

	resp, err := h.runner.run(ctx, sessionID, text)
	if err != nil {
		return resp.SessionID, err
	}

	words := splitIntoWords(resp.Text)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return resp.SessionID, err
		}
	}

	return resp.SessionID, h.sendComplete(c, resp)
}

func (h *WebSocketHandler) sendChunk(c frameConn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c frameConn, resp ChatResponse) error {
	msg := map[string]interface{}{
		"type":       "complete",
		"session_id": resp.SessionID,
		"message_id": resp.MessageID,
		"label":      resp.Label,
		"action":     resp.Action,
		"state":      resp.State,
		"status":     resp.Status,
		"confidence": resp.Confidence,
		"latency_ms": resp.LatencyMS,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c frameConn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}

// splitIntoWords splits on spaces and keeps each newline as its own element.
func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := []rune{}

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if len(currentWord) > 0 {
				words = append(words, string(currentWord))
				currentWord = currentWord[:0]
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord = append(currentWord, char)
		}
	}

	if len(currentWord) > 0 {
		words = append(words, string(currentWord))
	}

	return words
}
