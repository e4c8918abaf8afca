// Package orchestrator turns one chat message into one reply: route it,
// run the target handler, record the turn.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/metrics"
	"github.com/audit-agent/backend/internal/router"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
)

// Handler serves one dispatch target.
type Handler interface {
	Handle(ctx context.Context, d router.Dispatch) (string, error)
}

type Router interface {
	Route(ctx context.Context, req router.Request) router.Decision
}

type RoutingLog interface {
	InsertRoutingRecord(ctx context.Context, rec *models.RoutingRecord) error
}

// Transcript is the per-session history the orchestrator reads and extends.
type Transcript interface {
	History() []models.ChatMessage
	Append(msgs ...models.ChatMessage)
}

type Reply struct {
	MessageID  string  `json:"message_id"`
	Text       string  `json:"response"`
	Label      string  `json:"label"`
	Action     string  `json:"action,omitempty"`
	State      string  `json:"state"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	LatencyMS  int     `json:"latency_ms"`
}

type Orchestrator struct {
	router   Router
	handlers map[router.Target]Handler
	log      RoutingLog
	logger   *zap.Logger
}

func New(r Router, log RoutingLog) *Orchestrator {
	return &Orchestrator{
		router:   r,
		handlers: make(map[router.Target]Handler),
		log:      log,
		logger:   logger.Named("orchestrator"),
	}
}

// Register must be called before the first message is handled.
func (o *Orchestrator) Register(target router.Target, h Handler) {
	o.handlers[target] = h
}

// HandleMessage is called from the session's worker, so turns of one
// session never interleave.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID string, t Transcript, text string) Reply {
	startTime := time.Now()
	text = strings.TrimSpace(text)

	d := o.router.Route(ctx, router.Request{SessionID: sessionID, Text: text, History: t.History()})

	reply := Reply{
		MessageID:  uuid.NewString(),
		Label:      string(d.Label),
		State:      string(d.State),
		Status:     d.Status,
		Confidence: d.Confidence,
	}
	target := "llm"

	switch {
	case d.Answered():
		reply.Text = d.Reply
		if d.Dispatch != nil {
			reply.Action = d.Dispatch.Action
			target = string(d.Dispatch.Target)
		}
	case d.Dispatch != nil:
		reply.Action = d.Dispatch.Action
		target = string(d.Dispatch.Target)
		reply.Text, reply.Status = o.dispatch(ctx, *d.Dispatch)
	default:
		reply.Text = router.ApologyReply
		reply.Status = router.StatusError
	}

	if d.Status != router.StatusEmpty {
		t.Append(
			models.ChatMessage{Role: models.RoleUser, Content: text},
			models.ChatMessage{Role: models.RoleAssistant, Content: reply.Text},
		)
	}

	elapsed := time.Since(startTime)
	reply.LatencyMS = int(elapsed.Milliseconds())
	metrics.MessageDuration.WithLabelValues(target).Observe(elapsed.Seconds())

	o.record(ctx, sessionID, text, reply)
	return reply
}

func (o *Orchestrator) dispatch(ctx context.Context, d router.Dispatch) (string, string) {
	h, ok := o.handlers[d.Target]
	if !ok {
		o.logger.Error("No handler for target", zap.String("target", string(d.Target)))
		return router.ApologyReply, router.StatusError
	}

	text, err := h.Handle(ctx, d)
	if err != nil {
		o.logger.Error("Handler failed",
			zap.String("session_id", d.SessionID),
			zap.String("target", string(d.Target)),
			zap.String("action", d.Action),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return router.TimeoutReply, router.StatusTimeout
		}
		return router.ApologyReply, router.StatusError
	}
	if strings.TrimSpace(text) == "" {
		return router.ApologyReply, router.StatusError
	}
	return text, router.StatusOK
}

func (o *Orchestrator) record(ctx context.Context, sessionID, text string, r Reply) {
	if o.log == nil {
		return
	}
	rec := &models.RoutingRecord{
		ID:         r.MessageID,
		SessionID:  sessionID,
		Message:    text,
		Label:      r.Label,
		Confidence: r.Confidence,
		State:      r.State,
		Action:     r.Action,
		Status:     r.Status,
		LatencyMS:  r.LatencyMS,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.log.InsertRoutingRecord(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("Failed to record routing decision", zap.String("message_id", r.MessageID), zap.Error(err))
	}
}
