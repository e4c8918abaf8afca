// Package router decides, once per message, whether to hand the message to a
// retrieval, execution or engineering handler or to answer it with the LLM.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/classifier"
	"github.com/audit-agent/backend/internal/llm"
	"github.com/audit-agent/backend/internal/metrics"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
	"github.com/audit-agent/backend/pkg/utils"
)

type State string

const (
	StateClassify           State = "CLASSIFY"
	StateConfidentSpecific  State = "CONFIDENT_SPECIFIC"
	StateConfidentGeneral   State = "CONFIDENT_GENERAL"
	StateLowConfidence      State = "LOW_CONFIDENCE"
	StateLLMClassify        State = "LLM_CLASSIFY"
	StateLLMSpecific        State = "LLM_SPECIFIC"
	StateLLMGeneral         State = "LLM_GENERAL"
	StateDispatch           State = "DISPATCH"
	StateLLMGeneralResponse State = "LLM_GENERAL_RESPONSE"
)

type Target string

const (
	TargetRetrieval Target = "retrieval"
	TargetExecution Target = "execution"
	TargetEngineer  Target = "engineer"
)

const (
	ActionListAudits              = "list_audits"
	ActionGetAuditsByCategory     = "get_audits_by_category"
	ActionGetAuditHistory         = "get_audit_history"
	ActionGetAuditHistoryFiltered = "get_audit_history_filtered"
	ActionExecuteAudit            = "execute_audit"
	ActionCreateNewAudit          = "create_new_audit"
)

const (
	StatusOK      = "ok"
	StatusEmpty   = "empty"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

const DefaultThreshold = 0.80

type route struct {
	target Target
	action string
}

var dispatchTable = map[classifier.Label]route{
	classifier.ListAudits:               {TargetRetrieval, ActionListAudits},
	classifier.AuditRetrievalByCategory: {TargetRetrieval, ActionGetAuditsByCategory},
	classifier.GetAuditHistory:          {TargetRetrieval, ActionGetAuditHistory},
	classifier.GetAuditHistoryFiltered:  {TargetRetrieval, ActionGetAuditHistoryFiltered},
	classifier.ExecuteAudit:             {TargetExecution, ActionExecuteAudit},
	classifier.EngineerAudit:            {TargetEngineer, ActionCreateNewAudit},
}

// keywordTable is searched in order; get_audit_history_filtered must come
// before its prefix get_audit_history.
var keywordTable = []struct {
	keyword string
	label   classifier.Label
}{
	{"list_audits", classifier.ListAudits},
	{"audit_retrieval_by_category", classifier.AuditRetrievalByCategory},
	{"get_audit_history_filtered", classifier.GetAuditHistoryFiltered},
	{"get_audit_history", classifier.GetAuditHistory},
	{"execute_audit", classifier.ExecuteAudit},
	{"engineer_audit", classifier.EngineerAudit},
}

type IntentClassifier interface {
	Classify(ctx context.Context, text string) (classifier.Result, error)
}

type ChatModel interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.CompletionResponse, error)
}

type WorkItemStore interface {
	InsertEngineerTask(ctx context.Context, task *models.EngineerTask) (int64, error)
}

type Notifier interface {
	NotifyEngineerTask(ctx context.Context, task models.EngineerTask) error
}

type Request struct {
	SessionID string
	Text      string
	// History holds the earlier turns of the conversation, oldest first.
	History []models.ChatMessage
}

// Dispatch is the task handed to a downstream handler.
type Dispatch struct {
	Label     classifier.Label     `json:"label"`
	Target    Target               `json:"target"`
	Action    string               `json:"action"`
	Message   string               `json:"message"`
	History   []models.ChatMessage `json:"-"`
	SessionID string               `json:"session_id"`
	TaskID    int64                `json:"task_id,omitempty"`
}

// Decision always carries a Dispatch, a Reply, or both. A Reply means the
// message has been fully answered.
type Decision struct {
	State      State            `json:"state"`
	Path       []State          `json:"path"`
	Label      classifier.Label `json:"label"`
	Confidence float64          `json:"confidence"`
	Source     string           `json:"source"`
	Dispatch   *Dispatch        `json:"dispatch,omitempty"`
	Reply      string           `json:"reply,omitempty"`
	Status     string           `json:"status"`
}

func (d Decision) Answered() bool {
	return d.Reply != ""
}

type Config struct {
	Threshold        float64
	StructuredLabels bool
}

type Router struct {
	classifier IntentClassifier
	chat       ChatModel
	tasks      WorkItemStore
	notifier   Notifier
	cfg        Config
	now        func() time.Time
	logger     *zap.Logger
}

func New(c IntentClassifier, chat ChatModel, tasks WorkItemStore, notifier Notifier, cfg Config) *Router {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	return &Router{
		classifier: c,
		chat:       chat,
		tasks:      tasks,
		notifier:   notifier,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.Named("router"),
	}
}

func (r *Router) Route(ctx context.Context, req Request) Decision {
	d := r.route(ctx, req)
	metrics.RoutingDecisions.WithLabelValues(string(d.State), string(d.Label)).Inc()
	r.logger.Info("Message routed",
		zap.String("session_id", req.SessionID),
		zap.String("state", string(d.State)),
		zap.String("label", string(d.Label)),
		zap.Float64("confidence", d.Confidence),
		zap.String("source", d.Source),
		zap.String("status", d.Status),
	)
	return d
}

func (r *Router) route(ctx context.Context, req Request) Decision {
	text := strings.TrimSpace(req.Text)
	d := Decision{State: StateClassify, Path: []State{StateClassify}, Source: "classifier"}
	if text == "" {
		d.Reply = emptyMessageReply
		d.Status = StatusEmpty
		return d
	}
	req.Text = text

	res, err := r.classifier.Classify(ctx, text)
	if err != nil {
		r.logger.Warn("Classifier failed, asking the LLM instead", zap.Error(err))
		res = classifier.Result{}
	}
	d.Label, d.Confidence = res.Label, res.Confidence

	switch {
	case err == nil && res.Label == classifier.General:
		d.to(StateConfidentGeneral)
		return r.generalResponse(ctx, req, d)
	case err == nil && res.Confidence >= r.cfg.Threshold:
		if _, ok := dispatchTable[res.Label]; ok {
			d.to(StateConfidentSpecific)
			return r.dispatch(ctx, req, d)
		}
	}

	d.to(StateLowConfidence)
	d.to(StateLLMClassify)
	d.Source = "llm"

	label, err := r.llmClassify(ctx, req)
	if err != nil {
		return r.failed(d, err)
	}
	d.Label = label

	if _, ok := dispatchTable[label]; ok {
		d.to(StateLLMSpecific)
		return r.dispatch(ctx, req, d)
	}
	d.to(StateLLMGeneral)
	return r.generalResponse(ctx, req, d)
}

func (d *Decision) to(s State) {
	d.State = s
	d.Path = append(d.Path, s)
}

func (r *Router) conversation(req Request) []models.ChatMessage {
	msgs := make([]models.ChatMessage, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	return append(msgs, models.ChatMessage{Role: models.RoleUser, Content: req.Text})
}

func (r *Router) llmClassify(ctx context.Context, req Request) (classifier.Label, error) {
	chatReq := llm.ChatRequest{
		SystemPrompt: classificationSystemPrompt,
		Messages:     r.conversation(req),
		Purpose:      "classify",
		Temperature:  0.1,
	}
	if r.cfg.StructuredLabels {
		chatReq.SystemPrompt = structuredClassificationSystemPrompt
		chatReq.JSONMode = true
	}

	resp, err := r.chat.Chat(ctx, chatReq)
	if err != nil {
		return "", err
	}

	if r.cfg.StructuredLabels {
		if label, ok := parseStructuredLabel(resp.Content); ok {
			return label, nil
		}
	}
	return ParseLabel(resp.Content), nil
}

// ParseLabel finds the first known label keyword in an LLM response. A
// response naming no label is General.
func ParseLabel(response string) classifier.Label {
	lower := strings.ToLower(response)
	for _, k := range keywordTable {
		if strings.Contains(lower, k.keyword) {
			return k.label
		}
	}
	return classifier.General
}

func parseStructuredLabel(content string) (classifier.Label, bool) {
	var out struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return "", false
	}
	label := classifier.Label(strings.ToUpper(strings.TrimSpace(out.Intent)))
	return label, label.Valid()
}

func (r *Router) generalResponse(ctx context.Context, req Request, d Decision) Decision {
	resp, err := r.chat.Chat(ctx, llm.ChatRequest{
		SystemPrompt: generalSystemPrompt,
		Messages:     r.conversation(req),
		Purpose:      "general",
	})
	if err != nil {
		return r.failed(d, err)
	}

	d.to(StateLLMGeneralResponse)
	d.Reply = strings.TrimSpace(resp.Content)
	if d.Reply == "" {
		d.Reply = ApologyReply
	}
	d.Status = StatusOK
	return d
}

func (r *Router) failed(d Decision, err error) Decision {
	r.logger.Error("LLM request failed", zap.String("state", string(d.State)), zap.Error(err))
	if errors.Is(err, context.DeadlineExceeded) {
		d.Reply = TimeoutReply
		d.Status = StatusTimeout
		return d
	}
	d.Reply = ApologyReply
	d.Status = StatusError
	return d
}

func (r *Router) dispatch(ctx context.Context, req Request, d Decision) Decision {
	rt := dispatchTable[d.Label]
	d.to(StateDispatch)
	d.Status = StatusOK
	d.Dispatch = &Dispatch{
		Label:     d.Label,
		Target:    rt.target,
		Action:    rt.action,
		Message:   req.Text,
		History:   req.History,
		SessionID: req.SessionID,
	}
	if rt.target == TargetEngineer {
		return r.createWorkItem(ctx, req, d)
	}
	return d
}

// createWorkItem stores the request before telling the engineer. An insert
// failure is reported to the user and nobody is notified.
func (r *Router) createWorkItem(ctx context.Context, req Request, d Decision) Decision {
	ref := req.SessionID
	if ref == "" {
		ref = uuid.NewString()
	}

	task := models.EngineerTask{
		UserID:             utils.ShortID(ref, 8),
		RequestDescription: req.Text,
		TaskType:           models.TaskTypeCreateAudit,
		Status:             models.TaskPending,
		CreatedAt:          r.now().UTC(),
	}

	id, err := r.tasks.InsertEngineerTask(ctx, &task)
	if err == nil && id <= 0 {
		err = errors.New("store returned no task id")
	}
	if err != nil {
		metrics.EngineerTasks.WithLabelValues("insert_failed").Inc()
		r.logger.Error("Failed to insert engineer task",
			zap.String("user_id", task.UserID),
			zap.Error(err),
		)
		d.Reply = engineerErrReply
		d.Status = StatusError
		return d
	}
	task.ID = id
	d.Dispatch.TaskID = id
	metrics.EngineerTasks.WithLabelValues("created").Inc()

	if r.notifier != nil {
		if err := r.notifier.NotifyEngineerTask(ctx, task); err != nil {
			metrics.EngineerTasks.WithLabelValues("notify_failed").Inc()
			r.logger.Warn("Engineer task stored but notification failed",
				zap.Int64("task_id", id),
				zap.Error(err),
			)
		}
	}

	d.Reply = fmt.Sprintf(engineerOKReply, id)
	return d
}
