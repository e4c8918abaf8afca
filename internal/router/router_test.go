package router

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-agent/backend/internal/classifier"
	"github.com/audit-agent/backend/internal/llm"
	"github.com/audit-agent/backend/internal/storage/models"
)

type fakeClassifier struct {
	result classifier.Result
	err    error
}

func (f fakeClassifier) Classify(ctx context.Context, text string) (classifier.Result, error) {
	return f.result, f.err
}

type fakeChat struct {
	replies []string
	err     error
	calls   []llm.ChatRequest
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.CompletionResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return &llm.CompletionResponse{Content: "general answer"}, nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return &llm.CompletionResponse{Content: reply}, nil
}

type fakeTasks struct {
	nextID int64
	err    error
	tasks  []models.EngineerTask
}

func (f *fakeTasks) InsertEngineerTask(ctx context.Context, task *models.EngineerTask) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	task.ID = f.nextID
	f.tasks = append(f.tasks, *task)
	return f.nextID, nil
}

type fakeNotifier struct {
	sent []models.EngineerTask
	err  error
}

func (f *fakeNotifier) NotifyEngineerTask(ctx context.Context, task models.EngineerTask) error {
	f.sent = append(f.sent, task)
	return f.err
}

func newRouter(c IntentClassifier, chat ChatModel, cfg Config) (*Router, *fakeTasks, *fakeNotifier) {
	tasks := &fakeTasks{}
	notifier := &fakeNotifier{}
	return New(c, chat, tasks, notifier, cfg), tasks, notifier
}

func TestConfidentSpecificSkipsLLM(t *testing.T) {
	chat := &fakeChat{}
	r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.ExecuteAudit, Confidence: 0.95}}, chat, Config{})

	d := r.Route(context.Background(), Request{SessionID: "s1", Text: "run audit 3"})

	assert.Empty(t, chat.calls)
	assert.Equal(t, StateDispatch, d.State)
	assert.Equal(t, []State{StateClassify, StateConfidentSpecific, StateDispatch}, d.Path)
	require.NotNil(t, d.Dispatch)
	assert.Equal(t, TargetExecution, d.Dispatch.Target)
	assert.Equal(t, ActionExecuteAudit, d.Dispatch.Action)
	assert.Equal(t, "run audit 3", d.Dispatch.Message)
	assert.Equal(t, "s1", d.Dispatch.SessionID)
	assert.False(t, d.Answered())
	assert.Equal(t, "classifier", d.Source)
}

func TestLowConfidenceAsksLLM(t *testing.T) {
	chat := &fakeChat{replies: []string{"Based on the user message, I classify this as EXECUTE_AUDIT because they want to run it."}}
	r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.ExecuteAudit, Confidence: 0.50}}, chat, Config{})

	d := r.Route(context.Background(), Request{Text: "maybe kick off that thing"})

	require.Len(t, chat.calls, 1)
	assert.Equal(t, classificationSystemPrompt, chat.calls[0].SystemPrompt)
	assert.False(t, chat.calls[0].JSONMode)
	assert.Equal(t, StateDispatch, d.State)
	assert.Equal(t, []State{StateClassify, StateLowConfidence, StateLLMClassify, StateLLMSpecific, StateDispatch}, d.Path)
	require.NotNil(t, d.Dispatch)
	assert.Equal(t, TargetExecution, d.Dispatch.Target)
	assert.Equal(t, "llm", d.Source)
}

func TestLowConfidenceWithoutLabelFallsBackToGeneral(t *testing.T) {
	chat := &fakeChat{replies: []string{"I am not sure what they want.", "Would you like to see available audits?"}}
	r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.ListAudits, Confidence: 0.3}}, chat, Config{})

	d := r.Route(context.Background(), Request{Text: "hmm"})

	require.Len(t, chat.calls, 2)
	assert.Equal(t, generalSystemPrompt, chat.calls[1].SystemPrompt)
	assert.Equal(t, StateLLMGeneralResponse, d.State)
	assert.Contains(t, d.Path, StateLLMGeneral)
	assert.Equal(t, "Would you like to see available audits?", d.Reply)
	assert.Nil(t, d.Dispatch)
	assert.Equal(t, classifier.General, d.Label)
}

func TestGeneralAlwaysUsesLLM(t *testing.T) {
	for _, conf := range []float64{0.1, 0.5, 0.99} {
		t.Run(fmt.Sprint(conf), func(t *testing.T) {
			chat := &fakeChat{replies: []string{"Hello! Want to run an audit?"}}
			r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.General, Confidence: conf}}, chat, Config{})

			d := r.Route(context.Background(), Request{Text: "hello"})

			require.Len(t, chat.calls, 1)
			assert.Equal(t, generalSystemPrompt, chat.calls[0].SystemPrompt)
			assert.Equal(t, []State{StateClassify, StateConfidentGeneral, StateLLMGeneralResponse}, d.Path)
			assert.Nil(t, d.Dispatch)
			assert.Equal(t, "Hello! Want to run an audit?", d.Reply)
		})
	}
}

func TestHistoryIsForwarded(t *testing.T) {
	chat := &fakeChat{}
	r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.General, Confidence: 0.9}}, chat, Config{})

	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	r.Route(context.Background(), Request{Text: "what now", History: history})

	require.Len(t, chat.calls, 1)
	msgs := chat.calls[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, history, msgs[:2])
	assert.Equal(t, models.ChatMessage{Role: models.RoleUser, Content: "what now"}, msgs[2])
}

func TestLLMErrorYieldsApology(t *testing.T) {
	chat := &fakeChat{err: errors.New("connection refused")}
	r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.General, Confidence: 0.9}}, chat, Config{})

	d := r.Route(context.Background(), Request{Text: "hello"})

	assert.Equal(t, ApologyReply, d.Reply)
	assert.Equal(t, StatusError, d.Status)
	assert.NotContains(t, d.Reply, "connection refused")
}

func TestLLMTimeoutIsDistinct(t *testing.T) {
	chat := &fakeChat{err: fmt.Errorf("failed to create completion: %w", context.DeadlineExceeded)}
	r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.ExecuteAudit, Confidence: 0.2}}, chat, Config{})

	d := r.Route(context.Background(), Request{Text: "run something"})

	assert.Equal(t, TimeoutReply, d.Reply)
	assert.Equal(t, StatusTimeout, d.Status)
	assert.Equal(t, StateLLMClassify, d.State)
	assert.Nil(t, d.Dispatch)
}

func TestClassifierErrorDegradesToLLM(t *testing.T) {
	chat := &fakeChat{replies: []string{"list_audits"}}
	r, _, _ := newRouter(fakeClassifier{err: classifier.ErrUnavailable}, chat, Config{})

	d := r.Route(context.Background(), Request{Text: "show me everything"})

	require.Len(t, chat.calls, 1)
	require.NotNil(t, d.Dispatch)
	assert.Equal(t, ActionListAudits, d.Dispatch.Action)
}

func TestEmptyMessage(t *testing.T) {
	chat := &fakeChat{}
	r, _, _ := newRouter(fakeClassifier{}, chat, Config{})

	d := r.Route(context.Background(), Request{Text: "   "})

	assert.Equal(t, emptyMessageReply, d.Reply)
	assert.Equal(t, StatusEmpty, d.Status)
	assert.Empty(t, chat.calls)
}

func TestEngineerCreatesWorkItemThenNotifies(t *testing.T) {
	r, tasks, notifier := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.EngineerAudit, Confidence: 0.9}}, &fakeChat{}, Config{})

	d := r.Route(context.Background(), Request{SessionID: "0f8e1c2a-aaaa-bbbb-cccc-1234567890ab", Text: "create a new audit for ntp"})

	require.Len(t, tasks.tasks, 1)
	task := tasks.tasks[0]
	assert.Equal(t, "0f8e1c2a", task.UserID)
	assert.Equal(t, "create a new audit for ntp", task.RequestDescription)
	assert.Equal(t, models.TaskTypeCreateAudit, task.TaskType)
	assert.Equal(t, models.TaskPending, task.Status)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, int64(1), notifier.sent[0].ID)

	require.NotNil(t, d.Dispatch)
	assert.Equal(t, TargetEngineer, d.Dispatch.Target)
	assert.Equal(t, int64(1), d.Dispatch.TaskID)
	assert.Contains(t, d.Reply, "#1")
	assert.Contains(t, d.Reply, "forwarded to our engineering team")
	assert.Equal(t, StatusOK, d.Status)
}

func TestEngineerInsertFailureDoesNotNotify(t *testing.T) {
	r, tasks, notifier := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.EngineerAudit, Confidence: 0.9}}, &fakeChat{}, Config{})
	tasks.err = errors.New("database is locked")

	d := r.Route(context.Background(), Request{Text: "build an audit for bgp"})

	assert.Empty(t, notifier.sent)
	assert.Equal(t, engineerErrReply, d.Reply)
	assert.Equal(t, StatusError, d.Status)
}

func TestEngineerNotifyFailureStillSucceeds(t *testing.T) {
	r, _, notifier := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.EngineerAudit, Confidence: 0.9}}, &fakeChat{}, Config{})
	notifier.err = errors.New("redis down")

	d := r.Route(context.Background(), Request{Text: "build an audit for bgp"})

	assert.Equal(t, StatusOK, d.Status)
	assert.Contains(t, d.Reply, "#1")
}

func TestThresholdIsConfigurable(t *testing.T) {
	chat := &fakeChat{replies: []string{"GENERAL"}}
	r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.ListAudits, Confidence: 0.85}}, chat, Config{Threshold: 0.9})

	d := r.Route(context.Background(), Request{Text: "list"})
	assert.Equal(t, StateLLMGeneralResponse, d.State)

	r, _, _ = newRouter(fakeClassifier{result: classifier.Result{Label: classifier.ListAudits, Confidence: 0.80}}, &fakeChat{}, Config{})
	d = r.Route(context.Background(), Request{Text: "list"})
	assert.Equal(t, StateDispatch, d.State)
}

func TestDispatchTable(t *testing.T) {
	tests := []struct {
		label  classifier.Label
		target Target
		action string
	}{
		{classifier.ListAudits, TargetRetrieval, ActionListAudits},
		{classifier.AuditRetrievalByCategory, TargetRetrieval, ActionGetAuditsByCategory},
		{classifier.GetAuditHistory, TargetRetrieval, ActionGetAuditHistory},
		{classifier.GetAuditHistoryFiltered, TargetRetrieval, ActionGetAuditHistoryFiltered},
		{classifier.ExecuteAudit, TargetExecution, ActionExecuteAudit},
	}
	for _, tt := range tests {
		t.Run(string(tt.label), func(t *testing.T) {
			r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: tt.label, Confidence: 1}}, &fakeChat{}, Config{})
			d := r.Route(context.Background(), Request{Text: "x"})
			require.NotNil(t, d.Dispatch)
			assert.Equal(t, tt.target, d.Dispatch.Target)
			assert.Equal(t, tt.action, d.Dispatch.Action)
		})
	}
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		response string
		want     classifier.Label
	}{
		{"I classify this as GET_AUDIT_HISTORY_FILTERED because of the date", classifier.GetAuditHistoryFiltered},
		{"get_audit_history", classifier.GetAuditHistory},
		{"This is AUDIT_RETRIEVAL_BY_CATEGORY", classifier.AuditRetrievalByCategory},
		{"ENGINEER_AUDIT", classifier.EngineerAudit},
		{"LIST_AUDITS or EXECUTE_AUDIT", classifier.ListAudits},
		{"just chatting", classifier.General},
		{"", classifier.General},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLabel(tt.response), tt.response)
	}
}

func TestStructuredLabels(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"intent": "get_audit_history"}`}}
	r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.ListAudits, Confidence: 0.4}}, chat, Config{StructuredLabels: true})

	d := r.Route(context.Background(), Request{Text: "what ran before"})

	require.Len(t, chat.calls, 1)
	assert.True(t, chat.calls[0].JSONMode)
	assert.Equal(t, structuredClassificationSystemPrompt, chat.calls[0].SystemPrompt)
	require.NotNil(t, d.Dispatch)
	assert.Equal(t, ActionGetAuditHistory, d.Dispatch.Action)
}

func TestStructuredLabelsFallBackToKeywords(t *testing.T) {
	chat := &fakeChat{replies: []string{"sure: EXECUTE_AUDIT"}}
	r, _, _ := newRouter(fakeClassifier{result: classifier.Result{Label: classifier.ListAudits, Confidence: 0.4}}, chat, Config{StructuredLabels: true})

	d := r.Route(context.Background(), Request{Text: "go"})

	require.NotNil(t, d.Dispatch)
	assert.Equal(t, ActionExecuteAudit, d.Dispatch.Action)
}
