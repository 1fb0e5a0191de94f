package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/tools"
)

// --- in-memory backend fakes ---

type memoryBackend struct {
	mu             sync.Mutex
	workflows      map[string]domain.WorkflowStatus
	responses      map[string]string
	steps          []*domain.ReasoningStep
	messages       []*domain.Message
	contexts       []*domain.ContextEntry
	cases          []*domain.Case
	sentEmails     []string
	workflowSerial int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		workflows: map[string]domain.WorkflowStatus{},
		responses: map[string]string{},
	}
}

func (m *memoryBackend) CreateWorkflow(ctx context.Context, wf *domain.WorkflowState) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowSerial++
	id := fmt.Sprintf("wf-%d", m.workflowSerial)
	m.workflows[id] = wf.Status
	return id, nil
}

func (m *memoryBackend) UpdateWorkflowStatus(ctx context.Context, workflowID string, status domain.WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[workflowID] = status
	return nil
}

func (m *memoryBackend) UpdateWorkflowResponse(ctx context.Context, workflowID string, finalResponse string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[workflowID] = finalResponse
	return nil
}

func (m *memoryBackend) AddReasoningStep(ctx context.Context, workflowID string, step *domain.ReasoningStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	return nil
}

func (m *memoryBackend) GetOrCreateConversation(ctx context.Context, caseID string, agentType domain.AgentType) (string, error) {
	return "conv-1", nil
}

func (m *memoryBackend) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return &domain.Conversation{
		ConversationID: conversationID,
		Status:         domain.ConversationStatusActive,
		AgentType:      domain.AgentTypeCommunications,
	}, nil
}

func (m *memoryBackend) AddMessage(ctx context.Context, msg *domain.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return fmt.Sprintf("msg-%d", len(m.messages)), nil
}

func (m *memoryBackend) GetConversationHistory(ctx context.Context, conversationID string, limit int, includeFunctionCalls bool) ([]*domain.Message, error) {
	return nil, nil
}

func (m *memoryBackend) GetMessageCount(ctx context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages), nil
}

func (m *memoryBackend) CreateAutoSummary(ctx context.Context, conversationID string, messagesToSummarize int) (*domain.Summary, error) {
	return nil, fmt.Errorf("not supported in test")
}

func (m *memoryBackend) GetLatestSummary(ctx context.Context, conversationID string) (*domain.Summary, error) {
	return nil, nil
}

func (m *memoryBackend) GetCaseAgentContext(ctx context.Context, caseID string, agentType domain.AgentType) (map[string]map[string]any, error) {
	return map[string]map[string]any{}, nil
}

func (m *memoryBackend) StoreAgentContext(ctx context.Context, entry *domain.ContextEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts = append(m.contexts, entry)
	return nil
}

func (m *memoryBackend) SearchCasesByName(ctx context.Context, clientName string, status domain.CaseStatus, fuzzyThreshold float64) ([]*domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Case
	for _, c := range m.cases {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryBackend) GetCaseWithDocuments(ctx context.Context, caseID string) (*domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cases {
		if c.CaseID == caseID {
			return c, nil
		}
	}
	return nil, domain.ErrCaseNotFound
}

func (m *memoryBackend) CreateCase(ctx context.Context, c *domain.Case) (*domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := *c
	created.CaseID = fmt.Sprintf("case-%d", len(m.cases)+1)
	m.cases = append(m.cases, &created)
	return &created, nil
}

func (m *memoryBackend) UpdateDocument(ctx context.Context, docID string, update *domain.DocumentUpdate) error {
	return nil
}

func (m *memoryBackend) UpdateCaseLastCommunication(ctx context.Context, caseID string, at time.Time) error {
	return nil
}

func (m *memoryBackend) GetPendingReminderCases(ctx context.Context) ([]*domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cases, nil
}

func (m *memoryBackend) SendEmail(ctx context.Context, caseID, recipient, subject, body, htmlBody string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentEmails = append(m.sentEmails, recipient)
	return "email-1", nil
}

// scriptedLLM 按脚本逐轮应答
type scriptedLLM struct {
	mu    sync.Mutex
	turns []*biz.LLMTurn
	calls int
	err   error
}

func (s *scriptedLLM) CreateMessage(ctx context.Context, system string, messages []biz.LLMMessage, defs []biz.ToolDefinition) (*biz.LLMTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.turns) {
		return &biz.LLMTurn{Text: "done"}, nil
	}
	turn := s.turns[s.calls]
	s.calls++
	return turn, nil
}

// duplicateIdempotency 总是命中已有请求
type duplicateIdempotency struct {
	existingID string
	deleted    []string
}

func (d *duplicateIdempotency) CheckOrCreate(ctx context.Context, idempotencyKey, workflowID string) (bool, string, error) {
	return false, d.existingID, nil
}

func (d *duplicateIdempotency) Delete(ctx context.Context, idempotencyKey string) error {
	d.deleted = append(d.deleted, idempotencyKey)
	return nil
}

// blockingLLM 首次调用后挂起，直到上下文取消
type blockingLLM struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingLLM) CreateMessage(ctx context.Context, system string, messages []biz.LLMMessage, defs []biz.ToolDefinition) (*biz.LLMTurn, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func testTemplates() tools.EmailTemplates {
	return tools.EmailTemplates{
		"initial_reminder": {
			Subject: "Document Request for {client_name}",
			Body:    "Dear {client_name},\n{requested_documents}",
		},
		"follow_up_reminder": {
			Subject: "Reminder for {client_name}",
			Body:    "Dear {client_name},\n{requested_documents}",
		},
		"urgent_reminder": {
			Subject: "URGENT for {client_name}",
			Body:    "Dear {client_name},\n{requested_documents}",
		},
	}
}

func newTestService(t *testing.T, llm biz.LLMClient, backend *memoryBackend) (*CommunicationsService, *biz.StreamingCoordinator) {
	t.Helper()
	return newTestServiceWithIdempotency(t, llm, backend, biz.NewIdempotencyService(nil, 0, log.DefaultLogger))
}

func newTestServiceWithIdempotency(t *testing.T, llm biz.LLMClient, backend *memoryBackend, idempotency IdempotencyChecker) (*CommunicationsService, *biz.StreamingCoordinator) {
	t.Helper()
	logger := log.DefaultLogger

	coordinator := biz.NewStreamingCoordinator(100, time.Second, logger)
	t.Cleanup(coordinator.Stop)

	tokenManager := biz.NewTokenManager(backend, 0, 0, logger)
	stateManager := biz.NewAgentStateManager(backend, backend, tokenManager, domain.AgentTypeCommunications, "test-model", logger)

	factory := func(dryRun bool) *biz.AgentExecutor {
		toolset := tools.NewToolset(tools.Deps{
			Cases:     backend,
			Emails:    backend,
			Resolver:  biz.NewNameResolver(backend, logger),
			Templates: testTemplates(),
			DryRun:    dryRun,
			Logger:    logger,
		})
		return biz.NewAgentExecutor(llm, toolset, "system prompt", 10, logger)
	}

	svc := NewCommunicationsService(backend, backend, stateManager, tokenManager, coordinator,
		idempotency, factory, "test-model", logger)
	return svc, coordinator
}

func drainEvents(t *testing.T, events <-chan *domain.StreamEvent, timeout time.Duration) []*domain.StreamEvent {
	t.Helper()
	var collected []*domain.StreamEvent
	deadline := time.After(timeout)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, event)
		case <-deadline:
			t.Fatalf("timed out draining events, got %d so far", len(collected))
		}
	}
}

func TestStartChatWorkflow_LookupAndSendReminder(t *testing.T) {
	backend := newMemoryBackend()
	backend.cases = []*domain.Case{{
		CaseID:      "case-1",
		ClientName:  "Camren Hall",
		ClientEmail: "camren@example.com",
		Status:      domain.CaseStatusOpen,
		RequestedDocuments: []domain.RequestedDocument{
			{RequestedDocID: "doc-1", DocumentName: "W-2 Form"},
		},
	}}

	llm := &scriptedLLM{turns: []*biz.LLMTurn{
		{
			Text: "I will look up the case for Camren first.",
			ToolCalls: []biz.LLMToolCall{
				{ID: "tu-1", Name: "lookup_case_by_name", Input: map[string]any{"client_name": "Camren"}},
			},
		},
		{
			Text: "Found the case, sending the reminder now.",
			ToolCalls: []biz.LLMToolCall{
				{ID: "tu-2", Name: "compose_and_send_email", Input: map[string]any{"case_id": "case-1", "email_type": "follow_up"}},
			},
		},
		{Text: "Reminder sent to Camren Hall."},
	}}

	svc, _ := newTestService(t, llm, backend)

	accepted, err := svc.StartChatWorkflow(context.Background(), &ChatRequest{
		Message: "send Camren his reminder",
		CaseID:  "case-1",
	})
	require.NoError(t, err)
	require.False(t, accepted.Duplicate)
	require.NotNil(t, accepted.Events)

	events := drainEvents(t, accepted.Events, 5*time.Second)
	require.NotEmpty(t, events)

	assert.Equal(t, string(domain.StreamEventWorkflowStarted), events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, string(domain.StreamEventWorkflowCompleted), last.Type)
	assert.Equal(t, "Reminder sent to Camren Hall.", last.FinalResponse)
	assert.ElementsMatch(t, []string{"lookup_case_by_name", "compose_and_send_email"}, last.ToolsUsed)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, domain.WorkflowStatusCompleted, backend.workflows[accepted.WorkflowID])
	assert.Equal(t, "Reminder sent to Camren Hall.", backend.responses[accepted.WorkflowID])
	assert.Equal(t, []string{"camren@example.com"}, backend.sentEmails)
	assert.NotEmpty(t, backend.steps)

	// 用户消息与最终应答都进入对话历史
	var roles []domain.MessageRole
	for _, msg := range backend.messages {
		roles = append(roles, msg.Role)
	}
	assert.Contains(t, roles, domain.RoleUser)
	assert.Contains(t, roles, domain.RoleAssistant)
}

func TestStartChatWorkflow_LLMFailureMarksWorkflowFailed(t *testing.T) {
	backend := newMemoryBackend()
	llm := &scriptedLLM{err: fmt.Errorf("anthropic: overloaded_error")}

	svc, _ := newTestService(t, llm, backend)

	accepted, err := svc.StartChatWorkflow(context.Background(), &ChatRequest{Message: "hello"})
	require.NoError(t, err)

	events := drainEvents(t, accepted.Events, 5*time.Second)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.Equal(t, string(domain.StreamEventWorkflowError), last.Type)
	assert.Equal(t, "ProviderOverloaded", last.ErrorType)
	assert.NotEmpty(t, last.RecoverySuggestion)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, domain.WorkflowStatusFailed, backend.workflows[accepted.WorkflowID])
}

func TestStartChatWorkflow_DuplicateDiscardsNewWorkflow(t *testing.T) {
	backend := newMemoryBackend()
	llm := &scriptedLLM{}

	svc, _ := newTestServiceWithIdempotency(t, llm, backend, &duplicateIdempotency{existingID: "wf-original"})

	accepted, err := svc.StartChatWorkflow(context.Background(), &ChatRequest{Message: "send the reminder"})
	require.NoError(t, err)

	assert.True(t, accepted.Duplicate)
	assert.Equal(t, "wf-original", accepted.WorkflowID)
	assert.Nil(t, accepted.Events)

	// 去重命中时不启动执行
	assert.Equal(t, 0, llm.calls)

	// 本次新建的记录不能悬在PENDING
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, domain.WorkflowStatusFailed, backend.workflows["wf-1"])
}

func TestAbortWorkflow_CancelsRunningExecution(t *testing.T) {
	backend := newMemoryBackend()
	llm := &blockingLLM{started: make(chan struct{})}

	svc, _ := newTestService(t, llm, backend)

	accepted, err := svc.StartChatWorkflow(context.Background(), &ChatRequest{Message: "long running request"})
	require.NoError(t, err)

	select {
	case <-llm.started:
	case <-time.After(5 * time.Second):
		t.Fatal("model call never started")
	}

	svc.AbortWorkflow(context.Background(), accepted.WorkflowID, "client disconnected during execution")

	events := drainEvents(t, accepted.Events, 5*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, string(domain.StreamEventWorkflowError), last.Type)

	backend.mu.Lock()
	status := backend.workflows[accepted.WorkflowID]
	backend.mu.Unlock()
	assert.Equal(t, domain.WorkflowStatusFailed, status)

	// 重复终止是无操作
	svc.AbortWorkflow(context.Background(), accepted.WorkflowID, "client disconnected during execution")
}

func TestStartChatWorkflow_RequiresMessage(t *testing.T) {
	svc, _ := newTestService(t, &scriptedLLM{}, newMemoryBackend())

	_, err := svc.StartChatWorkflow(context.Background(), &ChatRequest{})
	require.Error(t, err)
}

func TestProcessReminders_DryRun(t *testing.T) {
	backend := newMemoryBackend()
	backend.cases = []*domain.Case{{
		CaseID:      "case-1",
		ClientName:  "Camren Hall",
		ClientEmail: "camren@example.com",
		Status:      domain.CaseStatusOpen,
	}}

	llm := &scriptedLLM{turns: []*biz.LLMTurn{
		{ToolCalls: []biz.LLMToolCall{{ID: "tu-1", Name: "get_pending_reminders", Input: map[string]any{}}}},
		{ToolCalls: []biz.LLMToolCall{{ID: "tu-2", Name: "compose_and_send_email", Input: map[string]any{"case_id": "case-1", "email_type": "follow_up"}}}},
		{Text: "Processed 1 case: reminder queued for Camren Hall."},
	}}

	svc, _ := newTestService(t, llm, backend)

	result, err := svc.ProcessReminders(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Contains(t, result.Summary, "Camren Hall")

	// dry-run不真正发信
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.sentEmails)
}

func TestBuildHistory(t *testing.T) {
	history := buildHistory(&biz.AgentContext{
		ConversationSummary: &biz.SummaryContext{Content: "Client asked about W-2 forms."},
		RecentConversation: []*biz.CompressedMessage{
			{Role: domain.RoleUser, Content: domain.MessageContent{"text": "any update?"}},
			{Role: domain.RoleAssistant, Content: domain.MessageContent{"text": "still waiting on documents"}},
			{Role: domain.RoleFunction, Content: domain.MessageContent{"text": "ignored"}},
		},
	})

	require.Len(t, history, 4)
	assert.Contains(t, history[0].Text, "W-2 forms")
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "any update?", history[2].Text)
	assert.Equal(t, "assistant", history[3].Role)

	assert.Nil(t, buildHistory(nil))
}
