package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
	"github.com/camrenhall/luceron-ai-communications-agent/pkg/monitoring"
)

// 批处理任务的固定指令
const reminderTaskPrompt = `Execute the complete reminder workflow:
1. Check for all cases requiring document reminders
2. Process each case individually with personalized communication
3. Ensure all identified cases receive appropriate reminder emails
4. Provide summary of actions taken`

// ChatRequest 聊天入口请求
type ChatRequest struct {
	Message        string `json:"message"`
	CaseID         string `json:"case_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	DryRun         bool   `json:"dry_run,omitempty"`
}

// ChatAccepted 聊天请求受理结果
type ChatAccepted struct {
	WorkflowID string
	Duplicate  bool
	Events     <-chan *domain.StreamEvent
}

// ProcessRemindersResponse 批处理结果
type ProcessRemindersResponse struct {
	Status         string `json:"status"`
	CasesProcessed int    `json:"cases_processed"`
	Summary        string `json:"summary"`
}

// ExecutorFactory 按dry-run与否构造Agent执行器
type ExecutorFactory func(dryRun bool) *biz.AgentExecutor

// IdempotencyChecker 聊天请求去重
type IdempotencyChecker interface {
	CheckOrCreate(ctx context.Context, idempotencyKey, workflowID string) (bool, string, error)
	Delete(ctx context.Context, idempotencyKey string) error
}

var _ IdempotencyChecker = (*biz.IdempotencyService)(nil)

// CommunicationsService 通信Agent的应用服务：
// 受理聊天请求、驱动工作流执行、桥接流式输出与状态持久化。
type CommunicationsService struct {
	workflows     biz.WorkflowRepo
	conversations biz.ConversationRepo
	stateManager  *biz.AgentStateManager
	tokenManager  *biz.TokenManager
	coordinator   *biz.StreamingCoordinator
	idempotency   IdempotencyChecker
	newExecutor   ExecutorFactory
	modelName     string
	logger        log.Logger
	log           *log.Helper

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewCommunicationsService 创建应用服务
func NewCommunicationsService(
	workflows biz.WorkflowRepo,
	conversations biz.ConversationRepo,
	stateManager *biz.AgentStateManager,
	tokenManager *biz.TokenManager,
	coordinator *biz.StreamingCoordinator,
	idempotency IdempotencyChecker,
	newExecutor ExecutorFactory,
	modelName string,
	logger log.Logger,
) *CommunicationsService {
	return &CommunicationsService{
		workflows:     workflows,
		conversations: conversations,
		stateManager:  stateManager,
		tokenManager:  tokenManager,
		coordinator:   coordinator,
		idempotency:   idempotency,
		newExecutor:   newExecutor,
		modelName:     modelName,
		logger:        logger,
		log:           log.NewHelper(logger),
		running:       make(map[string]context.CancelFunc),
	}
}

// StartChatWorkflow 受理一次聊天请求：
// 幂等去重、创建工作流与事件流，并在后台启动Agent执行。
// 返回的事件通道在工作流终止后关闭。
func (s *CommunicationsService) StartChatWorkflow(ctx context.Context, req *ChatRequest) (*ChatAccepted, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("message is required")
	}

	workflowID, err := s.workflows.CreateWorkflow(ctx, &domain.WorkflowState{
		AgentType:     domain.AgentTypeCommunications,
		CaseID:        req.CaseID,
		Status:        domain.WorkflowStatusPending,
		InitialPrompt: req.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	idempotencyKey := biz.GenerateIdempotencyKey(req.ConversationID, req.CaseID, req.Message)
	isNew, existingID, err := s.idempotency.CheckOrCreate(ctx, idempotencyKey, workflowID)
	if err != nil {
		s.log.WithContext(ctx).Warnf("idempotency check degraded: %v", err)
	} else if !isNew {
		s.log.WithContext(ctx).Infof("duplicate chat request, reusing workflow %s", existingID)
		// 本次新建的记录随即作废，不能在后端留下悬空的PENDING工作流
		if err := s.workflows.UpdateWorkflowStatus(ctx, workflowID, domain.WorkflowStatusFailed); err != nil {
			s.log.WithContext(ctx).Warnf("failed to discard superseded workflow %s: %v", workflowID, err)
		}
		return &ChatAccepted{WorkflowID: existingID, Duplicate: true}, nil
	}

	events, err := s.coordinator.CreateStream(ctx, workflowID, req.Message, domain.AgentTypeCommunications)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	// Agent执行与请求生命周期解耦，客户端断开不中断工作流；
	// 执行上下文单独可取消，供AbortWorkflow在宽限期后强制终止。
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.trackExecution(workflowID, cancel)
	go s.executeChat(execCtx, workflowID, idempotencyKey, req)

	return &ChatAccepted{WorkflowID: workflowID, Events: events}, nil
}

func (s *CommunicationsService) executeChat(ctx context.Context, workflowID, idempotencyKey string, req *ChatRequest) {
	defer s.finishExecution(workflowID)
	started := time.Now()

	if err := s.workflows.UpdateWorkflowStatus(ctx, workflowID, domain.WorkflowStatusProcessing); err != nil {
		s.log.WithContext(ctx).Warnf("failed to mark workflow %s processing: %v", workflowID, err)
	}

	conversationID, caseContext, err := s.stateManager.StartAgentSession(ctx, req.Message, req.CaseID, req.ConversationID)
	if err != nil {
		s.failWorkflow(ctx, workflowID, idempotencyKey, err, "")
		return
	}

	if optimization := s.stateManager.ManageConversationLength(ctx, conversationID); optimization.SummaryCreated {
		s.log.WithContext(ctx).Infof("conversation %s summarized: %d messages, ~%d tokens saved",
			conversationID, optimization.MessagesSummarized, optimization.TokensSaved)
	}

	agentContext := s.stateManager.PrepareAgentContext(ctx, conversationID, caseContext)
	history := buildHistory(agentContext)

	workflowBridge := biz.NewWorkflowBridge(s.coordinator, s.workflows, workflowID, true, s.logger)
	conversationBridge := biz.NewConversationBridge(s.coordinator, s.conversations, workflowID, conversationID, s.modelName, s.logger)
	callbacks := newFanoutCallbacks(workflowBridge, conversationBridge)

	executor := s.newExecutor(req.DryRun)

	finalResponse, err := executor.Execute(ctx, req.Message, history, callbacks)
	if err != nil {
		partial := ""
		s.failWorkflow(ctx, workflowID, idempotencyKey, err, partial)
		return
	}

	if err := callbacks.StoreFinalResponse(ctx, finalResponse); err != nil {
		s.log.WithContext(ctx).Warnf("failed to store final response for workflow %s: %v", workflowID, err)
	}
	s.stateManager.StoreInteractionResults(ctx, req.CaseID, finalResponse)

	if err := s.workflows.UpdateWorkflowStatus(ctx, workflowID, domain.WorkflowStatusCompleted); err != nil {
		s.log.WithContext(ctx).Warnf("failed to mark workflow %s completed: %v", workflowID, err)
	}

	s.coordinator.CompleteWorkflow(workflowID, finalResponse, time.Since(started).Milliseconds())
	s.log.WithContext(ctx).Infof("workflow %s completed in %s", workflowID, time.Since(started).Round(time.Millisecond))
}

// failWorkflow 统一的失败路径：状态置FAILED、发错误事件、释放幂等键。
// 执行上下文可能已被Abort取消，收尾动作用不可取消的上下文完成。
func (s *CommunicationsService) failWorkflow(ctx context.Context, workflowID, idempotencyKey string, cause error, partialResponse string) {
	ctx = context.WithoutCancel(ctx)
	s.log.WithContext(ctx).Errorf("workflow %s failed: %v", workflowID, cause)

	if err := s.workflows.UpdateWorkflowStatus(ctx, workflowID, domain.WorkflowStatusFailed); err != nil {
		s.log.WithContext(ctx).Warnf("failed to mark workflow %s failed: %v", workflowID, err)
	}

	message, errorType, suggestion := biz.ClassifyAgentError(cause)
	s.coordinator.ErrorWorkflow(workflowID, message, errorType, suggestion, partialResponse)

	// 失败的请求允许立即重试
	if idempotencyKey != "" {
		_ = s.idempotency.Delete(ctx, idempotencyKey)
	}
}

// AbortWorkflow 客户端断开且宽限期已过时强制终止工作流：
// 记录置FAILED、发终止事件、取消执行上下文让在途的模型/后端调用立即中断。
// 工作流已经结束时是无操作。
func (s *CommunicationsService) AbortWorkflow(ctx context.Context, workflowID, reason string) {
	cancel := s.takeExecution(workflowID)
	if cancel == nil {
		return
	}
	s.log.WithContext(ctx).Warnf("aborting workflow %s: %s", workflowID, reason)

	if err := s.workflows.UpdateWorkflowStatus(ctx, workflowID, domain.WorkflowStatusFailed); err != nil {
		s.log.WithContext(ctx).Warnf("failed to mark workflow %s failed: %v", workflowID, err)
	}
	s.coordinator.ErrorWorkflow(workflowID, reason, "ClientDisconnected", "Reconnect and retry the request.", "")
	cancel()
}

func (s *CommunicationsService) trackExecution(workflowID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[workflowID] = cancel
	s.mu.Unlock()
}

// takeExecution 取出并移除工作流的取消函数；不存在返回nil
func (s *CommunicationsService) takeExecution(workflowID string) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel := s.running[workflowID]
	delete(s.running, workflowID)
	return cancel
}

func (s *CommunicationsService) finishExecution(workflowID string) {
	if cancel := s.takeExecution(workflowID); cancel != nil {
		cancel()
	}
}

// ProcessReminders 同步执行批量催办：拉取待提醒案件并逐一发送个性化邮件
func (s *CommunicationsService) ProcessReminders(ctx context.Context, dryRun bool) (*ProcessRemindersResponse, error) {
	started := time.Now()
	s.log.WithContext(ctx).Infof("starting reminder processing (dry_run=%t)", dryRun)

	executor := s.newExecutor(dryRun)
	summary, err := executor.Execute(ctx, reminderTaskPrompt, nil, noopCallbacks{})
	if err != nil {
		monitoring.WorkflowsTotal.WithLabelValues(string(domain.AgentTypeCommunications), "failed").Inc()
		return nil, fmt.Errorf("reminder processing failed: %w", err)
	}

	monitoring.WorkflowsTotal.WithLabelValues(string(domain.AgentTypeCommunications), "completed").Inc()
	s.log.WithContext(ctx).Infof("reminder processing completed in %s", time.Since(started).Round(time.Millisecond))

	return &ProcessRemindersResponse{
		Status:  "completed",
		Summary: summary,
	}, nil
}

// ConversationMetrics 对话健康度与Token估算
func (s *CommunicationsService) ConversationMetrics(ctx context.Context, conversationID string) *biz.ConversationMetrics {
	return s.stateManager.GetConversationMetrics(ctx, conversationID)
}

// buildHistory 把准备好的上下文转换为模型会话历史：
// 摘要与案件要点并入一条引导消息，近期消息按原角色展开。
func buildHistory(agentContext *biz.AgentContext) []biz.LLMMessage {
	if agentContext == nil {
		return nil
	}

	var history []biz.LLMMessage

	if agentContext.ConversationSummary != nil && agentContext.ConversationSummary.Content != "" {
		history = append(history,
			biz.LLMMessage{Role: "user", Text: "Summary of the earlier conversation: " + agentContext.ConversationSummary.Content},
			biz.LLMMessage{Role: "assistant", Text: "Understood, I have the earlier context."},
		)
	}

	for _, msg := range agentContext.RecentConversation {
		text := msg.Content.Text()
		if text == "" {
			continue
		}
		switch msg.Role {
		case domain.RoleUser:
			history = append(history, biz.LLMMessage{Role: "user", Text: text})
		case domain.RoleAssistant:
			history = append(history, biz.LLMMessage{Role: "assistant", Text: text})
		}
	}

	return history
}

// fanoutCallbacks 把执行回调同时分发给工作流桥与对话桥
type fanoutCallbacks struct {
	targets []biz.AgentCallbacks
}

func newFanoutCallbacks(targets ...biz.AgentCallbacks) *fanoutCallbacks {
	return &fanoutCallbacks{targets: targets}
}

func (f *fanoutCallbacks) OnLLMStart(ctx context.Context) {
	for _, t := range f.targets {
		t.OnLLMStart(ctx)
	}
}

func (f *fanoutCallbacks) OnLLMEnd(ctx context.Context, responseText string, inputTokens, outputTokens int) {
	for _, t := range f.targets {
		t.OnLLMEnd(ctx, responseText, inputTokens, outputTokens)
	}
}

func (f *fanoutCallbacks) OnAgentAction(ctx context.Context, thought, tool string, toolInput map[string]any) {
	for _, t := range f.targets {
		t.OnAgentAction(ctx, thought, tool, toolInput)
	}
}

func (f *fanoutCallbacks) OnToolStart(ctx context.Context, tool string, toolInput map[string]any) {
	for _, t := range f.targets {
		t.OnToolStart(ctx, tool, toolInput)
	}
}

func (f *fanoutCallbacks) OnToolEnd(ctx context.Context, output string) {
	for _, t := range f.targets {
		t.OnToolEnd(ctx, output)
	}
}

func (f *fanoutCallbacks) OnToolError(ctx context.Context, err error) {
	for _, t := range f.targets {
		t.OnToolError(ctx, err)
	}
}

func (f *fanoutCallbacks) StoreFinalResponse(ctx context.Context, finalResponse string) error {
	var firstErr error
	for _, t := range f.targets {
		if err := t.StoreFinalResponse(ctx, finalResponse); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// noopCallbacks 批处理路径不需要流式输出
type noopCallbacks struct{}

func (noopCallbacks) OnLLMStart(context.Context)                                    {}
func (noopCallbacks) OnLLMEnd(context.Context, string, int, int)                    {}
func (noopCallbacks) OnAgentAction(context.Context, string, string, map[string]any) {}
func (noopCallbacks) OnToolStart(context.Context, string, map[string]any)           {}
func (noopCallbacks) OnToolEnd(context.Context, string)                             {}
func (noopCallbacks) OnToolError(context.Context, error)                            {}
func (noopCallbacks) StoreFinalResponse(context.Context, string) error              { return nil }

var (
	_ biz.AgentCallbacks = (*fanoutCallbacks)(nil)
	_ biz.AgentCallbacks = noopCallbacks{}
)
