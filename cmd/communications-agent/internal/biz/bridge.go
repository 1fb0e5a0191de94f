package biz

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
	"github.com/camrenhall/luceron-ai-communications-agent/pkg/monitoring"
)

const (
	streamOutputTruncate  = 500
	persistOutputTruncate = 200
	thinkingTruncate      = 200
)

// AgentCallbacks Agent执行循环在生命周期关键点回调的接口。
// 工具结束回调不携带工具名，配对只能依赖启动顺序。
type AgentCallbacks interface {
	OnLLMStart(ctx context.Context)
	OnLLMEnd(ctx context.Context, responseText string, inputTokens, outputTokens int)
	OnAgentAction(ctx context.Context, thought, tool string, toolInput map[string]any)
	OnToolStart(ctx context.Context, tool string, toolInput map[string]any)
	OnToolEnd(ctx context.Context, output string)
	OnToolError(ctx context.Context, err error)
	StoreFinalResponse(ctx context.Context, finalResponse string) error
}

// toolTracker 工具启动时间表。结束回调没有调用ID，只能取最近启动的
// 工具作为配对，同名并发或交错使用时可能错配，这是已知局限。
type toolTracker struct {
	mu     sync.Mutex
	starts map[string]time.Time
}

func newToolTracker() *toolTracker {
	return &toolTracker{starts: make(map[string]time.Time)}
}

func (t *toolTracker) begin(tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts[tool] = time.Now()
}

// resolveLatest 弹出启动时间最晚的工具并返回其耗时
func (t *toolTracker) resolveLatest() (string, time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var latestTool string
	var latestStart time.Time
	for tool, start := range t.starts {
		if start.After(latestStart) {
			latestTool = tool
			latestStart = start
		}
	}
	if latestTool == "" {
		return "", 0, false
	}
	delete(t.starts, latestTool)
	return latestTool, time.Since(latestStart), true
}

// WorkflowBridge 面向工作流的回调桥：把Agent生命周期事件转成流式事件，
// 并向后端追加一条扁平的推理轨迹。
type WorkflowBridge struct {
	coordinator *StreamingCoordinator
	workflows   WorkflowRepo
	workflowID  string
	persist     bool
	tracker     *toolTracker

	mu            sync.Mutex
	inputTokens   int
	outputTokens  int
	finalResponse string

	log *log.Helper
}

// NewWorkflowBridge 创建工作流回调桥；persist为false时只发流不落审计记录
func NewWorkflowBridge(coordinator *StreamingCoordinator, workflows WorkflowRepo, workflowID string, persist bool, logger log.Logger) *WorkflowBridge {
	return &WorkflowBridge{
		coordinator: coordinator,
		workflows:   workflows,
		workflowID:  workflowID,
		persist:     persist,
		tracker:     newToolTracker(),
		log:         log.NewHelper(logger),
	}
}

func (b *WorkflowBridge) OnLLMStart(ctx context.Context) {
	b.coordinator.EmitEvent(b.workflowID, domain.NewAgentThinkingEvent(
		b.workflowID, "Agent is analyzing the request and planning actions...", "analysis"))
}

func (b *WorkflowBridge) OnLLMEnd(ctx context.Context, responseText string, inputTokens, outputTokens int) {
	b.mu.Lock()
	b.inputTokens += inputTokens
	b.outputTokens += outputTokens
	b.mu.Unlock()

	if responseText != "" {
		b.coordinator.EmitEvent(b.workflowID, domain.NewAgentThinkingEvent(
			b.workflowID, truncate(responseText, thinkingTruncate), "execution"))
	}
}

func (b *WorkflowBridge) OnAgentAction(ctx context.Context, thought, tool string, toolInput map[string]any) {
	stepNumber := b.coordinator.NextStepNumber(b.workflowID)
	stepID := uuid.NewString()

	b.coordinator.EmitEvent(b.workflowID, domain.NewReasoningStepEvent(
		b.workflowID, stepID, thought, tool, toolInput, stepNumber))

	b.persistStep(ctx, &domain.ReasoningStep{
		Timestamp:   time.Now(),
		Thought:     truncate(thought, persistOutputTruncate),
		Action:      tool,
		ActionInput: toolInput,
	})
}

func (b *WorkflowBridge) OnToolStart(ctx context.Context, tool string, toolInput map[string]any) {
	b.tracker.begin(tool)
	b.coordinator.RecordToolUse(b.workflowID, tool)

	b.coordinator.EmitEvent(b.workflowID, domain.NewToolStartEvent(
		b.workflowID, tool, toolInput, "Executing "+tool))

	b.persistStep(ctx, &domain.ReasoningStep{
		Timestamp:   time.Now(),
		Thought:     "Executing " + tool,
		Action:      tool,
		ActionInput: toolInput,
	})
}

func (b *WorkflowBridge) OnToolEnd(ctx context.Context, output string) {
	tool, elapsed, ok := b.tracker.resolveLatest()
	if !ok {
		b.log.WithContext(ctx).Warn("tool end without matching start")
		return
	}
	elapsedMS := elapsed.Milliseconds()
	monitoring.ToolExecutionDuration.WithLabelValues(tool).Observe(elapsed.Seconds())

	b.coordinator.EmitEvent(b.workflowID, domain.NewToolEndEvent(
		b.workflowID, tool, truncate(output, streamOutputTruncate), true, "", elapsedMS))

	b.persistStep(ctx, &domain.ReasoningStep{
		Timestamp:    time.Now(),
		Thought:      "Completed " + tool,
		Action:       tool,
		ActionOutput: truncate(output, persistOutputTruncate),
	})
}

func (b *WorkflowBridge) OnToolError(ctx context.Context, err error) {
	tool, elapsed, ok := b.tracker.resolveLatest()
	if !ok {
		b.log.WithContext(ctx).Warnf("tool error without matching start: %v", err)
		return
	}

	b.coordinator.EmitEvent(b.workflowID, domain.NewToolEndEvent(
		b.workflowID, tool, "", false, err.Error(), elapsed.Milliseconds()))
	b.log.WithContext(ctx).Warnf("tool %s failed after %s: %v", tool, elapsed, err)
}

// StoreFinalResponse 把用户可见的最终应答写入工作流记录，只调用一次
func (b *WorkflowBridge) StoreFinalResponse(ctx context.Context, finalResponse string) error {
	b.mu.Lock()
	b.finalResponse = finalResponse
	b.mu.Unlock()

	if b.workflows == nil {
		return nil
	}
	return b.workflows.UpdateWorkflowResponse(ctx, b.workflowID, finalResponse)
}

// TokenUsage 返回本次执行累计的模型Token用量
func (b *WorkflowBridge) TokenUsage() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputTokens, b.outputTokens
}

func (b *WorkflowBridge) persistStep(ctx context.Context, step *domain.ReasoningStep) {
	if !b.persist || b.workflows == nil {
		return
	}
	if err := b.workflows.AddReasoningStep(ctx, b.workflowID, step); err != nil {
		// 持久化与流式是相互独立的尽力而为通道
		b.log.WithContext(ctx).Warnf("failed to persist reasoning step: %v", err)
	}
}

// ConversationBridge 面向对话的回调桥：在流式事件之外，把函数调用三元组
// 作为消息写进对话历史，供AgentStateManager后续组装上下文。
type ConversationBridge struct {
	coordinator    *StreamingCoordinator
	conversations  ConversationRepo
	workflowID     string
	conversationID string
	modelName      string
	tracker        *toolTracker

	mu           sync.Mutex
	inputTokens  int
	outputTokens int
	lastTool     string
	lastInput    map[string]any

	log *log.Helper
}

// NewConversationBridge 创建对话回调桥
func NewConversationBridge(coordinator *StreamingCoordinator, conversations ConversationRepo, workflowID, conversationID, modelName string, logger log.Logger) *ConversationBridge {
	return &ConversationBridge{
		coordinator:    coordinator,
		conversations:  conversations,
		workflowID:     workflowID,
		conversationID: conversationID,
		modelName:      modelName,
		tracker:        newToolTracker(),
		log:            log.NewHelper(logger),
	}
}

func (b *ConversationBridge) OnLLMStart(ctx context.Context) {
	b.coordinator.EmitEvent(b.workflowID, domain.NewAgentThinkingEvent(
		b.workflowID, "Agent is analyzing the request and planning actions...", "analysis"))
}

func (b *ConversationBridge) OnLLMEnd(ctx context.Context, responseText string, inputTokens, outputTokens int) {
	b.mu.Lock()
	b.inputTokens += inputTokens
	b.outputTokens += outputTokens
	b.mu.Unlock()

	if responseText != "" {
		b.coordinator.EmitEvent(b.workflowID, domain.NewAgentThinkingEvent(
			b.workflowID, truncate(responseText, thinkingTruncate), "execution"))
	}
}

func (b *ConversationBridge) OnAgentAction(ctx context.Context, thought, tool string, toolInput map[string]any) {
	stepNumber := b.coordinator.NextStepNumber(b.workflowID)
	stepID := uuid.NewString()

	b.coordinator.EmitEvent(b.workflowID, domain.NewReasoningStepEvent(
		b.workflowID, stepID, thought, tool, toolInput, stepNumber))

	b.addMessage(ctx, &domain.Message{
		ConversationID: b.conversationID,
		Role:           domain.RoleAssistant,
		Content: domain.MessageContent{
			"text":           truncate(thought, persistOutputTruncate),
			"message_type":   "reasoning",
			"planned_action": tool,
			"stage":          "planning",
		},
		ModelUsed: b.modelName,
		CreatedAt: time.Now(),
	})
}

func (b *ConversationBridge) OnToolStart(ctx context.Context, tool string, toolInput map[string]any) {
	b.tracker.begin(tool)
	b.coordinator.RecordToolUse(b.workflowID, tool)

	b.mu.Lock()
	b.lastTool = tool
	b.lastInput = toolInput
	b.mu.Unlock()

	b.coordinator.EmitEvent(b.workflowID, domain.NewToolStartEvent(
		b.workflowID, tool, toolInput, "Executing "+tool))
}

func (b *ConversationBridge) OnToolEnd(ctx context.Context, output string) {
	tool, elapsed, ok := b.tracker.resolveLatest()
	if !ok {
		b.log.WithContext(ctx).Warn("tool end without matching start")
		return
	}
	elapsedMS := elapsed.Milliseconds()
	monitoring.ToolExecutionDuration.WithLabelValues(tool).Observe(elapsed.Seconds())

	b.coordinator.EmitEvent(b.workflowID, domain.NewToolEndEvent(
		b.workflowID, tool, truncate(output, streamOutputTruncate), true, "", elapsedMS))

	b.mu.Lock()
	input := b.lastInput
	b.mu.Unlock()

	b.addMessage(ctx, &domain.Message{
		ConversationID: b.conversationID,
		Role:           domain.RoleFunction,
		Content: domain.MessageContent{
			"text":              truncate(output, persistOutputTruncate),
			"message_type":      "function_result",
			"execution_time_ms": elapsedMS,
			"success":           true,
		},
		FunctionName:      tool,
		FunctionArguments: input,
		FunctionResponse:  map[string]any{"output": truncate(output, persistOutputTruncate)},
		CreatedAt:         time.Now(),
	})
}

func (b *ConversationBridge) OnToolError(ctx context.Context, err error) {
	tool, elapsed, ok := b.tracker.resolveLatest()
	if !ok {
		b.log.WithContext(ctx).Warnf("tool error without matching start: %v", err)
		return
	}

	b.coordinator.EmitEvent(b.workflowID, domain.NewToolEndEvent(
		b.workflowID, tool, "", false, err.Error(), elapsed.Milliseconds()))

	b.mu.Lock()
	input := b.lastInput
	b.mu.Unlock()

	b.addMessage(ctx, &domain.Message{
		ConversationID: b.conversationID,
		Role:           domain.RoleFunction,
		Content: domain.MessageContent{
			"message_type":  "function_result",
			"success":       false,
			"error_message": err.Error(),
		},
		FunctionName:      tool,
		FunctionArguments: input,
		CreatedAt:         time.Now(),
	})
}

// StoreFinalResponse 把最终应答作为assistant消息写入对话，携带累计Token用量。
// LLM结束回调只发流不落库，避免重复持久化。
func (b *ConversationBridge) StoreFinalResponse(ctx context.Context, finalResponse string) error {
	b.mu.Lock()
	totalTokens := b.inputTokens + b.outputTokens
	b.mu.Unlock()

	_, err := b.conversations.AddMessage(ctx, &domain.Message{
		ConversationID: b.conversationID,
		Role:           domain.RoleAssistant,
		Content: domain.MessageContent{
			"text":         finalResponse,
			"message_type": "final_response",
		},
		TotalTokens: totalTokens,
		ModelUsed:   b.modelName,
		CreatedAt:   time.Now(),
	})
	return err
}

// TokenUsage 返回本次执行累计的模型Token用量
func (b *ConversationBridge) TokenUsage() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputTokens, b.outputTokens
}

func (b *ConversationBridge) addMessage(ctx context.Context, msg *domain.Message) {
	if _, err := b.conversations.AddMessage(ctx, msg); err != nil {
		b.log.WithContext(ctx).Warnf("failed to persist %s message: %v", msg.Role, err)
	}
}

var (
	_ AgentCallbacks = (*WorkflowBridge)(nil)
	_ AgentCallbacks = (*ConversationBridge)(nil)
)
