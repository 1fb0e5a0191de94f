package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StreamEventType 流式事件类型
type StreamEventType string

const (
	StreamEventWorkflowStarted   StreamEventType = "workflow_started"
	StreamEventReasoningStep     StreamEventType = "reasoning_step"
	StreamEventToolStart         StreamEventType = "tool_start"
	StreamEventToolEnd           StreamEventType = "tool_end"
	StreamEventAgentThinking     StreamEventType = "agent_thinking"
	StreamEventWorkflowCompleted StreamEventType = "workflow_completed"
	StreamEventWorkflowError     StreamEventType = "workflow_error"
	StreamEventHeartbeat         StreamEventType = "heartbeat"
)

// StreamEvent 推送给前端的流式事件（封闭标签联合，按Type判别）
type StreamEvent struct {
	Type       string    `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	Timestamp  time.Time `json:"timestamp"`

	// workflow_started
	InitialPrompt string `json:"initial_prompt,omitempty"`
	AgentType     string `json:"agent_type,omitempty"`

	// reasoning_step
	StepID      string         `json:"step_id,omitempty"`
	Thought     string         `json:"thought,omitempty"`
	Action      string         `json:"action,omitempty"`
	ActionInput map[string]any `json:"action_input,omitempty"`
	StepNumber  int            `json:"step_number,omitempty"`

	// tool_start / tool_end
	ToolName        string         `json:"tool_name,omitempty"`
	ToolInput       map[string]any `json:"tool_input,omitempty"`
	Description     string         `json:"description,omitempty"`
	ToolOutput      string         `json:"tool_output,omitempty"`
	Success         *bool          `json:"success,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms,omitempty"`

	// agent_thinking
	Thinking      string `json:"thinking,omitempty"`
	PlanningStage string `json:"planning_stage,omitempty"`

	// workflow_completed
	FinalResponse string   `json:"final_response,omitempty"`
	TotalSteps    int      `json:"total_steps,omitempty"`
	ToolsUsed     []string `json:"tools_used,omitempty"`

	// workflow_error
	ErrorMessage       string `json:"error_message,omitempty"`
	ErrorType          string `json:"error_type,omitempty"`
	RecoverySuggestion string `json:"recovery_suggestion,omitempty"`
	PartialResponse    string `json:"partial_response,omitempty"`

	// heartbeat
	Status string `json:"status,omitempty"`
}

// IsTerminal 是否为终止事件
func (e *StreamEvent) IsTerminal() bool {
	return e.Type == string(StreamEventWorkflowCompleted) || e.Type == string(StreamEventWorkflowError)
}

// ToJSON 转换为JSON
func (e *StreamEvent) ToJSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// ToSSE 转换为SSE格式
func (e *StreamEvent) ToSSE() string {
	return fmt.Sprintf("data: %s\n\n", e.ToJSON())
}

func newEvent(eventType StreamEventType, workflowID string) *StreamEvent {
	return &StreamEvent{
		Type:       string(eventType),
		WorkflowID: workflowID,
		Timestamp:  time.Now(),
	}
}

// NewWorkflowStartedEvent 工作流启动事件
func NewWorkflowStartedEvent(workflowID, initialPrompt string, agentType AgentType) *StreamEvent {
	e := newEvent(StreamEventWorkflowStarted, workflowID)
	e.InitialPrompt = initialPrompt
	e.AgentType = string(agentType)
	return e
}

// NewReasoningStepEvent 推理步骤事件
func NewReasoningStepEvent(workflowID, stepID, thought, action string, actionInput map[string]any, stepNumber int) *StreamEvent {
	e := newEvent(StreamEventReasoningStep, workflowID)
	e.StepID = stepID
	e.Thought = thought
	e.Action = action
	e.ActionInput = actionInput
	e.StepNumber = stepNumber
	return e
}

// NewToolStartEvent 工具开始事件
func NewToolStartEvent(workflowID, toolName string, toolInput map[string]any, description string) *StreamEvent {
	e := newEvent(StreamEventToolStart, workflowID)
	e.ToolName = toolName
	e.ToolInput = toolInput
	e.Description = description
	return e
}

// NewToolEndEvent 工具结束事件
func NewToolEndEvent(workflowID, toolName, output string, success bool, errMessage string, executionTimeMS int64) *StreamEvent {
	e := newEvent(StreamEventToolEnd, workflowID)
	e.ToolName = toolName
	e.ToolOutput = output
	e.Success = &success
	e.ErrorMessage = errMessage
	e.ExecutionTimeMS = executionTimeMS
	return e
}

// NewAgentThinkingEvent Agent思考事件
func NewAgentThinkingEvent(workflowID, thinking, planningStage string) *StreamEvent {
	e := newEvent(StreamEventAgentThinking, workflowID)
	e.Thinking = thinking
	e.PlanningStage = planningStage
	return e
}

// NewWorkflowCompletedEvent 工作流完成事件
func NewWorkflowCompletedEvent(workflowID, finalResponse string, totalSteps int, executionTimeMS int64, toolsUsed []string) *StreamEvent {
	e := newEvent(StreamEventWorkflowCompleted, workflowID)
	e.FinalResponse = finalResponse
	e.TotalSteps = totalSteps
	e.ExecutionTimeMS = executionTimeMS
	e.ToolsUsed = toolsUsed
	return e
}

// NewWorkflowErrorEvent 工作流错误事件
func NewWorkflowErrorEvent(workflowID, errorMessage, errorType, recoverySuggestion, partialResponse string) *StreamEvent {
	e := newEvent(StreamEventWorkflowError, workflowID)
	e.ErrorMessage = errorMessage
	e.ErrorType = errorType
	e.RecoverySuggestion = recoverySuggestion
	e.PartialResponse = partialResponse
	return e
}

// NewHeartbeatEvent 心跳事件
func NewHeartbeatEvent(workflowID string) *StreamEvent {
	e := newEvent(StreamEventHeartbeat, workflowID)
	e.Status = "processing"
	return e
}

// StreamingState 单个活跃工作流的流式状态（进程内、不持久化）
type StreamingState struct {
	WorkflowID   string
	IsActive     bool
	StartTime    time.Time
	LastActivity time.Time
	EventCount   int
	StepCounter  int
	ToolsUsed    []string
}

// NewStreamingState 创建流式状态
func NewStreamingState(workflowID string) *StreamingState {
	now := time.Now()
	return &StreamingState{
		WorkflowID:   workflowID,
		IsActive:     true,
		StartTime:    now,
		LastActivity: now,
	}
}

// IncrementStep 递增并返回步骤计数
func (s *StreamingState) IncrementStep() int {
	s.StepCounter++
	s.LastActivity = time.Now()
	return s.StepCounter
}

// AddTool 记录工具使用（去重）
func (s *StreamingState) AddTool(toolName string) {
	for _, name := range s.ToolsUsed {
		if name == toolName {
			return
		}
	}
	s.ToolsUsed = append(s.ToolsUsed, toolName)
}

// MarkActivity 更新最近活动时间
func (s *StreamingState) MarkActivity() {
	s.LastActivity = time.Now()
	s.EventCount++
}
