package domain

import "time"

// WorkflowStatus 工作流状态
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "PENDING"
	WorkflowStatusProcessing WorkflowStatus = "PROCESSING"
	WorkflowStatusCompleted  WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed     WorkflowStatus = "FAILED"
)

// ReasoningStep 工作流推理步骤，追加写入后端审计轨迹
type ReasoningStep struct {
	Timestamp    time.Time      `json:"timestamp"`
	Thought      string         `json:"thought"`
	Action       string         `json:"action,omitempty"`
	ActionInput  map[string]any `json:"action_input,omitempty"`
	ActionOutput string         `json:"action_output,omitempty"`
}

// WorkflowState 一次Agent端到端执行的后端记录
type WorkflowState struct {
	WorkflowID    string         `json:"workflow_id,omitempty"`
	AgentType     AgentType      `json:"agent_type"`
	CaseID        string         `json:"case_id,omitempty"`
	Status        WorkflowStatus `json:"status"`
	InitialPrompt string         `json:"initial_prompt"`
	FinalResponse string         `json:"final_response,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
