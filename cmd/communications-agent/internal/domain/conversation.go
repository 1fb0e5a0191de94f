package domain

import "time"

// ConversationStatus 对话生命周期状态
type ConversationStatus string

const (
	ConversationStatusActive    ConversationStatus = "ACTIVE"
	ConversationStatusCompleted ConversationStatus = "COMPLETED"
	ConversationStatusArchived  ConversationStatus = "ARCHIVED"
)

// MessageRole 消息角色
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleFunction  MessageRole = "function"
)

// AgentType Agent类型标签
type AgentType string

const (
	AgentTypeCommunications AgentType = "CommunicationsAgent"
	AgentTypeAnalysis       AgentType = "AnalysisAgent"
)

// GeneralCaseID 无案件上下文时使用的哨兵案件ID
const GeneralCaseID = "general"

// Conversation 后端持有的对话记录（本服务只读写，不落盘）
type Conversation struct {
	ConversationID  string             `json:"conversation_id"`
	CaseID          string             `json:"case_id"`
	AgentType       AgentType          `json:"agent_type"`
	Status          ConversationStatus `json:"status"`
	TotalTokensUsed int                `json:"total_tokens_used"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// MessageContent 消息内容：text字段加任意结构化元数据
type MessageContent map[string]any

// Text 返回内容中的text字段（缺失时为空串）
func (c MessageContent) Text() string {
	if c == nil {
		return ""
	}
	if s, ok := c["text"].(string); ok {
		return s
	}
	return ""
}

// Message 对话内的单条消息，创建后不可变
type Message struct {
	MessageID      string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"`
	Role           MessageRole    `json:"role"`
	Content        MessageContent `json:"content"`
	SequenceNumber int            `json:"sequence_number"`
	TotalTokens    int            `json:"total_tokens,omitempty"`
	ModelUsed      string         `json:"model_used,omitempty"`

	// 函数调用三元组（function角色消息）
	FunctionName      string         `json:"function_name,omitempty"`
	FunctionArguments map[string]any `json:"function_arguments,omitempty"`
	FunctionResponse  map[string]any `json:"function_response,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasFunctionCall 是否携带函数调用
func (m *Message) HasFunctionCall() bool {
	return m.FunctionName != ""
}

// Summary 对话摘要，替代N条较早消息
type Summary struct {
	SummaryID          string    `json:"summary_id"`
	ConversationID     string    `json:"conversation_id"`
	SummaryContent     string    `json:"summary_content"`
	MessagesSummarized int       `json:"messages_summarized"`
	TokensSaved        int       `json:"tokens_saved,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ContextEntry 按 (case_id, agent_type, context_key) 持久化的结构化上下文
type ContextEntry struct {
	ContextID    string         `json:"context_id,omitempty"`
	CaseID       string         `json:"case_id"`
	AgentType    AgentType      `json:"agent_type"`
	ContextKey   string         `json:"context_key"`
	ContextValue map[string]any `json:"context_value"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
}
