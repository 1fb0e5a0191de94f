package biz

import (
	"context"
	"time"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
)

// ConversationRepo 对话存取接口，由后端REST客户端实现
type ConversationRepo interface {
	// GetOrCreateConversation 按 (case_id, agent_type) 获取或创建ACTIVE对话
	GetOrCreateConversation(ctx context.Context, caseID string, agentType domain.AgentType) (string, error)
	// GetConversation 按ID获取对话，不存在时返回 domain.ErrConversationNotFound
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	// AddMessage 追加消息，返回消息ID
	AddMessage(ctx context.Context, msg *domain.Message) (string, error)
	// GetConversationHistory 按时间倒序取最近limit条消息
	GetConversationHistory(ctx context.Context, conversationID string, limit int, includeFunctionCalls bool) ([]*domain.Message, error)
	// GetMessageCount 对话消息总数
	GetMessageCount(ctx context.Context, conversationID string) (int, error)
	// CreateAutoSummary 请求后端把最早的N条消息折叠为摘要
	CreateAutoSummary(ctx context.Context, conversationID string, messagesToSummarize int) (*domain.Summary, error)
	// GetLatestSummary 取最新摘要，无摘要时返回 (nil, nil)
	GetLatestSummary(ctx context.Context, conversationID string) (*domain.Summary, error)
}

// ContextRepo 按 (case_id, agent_type) 维度的结构化上下文存取
type ContextRepo interface {
	GetCaseAgentContext(ctx context.Context, caseID string, agentType domain.AgentType) (map[string]map[string]any, error)
	StoreAgentContext(ctx context.Context, entry *domain.ContextEntry) error
}

// CaseRepo 案件检索与文档操作接口
type CaseRepo interface {
	// SearchCasesByName 按状态做模糊名称检索，阈值以下的候选被过滤
	SearchCasesByName(ctx context.Context, clientName string, status domain.CaseStatus, fuzzyThreshold float64) ([]*domain.Case, error)
	GetCaseWithDocuments(ctx context.Context, caseID string) (*domain.Case, error)
	CreateCase(ctx context.Context, c *domain.Case) (*domain.Case, error)
	UpdateDocument(ctx context.Context, docID string, update *domain.DocumentUpdate) error
	UpdateCaseLastCommunication(ctx context.Context, caseID string, at time.Time) error
	GetPendingReminderCases(ctx context.Context) ([]*domain.Case, error)
}

// WorkflowRepo 工作流审计记录接口
type WorkflowRepo interface {
	CreateWorkflow(ctx context.Context, wf *domain.WorkflowState) (string, error)
	UpdateWorkflowStatus(ctx context.Context, workflowID string, status domain.WorkflowStatus) error
	UpdateWorkflowResponse(ctx context.Context, workflowID string, finalResponse string) error
	AddReasoningStep(ctx context.Context, workflowID string, step *domain.ReasoningStep) error
}

// EmailSender 邮件发送接口（实际投递由后端完成）
type EmailSender interface {
	SendEmail(ctx context.Context, caseID, recipient, subject, body, htmlBody string) (string, error)
}
