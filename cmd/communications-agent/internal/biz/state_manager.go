package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
	pkgerrors "github.com/camrenhall/luceron-ai-communications-agent/pkg/errors"
)

// AgentContext 一轮Agent执行的完整上下文
type AgentContext struct {
	ConversationID      string                    `json:"conversation_id"`
	AgentType           domain.AgentType          `json:"agent_type"`
	SessionTimestamp    time.Time                 `json:"session_timestamp"`
	CaseContext         map[string]map[string]any `json:"case_context,omitempty"`
	CommunicationStyle  string                    `json:"client_communication_style,omitempty"`
	RecentEmailActivity *EmailActivity            `json:"recent_email_activity,omitempty"`
	ConversationSummary *SummaryContext           `json:"conversation_summary,omitempty"`
	RecentConversation  []*CompressedMessage      `json:"recent_conversation,omitempty"`
	TokenInfo           *TokenEstimate            `json:"token_info,omitempty"`
}

// EmailActivity 从案件上下文解析出的近期邮件活动
type EmailActivity struct {
	LastEmail  string `json:"last_email,omitempty"`
	EmailCount int    `json:"email_count"`
}

// ConversationMetrics 对话观测指标汇总
type ConversationMetrics struct {
	MessageCount       int            `json:"message_count"`
	HasSummary         bool           `json:"has_summary"`
	RecentActivity     int            `json:"recent_activity"`
	ConversationHealth string         `json:"conversation_health"`
	HealthScore        int            `json:"health_score"`
	TokenEstimates     *TokenEstimate `json:"token_estimates,omitempty"`
	Recommendations    []string       `json:"recommendations"`
	SummaryInfo        *SummaryInfo   `json:"summary_info,omitempty"`
}

// SummaryInfo 最新摘要的概要信息
type SummaryInfo struct {
	MessagesSummarized int `json:"messages_summarized"`
	TokensSaved        int `json:"tokens_saved"`
}

// AgentStateManager 管理单轮对话的生命周期：开启会话、组装上下文、沉淀结论
type AgentStateManager struct {
	conversations ConversationRepo
	contexts      ContextRepo
	tokenManager  *TokenManager
	agentType     domain.AgentType
	modelName     string
	log           *log.Helper
}

// NewAgentStateManager 创建状态管理器
func NewAgentStateManager(
	conversations ConversationRepo,
	contexts ContextRepo,
	tokenManager *TokenManager,
	agentType domain.AgentType,
	modelName string,
	logger log.Logger,
) *AgentStateManager {
	return &AgentStateManager{
		conversations: conversations,
		contexts:      contexts,
		tokenManager:  tokenManager,
		agentType:     agentType,
		modelName:     modelName,
		log:           log.NewHelper(logger),
	}
}

// StartAgentSession 开启会话：定位或创建对话，追加用户消息，加载案件上下文。
// conversationID非空时必须校验：不存在、非ACTIVE、Agent类型不符均视为调用方误用。
func (m *AgentStateManager) StartAgentSession(ctx context.Context, userMessage, caseID, conversationID string) (string, map[string]map[string]any, error) {
	if caseID == "" {
		caseID = domain.GeneralCaseID
	}

	if conversationID != "" {
		conv, err := m.conversations.GetConversation(ctx, conversationID)
		if err != nil {
			return "", nil, pkgerrors.NewInvalidConversation(fmt.Sprintf("conversation %s not found", conversationID))
		}
		if conv.Status != domain.ConversationStatusActive {
			return "", nil, pkgerrors.NewConversationClosed(fmt.Sprintf("conversation %s is %s", conversationID, conv.Status))
		}
		if conv.AgentType != m.agentType {
			return "", nil, pkgerrors.NewAgentTypeMismatch(fmt.Sprintf("conversation %s belongs to %s", conversationID, conv.AgentType))
		}
	} else {
		id, err := m.conversations.GetOrCreateConversation(ctx, caseID, m.agentType)
		if err != nil {
			return "", nil, fmt.Errorf("get or create conversation: %w", err)
		}
		conversationID = id
	}

	m.log.WithContext(ctx).Infof("started agent session: conversation=%s case=%s", conversationID, caseID)

	if _, err := m.conversations.AddMessage(ctx, &domain.Message{
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content: domain.MessageContent{
			"text":          userMessage,
			"message_type":  "user_input",
			"session_start": true,
		},
		ModelUsed: m.modelName,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", nil, fmt.Errorf("append user message: %w", err)
	}

	existingContext := map[string]map[string]any{}
	if caseID != domain.GeneralCaseID {
		loaded, err := m.contexts.GetCaseAgentContext(ctx, caseID, m.agentType)
		if err != nil {
			m.log.WithContext(ctx).Infof("no existing context for case %s: %v", caseID, err)
		} else if loaded != nil {
			existingContext = loaded
			m.log.WithContext(ctx).Infof("loaded %d context keys for case %s", len(loaded), caseID)
		}
	}

	return conversationID, existingContext, nil
}

// ManageConversationLength 委托TokenManager做长度治理，结果只记日志不中断
func (m *AgentStateManager) ManageConversationLength(ctx context.Context, conversationID string) *OptimizationResult {
	result := m.tokenManager.OptimizeConversationContext(ctx, conversationID, false)
	if result.SummaryCreated {
		m.log.WithContext(ctx).Infof("optimized conversation %s: summarized=%d kept=%d",
			conversationID, result.MessagesSummarized, result.MessagesKept)
	}
	return result
}

// PrepareAgentContext 组装交给Agent的完整上下文：摘要+近期消息+案件结构化上下文+Token估算
func (m *AgentStateManager) PrepareAgentContext(ctx context.Context, conversationID string, existingContext map[string]map[string]any) *AgentContext {
	agentCtx := &AgentContext{
		ConversationID:   conversationID,
		AgentType:        m.agentType,
		SessionTimestamp: time.Now(),
	}

	if len(existingContext) > 0 {
		agentCtx.CaseContext = existingContext

		if prefs, ok := existingContext["client_preferences"]; ok {
			if style, ok := prefs["communication_style"].(string); ok {
				agentCtx.CommunicationStyle = style
			} else {
				agentCtx.CommunicationStyle = "professional"
			}
		}

		if hist, ok := existingContext["email_history"]; ok {
			activity := &EmailActivity{}
			if last, ok := hist["last_email_sent"].(string); ok {
				activity.LastEmail = last
			}
			switch n := hist["email_count"].(type) {
			case int:
				activity.EmailCount = n
			case float64:
				activity.EmailCount = int(n)
			}
			agentCtx.RecentEmailActivity = activity
		}
	}

	optimized := m.tokenManager.PrepareContextForAgent(ctx, conversationID, 10)
	agentCtx.ConversationSummary = optimized.Summary
	agentCtx.RecentConversation = optimized.RecentMessages
	agentCtx.TokenInfo = m.tokenManager.EstimateTokenUsage(ctx, conversationID, true)

	m.log.WithContext(ctx).Infof("prepared agent context: summary=%t recent=%d",
		agentCtx.ConversationSummary != nil, len(agentCtx.RecentConversation))
	return agentCtx
}

// StoreInteractionResults 用词法启发式从最终应答中提取值得沉淀的上下文并逐键持久化。
// case_id缺失或为general哨兵时整体跳过；失败只记日志。
func (m *AgentStateManager) StoreInteractionResults(ctx context.Context, caseID, finalResponse string) {
	if caseID == "" || caseID == domain.GeneralCaseID {
		return
	}

	updates := AnalyzeInteractionForContext(finalResponse, time.Now())
	for key, value := range updates {
		entry := &domain.ContextEntry{
			CaseID:       caseID,
			AgentType:    m.agentType,
			ContextKey:   key,
			ContextValue: value,
		}
		if err := m.contexts.StoreAgentContext(ctx, entry); err != nil {
			m.log.WithContext(ctx).Warnf("failed to store context %q for case %s: %v", key, caseID, err)
			continue
		}
		m.log.WithContext(ctx).Infof("stored context %q for case %s", key, caseID)
	}
}

// AnalyzeInteractionForContext 对最终应答做固定短语匹配，决定沉淀哪些上下文键。
// 触发短语与截断长度是既定行为，不做“改进”。
func AnalyzeInteractionForContext(finalResponse string, now time.Time) map[string]map[string]any {
	updates := map[string]map[string]any{}
	lower := strings.ToLower(finalResponse)
	timestamp := now.Format(time.RFC3339)

	if containsAny(lower, "formal", "professional", "casual", "friendly") {
		style := "casual"
		if containsAny(lower, "formal", "professional") {
			style = "formal"
		}
		updates["client_preferences"] = map[string]any{
			"communication_style": style,
			"detected_at":         timestamp,
			"confidence":          "inferred",
			"source":              "agent_response_analysis",
		}
	}

	if containsAny(lower, "email sent", "reminder sent", "emailed", "contacted") {
		emailType := "general"
		if strings.Contains(lower, "reminder") {
			emailType = "reminder"
		}
		updates["email_history"] = map[string]any{
			"last_email_sent": timestamp,
			"email_count":     1,
			"last_email_type": emailType,
			"effectiveness":   "sent",
		}
	}

	if containsAny(lower, "case created", "documents requested", "client contacted") {
		updates["case_progress"] = map[string]any{
			"last_activity": timestamp,
			"activity_type": "case_management",
			"description":   truncate(finalResponse, 200),
			"agent_action":  true,
		}
	}

	if containsAny(lower, "client said", "client mentioned") {
		updates["client_feedback"] = map[string]any{
			"timestamp":          timestamp,
			"feedback_source":    "agent_interaction",
			"content":            truncate(finalResponse, 300),
			"requires_follow_up": strings.Contains(lower, "follow up"),
		}
	}

	return updates
}

// GetConversationMetrics 汇总对话规模、摘要、健康度与Token估算
func (m *AgentStateManager) GetConversationMetrics(ctx context.Context, conversationID string) *ConversationMetrics {
	metrics := &ConversationMetrics{Recommendations: []string{}}

	count, err := m.conversations.GetMessageCount(ctx, conversationID)
	if err != nil {
		m.log.WithContext(ctx).Errorf("failed to get conversation metrics: %v", err)
		return metrics
	}
	metrics.MessageCount = count

	if recent, err := m.conversations.GetConversationHistory(ctx, conversationID, 5, false); err == nil {
		metrics.RecentActivity = len(recent)
	}

	if summary, err := m.conversations.GetLatestSummary(ctx, conversationID); err == nil && summary != nil {
		metrics.HasSummary = true
		metrics.SummaryInfo = &SummaryInfo{
			MessagesSummarized: summary.MessagesSummarized,
			TokensSaved:        summary.TokensSaved,
		}
	}

	health := m.tokenManager.CheckConversationHealth(ctx, conversationID)
	metrics.ConversationHealth = health.Status
	metrics.HealthScore = health.HealthScore
	metrics.Recommendations = health.Recommendations
	metrics.TokenEstimates = health.TokenEstimates

	return metrics
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
