package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
)

const (
	defaultMaxContextMessages = 20
	defaultSummaryThreshold   = 15

	baseTokensPerMessage = 150
	highTokenWatermark   = 3000

	textTruncateLimit   = 300
	nestedTruncateLimit = 100
)

// contextPreserveKeys 压缩时原样保留的元数据键
var contextPreserveKeys = []string{
	"stage", "message_type", "reasoning", "planned_action",
	"execution_time_ms", "success", "error_message",
}

// OptimizationResult 一次上下文优化的结果报告
type OptimizationResult struct {
	ConversationID     string `json:"conversation_id"`
	MessageCount       int    `json:"message_count"`
	ActionTaken        string `json:"action_taken"` // none | summarized | error
	MessagesSummarized int    `json:"messages_summarized,omitempty"`
	MessagesKept       int    `json:"messages_kept,omitempty"`
	SummaryCreated     bool   `json:"summary_created"`
	SummaryID          string `json:"summary_id,omitempty"`
	TokensSaved        int    `json:"tokens_saved"`
	Error              string `json:"error,omitempty"`
}

// SummaryContext 注入Agent上下文的摘要片段
type SummaryContext struct {
	Content            string    `json:"content"`
	MessagesSummarized int       `json:"messages_summarized"`
	CreatedAt          time.Time `json:"created_at"`
}

// CompressedMessage 压缩后的单条历史消息
type CompressedMessage struct {
	Role            domain.MessageRole    `json:"role"`
	Content         domain.MessageContent `json:"content"`
	Timestamp       time.Time             `json:"timestamp"`
	HasFunctionCall bool                  `json:"has_function_call"`
}

// ContextData 交给Agent的单轮上下文
type ContextData struct {
	ConversationID string               `json:"conversation_id"`
	ContextType    string               `json:"context_type"` // optimized | error
	PreparedAt     time.Time            `json:"prepared_at"`
	Summary        *SummaryContext      `json:"summary,omitempty"`
	RecentMessages []*CompressedMessage `json:"recent_messages,omitempty"`
}

// TokenEstimate Token用量估算（仅供观测，不阻断执行）
type TokenEstimate struct {
	ConversationID        string `json:"conversation_id"`
	MessageCount          int    `json:"message_count"`
	EstimatedTokens       int    `json:"estimated_tokens"`
	OptimizationPotential int    `json:"optimization_potential"`
	ContextType           string `json:"context_type"` // summary + recent | full history | none
	IncludesSummary       bool   `json:"includes_summary"`
}

// HealthReport 对话健康度报告
type HealthReport struct {
	ConversationID  string         `json:"conversation_id"`
	MessageCount    int            `json:"message_count"`
	HealthScore     int            `json:"health_score"`
	Status          string         `json:"status"` // healthy | warning | needs_attention
	HasSummary      bool           `json:"has_summary"`
	Recommendations []string       `json:"recommendations"`
	TokenEstimates  *TokenEstimate `json:"token_estimates,omitempty"`
}

// TokenManager 约束每轮交给Agent的上下文Token规模，必要时触发摘要
type TokenManager struct {
	repo               ConversationRepo
	maxContextMessages int
	summaryThreshold   int
	log                *log.Helper
}

// NewTokenManager 创建TokenManager，零值参数回落到默认值
func NewTokenManager(repo ConversationRepo, maxContextMessages, summaryThreshold int, logger log.Logger) *TokenManager {
	if maxContextMessages <= 0 {
		maxContextMessages = defaultMaxContextMessages
	}
	if summaryThreshold <= 0 {
		summaryThreshold = defaultSummaryThreshold
	}
	return &TokenManager{
		repo:               repo,
		maxContextMessages: maxContextMessages,
		summaryThreshold:   summaryThreshold,
		log:                log.NewHelper(logger),
	}
}

// OptimizeConversationContext 消息数超限时请求后端生成摘要。
// 永不返回error：任何下游失败折叠为 ActionTaken=error，调用方继续本轮对话。
func (m *TokenManager) OptimizeConversationContext(ctx context.Context, conversationID string, forceSummary bool) *OptimizationResult {
	count, err := m.repo.GetMessageCount(ctx, conversationID)
	if err != nil {
		m.log.WithContext(ctx).Errorf("failed to optimize conversation context: %v", err)
		return &OptimizationResult{ConversationID: conversationID, ActionTaken: "error", Error: err.Error()}
	}

	result := &OptimizationResult{
		ConversationID: conversationID,
		MessageCount:   count,
		ActionTaken:    "none",
	}

	if !forceSummary && count <= m.maxContextMessages {
		return result
	}

	m.log.WithContext(ctx).Infof("optimizing conversation %s (%d messages)", conversationID, count)

	// 保留最近1/3（上限10条），其余折叠进摘要
	messagesToKeep := min(10, count/3)
	messagesToSummarize := max(m.summaryThreshold, count-messagesToKeep)

	summary, err := m.repo.CreateAutoSummary(ctx, conversationID, messagesToSummarize)
	if err != nil {
		m.log.WithContext(ctx).Errorf("failed to create summary for %s: %v", conversationID, err)
		return &OptimizationResult{ConversationID: conversationID, MessageCount: count, ActionTaken: "error", Error: err.Error()}
	}

	result.ActionTaken = "summarized"
	result.MessagesSummarized = messagesToSummarize
	result.MessagesKept = messagesToKeep
	result.SummaryCreated = true
	result.SummaryID = summary.SummaryID
	result.TokensSaved = summary.TokensSaved

	m.log.WithContext(ctx).Infof("created summary %s: %d messages folded", summary.SummaryID, messagesToSummarize)
	return result
}

// PrepareContextForAgent 组装摘要+最近消息的有界上下文。失败时降级为空上下文。
func (m *TokenManager) PrepareContextForAgent(ctx context.Context, conversationID string, maxRecentMessages int) *ContextData {
	data := &ContextData{
		ConversationID: conversationID,
		ContextType:    "optimized",
		PreparedAt:     time.Now(),
	}

	summary, err := m.repo.GetLatestSummary(ctx, conversationID)
	if err != nil {
		m.log.WithContext(ctx).Debugf("no summary available for %s: %v", conversationID, err)
	} else if summary != nil {
		data.Summary = &SummaryContext{
			Content:            summary.SummaryContent,
			MessagesSummarized: summary.MessagesSummarized,
			CreatedAt:          summary.CreatedAt,
		}
		m.log.WithContext(ctx).Infof("using summary of %d messages", summary.MessagesSummarized)
	}

	messages, err := m.repo.GetConversationHistory(ctx, conversationID, maxRecentMessages, true)
	if err != nil {
		m.log.WithContext(ctx).Warnf("could not load recent messages for %s: %v", conversationID, err)
		return data
	}

	for _, msg := range messages {
		data.RecentMessages = append(data.RecentMessages, &CompressedMessage{
			Role:            msg.Role,
			Content:         CompressMessageContent(msg.Content),
			Timestamp:       msg.CreatedAt,
			HasFunctionCall: msg.HasFunctionCall(),
		})
	}
	if len(messages) > 0 {
		m.log.WithContext(ctx).Infof("included %d recent messages", len(messages))
	}

	return data
}

// CompressMessageContent 压缩单条消息内容：
// text超过300字符截断；保留列表内的元数据原样透传；其余嵌套结构
// 字符串化后超过100字符的截断；标量原样保留。对已压缩的内容幂等。
func CompressMessageContent(content domain.MessageContent) domain.MessageContent {
	if content == nil {
		return domain.MessageContent{}
	}

	compressed := domain.MessageContent{}

	if text, ok := content["text"].(string); ok {
		if len(text) > textTruncateLimit {
			compressed["text"] = text[:textTruncateLimit] + "..."
		} else {
			compressed["text"] = text
		}
	}

	for _, key := range contextPreserveKeys {
		if v, ok := content[key]; ok {
			compressed[key] = v
		}
	}

	for key, value := range content {
		if _, done := compressed[key]; done || key == "text" {
			continue
		}
		switch value.(type) {
		case map[string]any, []any:
			s := fmt.Sprint(value)
			if len(s) > nestedTruncateLimit {
				compressed[key] = s[:nestedTruncateLimit] + "..."
			} else {
				compressed[key] = value
			}
		default:
			compressed[key] = value
		}
	}

	return compressed
}

// EstimateTokenUsage 启发式Token估算：每条消息150，摘要按字符数/3。
func (m *TokenManager) EstimateTokenUsage(ctx context.Context, conversationID string, includeContext bool) *TokenEstimate {
	estimate := &TokenEstimate{ConversationID: conversationID, ContextType: "none"}

	count, err := m.repo.GetMessageCount(ctx, conversationID)
	if err != nil {
		m.log.WithContext(ctx).Errorf("failed to estimate token usage: %v", err)
		return estimate
	}
	estimate.MessageCount = count

	if includeContext {
		summary, err := m.repo.GetLatestSummary(ctx, conversationID)
		if err == nil && summary != nil {
			summaryTokens := len(summary.SummaryContent) / 3
			recentCount := min(10, count)
			estimate.EstimatedTokens = recentCount*baseTokensPerMessage + summaryTokens
			estimate.ContextType = "summary + recent"
			estimate.IncludesSummary = true
		} else {
			contextMessages := min(count, m.maxContextMessages)
			estimate.EstimatedTokens = contextMessages * baseTokensPerMessage
			estimate.ContextType = "full history"
		}
	}

	estimate.OptimizationPotential = max(0, count*baseTokensPerMessage-estimate.EstimatedTokens)
	return estimate
}

// CheckConversationHealth 按消息规模与Token估算给出0-10健康分及建议。
func (m *TokenManager) CheckConversationHealth(ctx context.Context, conversationID string) *HealthReport {
	report := &HealthReport{
		ConversationID:  conversationID,
		HealthScore:     10,
		Status:          "healthy",
		Recommendations: []string{},
	}

	count, err := m.repo.GetMessageCount(ctx, conversationID)
	if err != nil {
		m.log.WithContext(ctx).Errorf("failed to check conversation health: %v", err)
		report.Status = "error"
		return report
	}
	report.MessageCount = count

	switch {
	case count > 50:
		report.HealthScore -= 4
		report.Recommendations = append(report.Recommendations, "Consider archiving old conversation")
	case count > 30:
		report.HealthScore -= 2
		report.Recommendations = append(report.Recommendations, "Create summary to optimize token usage")
	case count > m.maxContextMessages:
		report.HealthScore--
		report.Recommendations = append(report.Recommendations, "Consider summarization")
	}

	if count > 20 {
		summary, err := m.repo.GetLatestSummary(ctx, conversationID)
		if err == nil {
			if summary == nil {
				report.Recommendations = append(report.Recommendations, "Create conversation summary")
				report.HealthScore--
			} else {
				report.HealthScore++
				report.HasSummary = true
			}
		}
	}

	estimate := m.EstimateTokenUsage(ctx, conversationID, true)
	if estimate.EstimatedTokens > highTokenWatermark {
		report.Recommendations = append(report.Recommendations, "High token usage - optimize context")
		report.HealthScore -= 2
	}
	report.TokenEstimates = estimate

	switch {
	case report.HealthScore >= 8:
		report.Status = "healthy"
	case report.HealthScore >= 6:
		report.Status = "warning"
	default:
		report.Status = "needs_attention"
	}

	return report
}
