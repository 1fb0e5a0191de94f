package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
	"github.com/camrenhall/luceron-ai-communications-agent/pkg/monitoring"
)

// BackendConfig 案件管理后端的连接配置。
// 配置了OAuth客户端凭证时走Bearer令牌，否则回落到X-API-Key。
type BackendConfig struct {
	BaseURL      string
	APIKey       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// BackendClient 案件管理后端REST客户端，实现biz层全部仓储接口。
// 出站调用统一过熔断器，后端雪崩时快速失败。
type BackendClient struct {
	base    string
	client  *http.Client
	apiKey  string
	token   oauth2.TokenSource
	breaker *gobreaker.CircuitBreaker
	log     *log.Helper
}

// 编译期接口断言
var (
	_ biz.ConversationRepo = (*BackendClient)(nil)
	_ biz.ContextRepo      = (*BackendClient)(nil)
	_ biz.CaseRepo         = (*BackendClient)(nil)
	_ biz.WorkflowRepo     = (*BackendClient)(nil)
	_ biz.EmailSender      = (*BackendClient)(nil)
)

// NewBackendClient 创建后端客户端
func NewBackendClient(cfg *BackendConfig, logger log.Logger) *BackendClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var token oauth2.TokenSource
	if cfg.TokenURL != "" && cfg.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		token = cc.TokenSource(context.Background())
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &BackendClient{
		base:    cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		token:   token,
		breaker: breaker,
		log:     log.NewHelper(logger),
	}
}

// statusError 携带HTTP状态码的后端错误
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

// doJSON 发送JSON请求并解析应答；out为nil时丢弃应答体
func (c *BackendClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := c.authorize(req); err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &statusError{code: resp.StatusCode, body: string(data)}
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		monitoring.BackendRequestErrors.WithLabelValues(method + " " + path).Inc()
	}
	return err
}

func (c *BackendClient) authorize(req *http.Request) error {
	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return fmt.Errorf("fetch backend token: %w", err)
		}
		tok.SetAuthHeader(req)
		return nil
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return nil
}

// --- ConversationRepo ---

func (c *BackendClient) GetOrCreateConversation(ctx context.Context, caseID string, agentType domain.AgentType) (string, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/conversations", map[string]any{
		"case_id":    caseID,
		"agent_type": agentType,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

func (c *BackendClient) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID, nil, &conv)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (c *BackendClient) AddMessage(ctx context.Context, msg *domain.Message) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+msg.ConversationID+"/messages", msg, &out)
	if err != nil {
		return "", err
	}
	return out.MessageID, nil
}

func (c *BackendClient) GetConversationHistory(ctx context.Context, conversationID string, limit int, includeFunctionCalls bool) ([]*domain.Message, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("include_function_calls", strconv.FormatBool(includeFunctionCalls))

	var out struct {
		Messages []*domain.Message `json:"messages"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages?"+query.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *BackendClient) GetMessageCount(ctx context.Context, conversationID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages/count", nil, &out)
	if err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *BackendClient) CreateAutoSummary(ctx context.Context, conversationID string, messagesToSummarize int) (*domain.Summary, error) {
	var summary domain.Summary
	err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/summaries/auto", map[string]any{
		"messages_to_summarize": messagesToSummarize,
	}, &summary)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *BackendClient) GetLatestSummary(ctx context.Context, conversationID string) (*domain.Summary, error) {
	var summary domain.Summary
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/summaries/latest", nil, &summary)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &summary, nil
}

// --- ContextRepo ---

func (c *BackendClient) GetCaseAgentContext(ctx context.Context, caseID string, agentType domain.AgentType) (map[string]map[string]any, error) {
	query := url.Values{}
	query.Set("case_id", caseID)
	query.Set("agent_type", string(agentType))

	var out struct {
		Entries []*domain.ContextEntry `json:"entries"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/agent-context?"+query.Encode(), nil, &out)
	if err != nil {
		if isNotFound(err) {
			return map[string]map[string]any{}, nil
		}
		return nil, err
	}

	result := make(map[string]map[string]any, len(out.Entries))
	for _, entry := range out.Entries {
		result[entry.ContextKey] = entry.ContextValue
	}
	return result, nil
}

func (c *BackendClient) StoreAgentContext(ctx context.Context, entry *domain.ContextEntry) error {
	return c.doJSON(ctx, http.MethodPut, "/api/agent-context", entry, nil)
}

// --- CaseRepo ---

func (c *BackendClient) SearchCasesByName(ctx context.Context, clientName string, status domain.CaseStatus, fuzzyThreshold float64) ([]*domain.Case, error) {
	query := url.Values{}
	query.Set("client_name", clientName)
	query.Set("status", string(status))
	query.Set("use_fuzzy", "true")
	query.Set("fuzzy_threshold", strconv.FormatFloat(fuzzyThreshold, 'f', -1, 64))

	var out struct {
		Cases []*domain.Case `json:"cases"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/cases/search?"+query.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Cases, nil
}

func (c *BackendClient) GetCaseWithDocuments(ctx context.Context, caseID string) (*domain.Case, error) {
	var caseData domain.Case
	err := c.doJSON(ctx, http.MethodGet, "/api/cases/"+caseID, nil, &caseData)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrCaseNotFound
		}
		return nil, err
	}
	return &caseData, nil
}

func (c *BackendClient) CreateCase(ctx context.Context, newCase *domain.Case) (*domain.Case, error) {
	var created domain.Case
	err := c.doJSON(ctx, http.MethodPost, "/api/cases", newCase, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *BackendClient) UpdateDocument(ctx context.Context, docID string, update *domain.DocumentUpdate) error {
	return c.doJSON(ctx, http.MethodPut, "/api/documents/"+docID, update, nil)
}

func (c *BackendClient) UpdateCaseLastCommunication(ctx context.Context, caseID string, at time.Time) error {
	return c.doJSON(ctx, http.MethodPut, "/api/cases/"+caseID+"/communication-date", map[string]any{
		"case_id":                 caseID,
		"last_communication_date": at.Format(time.RFC3339),
	}, nil)
}

func (c *BackendClient) GetPendingReminderCases(ctx context.Context) ([]*domain.Case, error) {
	var out struct {
		FoundCases int            `json:"found_cases"`
		Cases      []*domain.Case `json:"cases"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/cases/pending-reminders", nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Cases, nil
}

// --- WorkflowRepo ---

func (c *BackendClient) CreateWorkflow(ctx context.Context, wf *domain.WorkflowState) (string, error) {
	var out struct {
		WorkflowID string `json:"workflow_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/workflows", map[string]any{
		"agent_type":     wf.AgentType,
		"case_id":        wf.CaseID,
		"status":         wf.Status,
		"initial_prompt": wf.InitialPrompt,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.WorkflowID, nil
}

func (c *BackendClient) UpdateWorkflowStatus(ctx context.Context, workflowID string, status domain.WorkflowStatus) error {
	return c.doJSON(ctx, http.MethodPut, "/api/workflows/"+workflowID+"/status", map[string]any{
		"status": status,
	}, nil)
}

func (c *BackendClient) UpdateWorkflowResponse(ctx context.Context, workflowID string, finalResponse string) error {
	return c.doJSON(ctx, http.MethodPut, "/api/workflows/"+workflowID+"/response", map[string]any{
		"final_response": finalResponse,
	}, nil)
}

func (c *BackendClient) AddReasoningStep(ctx context.Context, workflowID string, step *domain.ReasoningStep) error {
	return c.doJSON(ctx, http.MethodPost, "/api/workflows/"+workflowID+"/reasoning-step", step, nil)
}

// --- EmailSender ---

// SendEmail 经后端投递邮件，返回消息ID
func (c *BackendClient) SendEmail(ctx context.Context, caseID, recipient, subject, body, htmlBody string) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
		Recipient string `json:"recipient"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/send-email", map[string]any{
		"case_id":         caseID,
		"recipient_email": recipient,
		"subject":         subject,
		"body":            body,
		"html_body":       htmlBody,
	}, &out)
	if err != nil {
		return "", err
	}
	c.log.WithContext(ctx).Infof("email sent for case %s (message id %s)", caseID, out.MessageID)
	return out.MessageID, nil
}

// Ping 探测后端连通性，/ready就绪检查使用
func (c *BackendClient) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/", nil, nil)
}
