package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
	"github.com/camrenhall/luceron-ai-communications-agent/pkg/monitoring"
	"github.com/camrenhall/luceron-ai-communications-agent/pkg/resilience"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"

	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	defaultMaxTokens      = 4096
	defaultTemperature    = 0.1
)

// AnthropicConfig Anthropic客户端配置
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// AnthropicClient Anthropic Messages API客户端，实现biz.LLMClient。
// 工具调用以tool_use/tool_result内容块表达。
type AnthropicClient struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	log         *log.Helper
}

var _ biz.LLMClient = (*AnthropicClient)(nil)

// NewAnthropicClient 创建客户端；未设置的字段取默认值
func NewAnthropicClient(cfg *AnthropicConfig, logger log.Logger) *AnthropicClient {
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &AnthropicClient{
		apiKey:      cfg.APIKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      &http.Client{Timeout: timeout},
		log:         log.NewHelper(logger),
	}
}

// Model 当前使用的模型名
func (c *AnthropicClient) Model() string {
	return c.model
}

// contentBlock Messages API的内容块
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type apiMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature float64              `json:"temperature"`
	System      string               `json:"system,omitempty"`
	Messages    []apiMessage         `json:"messages"`
	Tools       []biz.ToolDefinition `json:"tools,omitempty"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// apiError 携带HTTP状态码的API错误
type apiError struct {
	code    int
	kind    string
	message string
}

func (e *apiError) Error() string {
	if e.kind != "" {
		return fmt.Sprintf("anthropic api error (%d): %s: %s", e.code, e.kind, e.message)
	}
	return fmt.Sprintf("anthropic api error (%d)", e.code)
}

// isRetryableAPIError 网络错误、限流与5xx可重试；4xx直接失败
func isRetryableAPIError(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.code == http.StatusTooManyRequests || ae.code >= 500
	}
	return true
}

// CreateMessage 发送一轮会话并解析应答，瞬时故障带退避重试
func (c *AnthropicClient) CreateMessage(ctx context.Context, system string, messages []biz.LLMMessage, tools []biz.ToolDefinition) (*biz.LLMTurn, error) {
	reqBody := messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      system,
		Messages:    toAPIMessages(messages),
		Tools:       tools,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	policy := resilience.RetryPolicy{
		MaxRetries:        2,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		Retryable:         isRetryableAPIError,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.log.WithContext(ctx).Warnf("retrying anthropic request (attempt %d) after %s: %v", attempt, delay, err)
		},
	}

	var parsed messagesResponse
	err = resilience.Retry(ctx, policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("anthropic request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read anthropic response: %w", err)
		}

		parsed = messagesResponse{}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("decode anthropic response: %w", err)
		}

		if resp.StatusCode >= 400 {
			ae := &apiError{code: resp.StatusCode}
			if parsed.Error != nil {
				ae.kind = parsed.Error.Type
				ae.message = parsed.Error.Message
			}
			return ae
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	turn := &biz.LLMTurn{
		StopReason:   parsed.StopReason,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			turn.Text += block.Text
		case "tool_use":
			turn.ToolCalls = append(turn.ToolCalls, biz.LLMToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}

	monitoring.LLMTokensTotal.WithLabelValues(c.model, "input").Add(float64(parsed.Usage.InputTokens))
	monitoring.LLMTokensTotal.WithLabelValues(c.model, "output").Add(float64(parsed.Usage.OutputTokens))

	return turn, nil
}

// toAPIMessages 把循环内部消息展开成Messages API的内容块结构
func toAPIMessages(messages []biz.LLMMessage) []apiMessage {
	out := make([]apiMessage, 0, len(messages))
	for _, msg := range messages {
		var blocks []contentBlock
		if msg.Text != "" {
			blocks = append(blocks, contentBlock{Type: "text", Text: msg.Text})
		}
		for _, call := range msg.ToolCalls {
			input := call.Input
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, contentBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Name,
				Input: input,
			})
		}
		for _, result := range msg.ToolResults {
			blocks = append(blocks, contentBlock{
				Type:      "tool_result",
				ToolUseID: result.ToolCallID,
				Content:   result.Content,
				IsError:   result.IsError,
			})
		}
		if len(blocks) == 0 {
			// 空消息用空文本占位，避免API拒绝
			blocks = append(blocks, contentBlock{Type: "text", Text: " "})
		}
		out = append(out, apiMessage{Role: msg.Role, Content: blocks})
	}
	return out
}
