package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultMaxIterations = 10

// Tool Agent可调用的工具：输入输出均为JSON字符串。
// 执行失败时把错误文本返回给模型而不是抛出，让模型自行纠偏。
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input string) (string, error)
}

// ToolDefinition 提供给模型的工具声明
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// LLMToolCall 模型发起的一次工具调用
type LLMToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// LLMToolResult 回传给模型的工具执行结果
type LLMToolResult struct {
	ToolCallID string `json:"tool_use_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// LLMMessage 工具调用循环内的一条会话消息
type LLMMessage struct {
	Role        string          `json:"role"` // user | assistant
	Text        string          `json:"text,omitempty"`
	ToolCalls   []LLMToolCall   `json:"tool_calls,omitempty"`
	ToolResults []LLMToolResult `json:"tool_results,omitempty"`
}

// LLMTurn 模型一次应答
type LLMTurn struct {
	Text         string
	ToolCalls    []LLMToolCall
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// LLMClient 模型提供方客户端接口
type LLMClient interface {
	CreateMessage(ctx context.Context, system string, messages []LLMMessage, tools []ToolDefinition) (*LLMTurn, error)
}

// AgentExecutor 驱动模型-工具调用循环直至模型给出最终应答
type AgentExecutor struct {
	llm           LLMClient
	tools         map[string]Tool
	toolDefs      []ToolDefinition
	systemPrompt  string
	maxIterations int
	log           *log.Helper
}

// NewAgentExecutor 创建执行器；maxIterations非正时取默认值10
func NewAgentExecutor(llm LLMClient, tools []Tool, systemPrompt string, maxIterations int, logger log.Logger) *AgentExecutor {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	byName := make(map[string]Tool, len(tools))
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}

	return &AgentExecutor{
		llm:           llm,
		tools:         byName,
		toolDefs:      defs,
		systemPrompt:  systemPrompt,
		maxIterations: maxIterations,
		log:           log.NewHelper(logger),
	}
}

// Execute 执行一轮Agent：history为上文会话，input为本轮用户输入。
// 返回模型的最终文本应答；达到迭代上限时返回最后一次模型文本。
func (e *AgentExecutor) Execute(ctx context.Context, input string, history []LLMMessage, callbacks AgentCallbacks) (string, error) {
	messages := make([]LLMMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, LLMMessage{Role: "user", Text: input})

	var lastText string

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		callbacks.OnLLMStart(ctx)

		turn, err := e.llm.CreateMessage(ctx, e.systemPrompt, messages, e.toolDefs)
		if err != nil {
			return "", fmt.Errorf("llm call failed: %w", err)
		}

		callbacks.OnLLMEnd(ctx, turn.Text, turn.InputTokens, turn.OutputTokens)
		if turn.Text != "" {
			lastText = turn.Text
		}

		if len(turn.ToolCalls) == 0 {
			return turn.Text, nil
		}

		messages = append(messages, LLMMessage{
			Role:      "assistant",
			Text:      turn.Text,
			ToolCalls: turn.ToolCalls,
		})

		results := make([]LLMToolResult, 0, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			callbacks.OnAgentAction(ctx, turn.Text, call.Name, call.Input)
			results = append(results, e.runTool(ctx, call, callbacks))
		}
		messages = append(messages, LLMMessage{Role: "user", ToolResults: results})
	}

	e.log.WithContext(ctx).Warnf("agent stopped after %d iterations without a final answer", e.maxIterations)
	if lastText != "" {
		return lastText, nil
	}
	return "", fmt.Errorf("agent exceeded %d iterations without a final answer", e.maxIterations)
}

// runTool 执行单个工具调用。工具错误折叠为错误文本回传模型，不中断循环。
func (e *AgentExecutor) runTool(ctx context.Context, call LLMToolCall, callbacks AgentCallbacks) LLMToolResult {
	callbacks.OnToolStart(ctx, call.Name, call.Input)

	tool, ok := e.tools[call.Name]
	if !ok {
		err := fmt.Errorf("unknown tool %q", call.Name)
		callbacks.OnToolError(ctx, err)
		return LLMToolResult{ToolCallID: call.ID, Content: "Error: " + err.Error(), IsError: true}
	}

	inputJSON, err := json.Marshal(call.Input)
	if err != nil {
		callbacks.OnToolError(ctx, err)
		return LLMToolResult{ToolCallID: call.ID, Content: "Error: invalid tool input", IsError: true}
	}

	output, err := tool.Execute(ctx, string(inputJSON))
	if err != nil {
		callbacks.OnToolError(ctx, err)
		return LLMToolResult{ToolCallID: call.ID, Content: "Error: " + err.Error(), IsError: true}
	}

	callbacks.OnToolEnd(ctx, output)
	return LLMToolResult{ToolCallID: call.ID, Content: output}
}

// ClassifyAgentError 把执行失败按消息内容归类为用户可读的错误描述与恢复建议
func ClassifyAgentError(err error) (message, errorType, recoverySuggestion string) {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "overloaded"):
		return "The AI service is temporarily overloaded. Please try again in a moment.",
			"ProviderOverloaded",
			"Retry the request after a short wait."
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "The request took too long to process. Please try again.",
			"Timeout",
			"Retry the request; consider a shorter message."
	case strings.Contains(msg, "rate limit"):
		return "Too many requests right now. Please wait a moment before retrying.",
			"RateLimited",
			"Wait before retrying the request."
	default:
		return "Agent execution failed: " + err.Error(), "ExecutionError", ""
	}
}
