package biz

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM 按脚本逐轮返回应答
type fakeLLM struct {
	turns []*LLMTurn
	calls int
	seen  [][]LLMMessage
	err   error
}

func (f *fakeLLM) CreateMessage(ctx context.Context, system string, messages []LLMMessage, tools []ToolDefinition) (*LLMTurn, error) {
	f.seen = append(f.seen, messages)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.turns) {
		return &LLMTurn{Text: "fallback"}, nil
	}
	turn := f.turns[f.calls]
	f.calls++
	return turn, nil
}

type fakeTool struct {
	name    string
	execute func(ctx context.Context, input string) (string, error)
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "test tool " + f.name }
func (f *fakeTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }

func (f *fakeTool) Execute(ctx context.Context, input string) (string, error) {
	if f.execute != nil {
		return f.execute(ctx, input)
	}
	return `{"status":"ok"}`, nil
}

// recordingCallbacks 记录回调触发序列
type recordingCallbacks struct {
	events []string
	final  string
}

func (r *recordingCallbacks) OnLLMStart(ctx context.Context) { r.events = append(r.events, "llm_start") }
func (r *recordingCallbacks) OnLLMEnd(ctx context.Context, text string, in, out int) {
	r.events = append(r.events, "llm_end")
}
func (r *recordingCallbacks) OnAgentAction(ctx context.Context, thought, tool string, input map[string]any) {
	r.events = append(r.events, "action:"+tool)
}
func (r *recordingCallbacks) OnToolStart(ctx context.Context, tool string, input map[string]any) {
	r.events = append(r.events, "tool_start:"+tool)
}
func (r *recordingCallbacks) OnToolEnd(ctx context.Context, output string) {
	r.events = append(r.events, "tool_end")
}
func (r *recordingCallbacks) OnToolError(ctx context.Context, err error) {
	r.events = append(r.events, "tool_error")
}
func (r *recordingCallbacks) StoreFinalResponse(ctx context.Context, finalResponse string) error {
	r.final = finalResponse
	return nil
}

func TestExecute_DirectAnswerWithoutTools(t *testing.T) {
	llm := &fakeLLM{turns: []*LLMTurn{{Text: "Here is your answer."}}}
	exec := NewAgentExecutor(llm, nil, "system", 0, log.DefaultLogger)
	cb := &recordingCallbacks{}

	response, err := exec.Execute(context.Background(), "hello", nil, cb)

	require.NoError(t, err)
	assert.Equal(t, "Here is your answer.", response)
	assert.Equal(t, []string{"llm_start", "llm_end"}, cb.events)
}

func TestExecute_ToolCallLoop(t *testing.T) {
	llm := &fakeLLM{turns: []*LLMTurn{
		{
			Text: "I need to look up the case first.",
			ToolCalls: []LLMToolCall{
				{ID: "tu-1", Name: "lookup_case_by_name", Input: map[string]any{"client_name": "Camren"}},
			},
		},
		{Text: "Found the case and sent the reminder."},
	}}

	var toolInput string
	tool := &fakeTool{
		name: "lookup_case_by_name",
		execute: func(ctx context.Context, input string) (string, error) {
			toolInput = input
			return `{"status":"success"}`, nil
		},
	}
	exec := NewAgentExecutor(llm, []Tool{tool}, "system", 0, log.DefaultLogger)
	cb := &recordingCallbacks{}

	response, err := exec.Execute(context.Background(), "send Camren his reminder", nil, cb)

	require.NoError(t, err)
	assert.Equal(t, "Found the case and sent the reminder.", response)
	assert.Equal(t, []string{
		"llm_start", "llm_end",
		"action:lookup_case_by_name", "tool_start:lookup_case_by_name", "tool_end",
		"llm_start", "llm_end",
	}, cb.events)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolInput), &parsed))
	assert.Equal(t, "Camren", parsed["client_name"])

	// 第二轮请求必须携带assistant工具调用与tool_result
	require.Len(t, llm.seen, 2)
	second := llm.seen[1]
	require.Len(t, second, 3)
	assert.Equal(t, "assistant", second[1].Role)
	require.Len(t, second[2].ToolResults, 1)
	assert.Equal(t, "tu-1", second[2].ToolResults[0].ToolCallID)
	assert.Equal(t, `{"status":"success"}`, second[2].ToolResults[0].Content)
}

func TestExecute_ToolErrorFedBackToModel(t *testing.T) {
	llm := &fakeLLM{turns: []*LLMTurn{
		{ToolCalls: []LLMToolCall{{ID: "tu-1", Name: "send_email", Input: map[string]any{}}}},
		{Text: "Could not send the email."},
	}}
	tool := &fakeTool{
		name: "send_email",
		execute: func(ctx context.Context, input string) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}
	exec := NewAgentExecutor(llm, []Tool{tool}, "system", 0, log.DefaultLogger)
	cb := &recordingCallbacks{}

	response, err := exec.Execute(context.Background(), "send it", nil, cb)

	require.NoError(t, err)
	assert.Equal(t, "Could not send the email.", response)
	assert.Contains(t, cb.events, "tool_error")

	second := llm.seen[1]
	result := second[len(second)-1].ToolResults[0]
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "backend unavailable")
}

func TestExecute_UnknownToolReportsError(t *testing.T) {
	llm := &fakeLLM{turns: []*LLMTurn{
		{ToolCalls: []LLMToolCall{{ID: "tu-1", Name: "no_such_tool", Input: map[string]any{}}}},
		{Text: "done"},
	}}
	exec := NewAgentExecutor(llm, nil, "system", 0, log.DefaultLogger)
	cb := &recordingCallbacks{}

	_, err := exec.Execute(context.Background(), "go", nil, cb)

	require.NoError(t, err)
	result := llm.seen[1][len(llm.seen[1])-1].ToolResults[0]
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "unknown tool")
}

func TestExecute_MaxIterationsReturnsLastText(t *testing.T) {
	// 模型每轮都要求调工具，永不收敛
	loopTurn := &LLMTurn{
		Text:      "still working",
		ToolCalls: []LLMToolCall{{ID: "tu", Name: "noop", Input: map[string]any{}}},
	}
	llm := &fakeLLM{turns: []*LLMTurn{loopTurn, loopTurn, loopTurn}}
	exec := NewAgentExecutor(llm, []Tool{&fakeTool{name: "noop"}}, "system", 3, log.DefaultLogger)
	cb := &recordingCallbacks{}

	response, err := exec.Execute(context.Background(), "go", nil, cb)

	require.NoError(t, err)
	assert.Equal(t, "still working", response)
	assert.Equal(t, 3, llm.calls)
}

func TestExecute_LLMErrorPropagates(t *testing.T) {
	llm := &fakeLLM{err: errors.New("overloaded_error: upstream busy")}
	exec := NewAgentExecutor(llm, nil, "system", 0, log.DefaultLogger)

	_, err := exec.Execute(context.Background(), "go", nil, &recordingCallbacks{})

	require.Error(t, err)

	message, errorType, suggestion := ClassifyAgentError(err)
	assert.Equal(t, "ProviderOverloaded", errorType)
	assert.NotEmpty(t, message)
	assert.NotEmpty(t, suggestion)
}

func TestClassifyAgentError(t *testing.T) {
	tests := []struct {
		err      string
		wantType string
	}{
		{"request timeout after 30s", "Timeout"},
		{"context deadline exceeded", "Timeout"},
		{"anthropic: overloaded_error", "ProviderOverloaded"},
		{"rate limit exceeded", "RateLimited"},
		{"something else broke", "ExecutionError"},
	}
	for _, tt := range tests {
		_, errorType, _ := ClassifyAgentError(errors.New(tt.err))
		assert.Equal(t, tt.wantType, errorType, tt.err)
	}
}
