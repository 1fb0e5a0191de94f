package domain

import "errors"

// 调用方误用类错误：向上抛出，不重试
var (
	// ErrConversationNotFound 指定的对话不存在
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrConversationNotActive 对话已结束或归档，不能继续追加
	ErrConversationNotActive = errors.New("conversation is not active")
	// ErrAgentTypeMismatch 对话归属的Agent类型与请求不符
	ErrAgentTypeMismatch = errors.New("conversation agent type mismatch")
	// ErrCaseNotFound 案件不存在
	ErrCaseNotFound = errors.New("case not found")
)

// 流式协调相关错误
var (
	// ErrStreamExists 同一工作流重复注册
	ErrStreamExists = errors.New("stream already exists for workflow")
	// ErrNoActiveStream 工作流没有注册的流
	ErrNoActiveStream = errors.New("no active stream for workflow")
)
