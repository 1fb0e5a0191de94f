package tools

import (
	"encoding/json"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
)

// Deps 工具集依赖
type Deps struct {
	Cases     biz.CaseRepo
	Emails    biz.EmailSender
	Resolver  *biz.NameResolver
	Templates EmailTemplates
	DryRun    bool
	Logger    log.Logger
}

// NewToolset 组装通信Agent的全部工具
func NewToolset(deps Deps) []biz.Tool {
	return []biz.Tool{
		NewCaseLookupTool(deps.Resolver, deps.Logger),
		NewCaseAnalysisTool(deps.Cases, deps.Logger),
		NewVerifyCaseTool(deps.Cases, deps.Logger),
		NewClarificationTool(deps.Logger),
		NewComposeEmailTool(deps.Cases, deps.Templates, deps.Logger),
		NewSendEmailTool(deps.Emails, deps.DryRun, deps.Logger),
		NewComposeAndSendTool(deps.Cases, deps.Emails, deps.Templates, deps.DryRun, deps.Logger),
		NewCreateCaseTool(deps.Cases, deps.Emails, deps.Templates, deps.DryRun, deps.Logger),
		NewUpdateDocumentTool(deps.Cases, deps.Logger),
		NewDocumentStatusTool(deps.Cases, deps.Logger),
		NewPendingRemindersTool(deps.Cases, deps.Logger),
	}
}

// jsonResult 工具输出统一用缩进JSON，方便模型阅读
func jsonResult(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// objectSchema 构造object类型的JSON Schema
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
