package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
)

// CaseLookupTool 按客户名智能查找案件，自动处理重名消歧
type CaseLookupTool struct {
	resolver *biz.NameResolver
	log      *log.Helper
}

func NewCaseLookupTool(resolver *biz.NameResolver, logger log.Logger) *CaseLookupTool {
	return &CaseLookupTool{resolver: resolver, log: log.NewHelper(logger)}
}

func (t *CaseLookupTool) Name() string { return "lookup_case_by_name" }

func (t *CaseLookupTool) Description() string {
	return "Intelligently find a case by client name with automatic disambiguation. " +
		"Input should be the client name mentioned by the user (e.g., 'Camren', 'John Smith', 'Sarah'). " +
		"This tool will search for matching cases and either return the case details or ask for clarification " +
		"if multiple matches are found."
}

func (t *CaseLookupTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"client_name": stringProp("Client name to search for"),
	}, "client_name")
}

func (t *CaseLookupTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		ClientName string `json:"client_name"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid lookup input: %w", err)
	}
	if args.ClientName == "" {
		return "", fmt.Errorf("client_name is required")
	}

	outcome, err := t.resolver.Lookup(ctx, args.ClientName)
	if err != nil {
		return "", err
	}

	switch outcome.Status {
	case biz.LookupStatusSuccess:
		return jsonResult(map[string]any{
			"status":     outcome.Status,
			"confidence": outcome.Confidence,
			"action":     outcome.Action,
			"case":       outcome.Case,
			"message":    outcome.Message,
		})
	case biz.LookupStatusClarification:
		return jsonResult(map[string]any{
			"status":                outcome.Status,
			"confidence":            outcome.Confidence,
			"action":                outcome.Action,
			"matches":               outcome.Matches,
			"clarification_request": outcome.ClarificationRequest,
			"suggested_questions":   outcome.SuggestedQuestions,
		})
	case biz.LookupStatusClosedCases:
		return jsonResult(map[string]any{
			"status":  outcome.Status,
			"action":  outcome.Action,
			"matches": outcome.Matches,
			"message": outcome.Message,
		})
	default:
		return jsonResult(map[string]any{
			"status":  outcome.Status,
			"action":  outcome.Action,
			"message": outcome.Message,
		})
	}
}
