package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
)

// VerifyCaseTool 执行动作前核对案件详情
type VerifyCaseTool struct {
	cases biz.CaseRepo
	log   *log.Helper
}

func NewVerifyCaseTool(cases biz.CaseRepo, logger log.Logger) *VerifyCaseTool {
	return &VerifyCaseTool{cases: cases, log: log.NewHelper(logger)}
}

func (t *VerifyCaseTool) Name() string { return "verify_case_details" }

func (t *VerifyCaseTool) Description() string {
	return "Verify case details before taking any actions. Use this tool to confirm " +
		"that you have the correct case before sending emails or making updates. " +
		"Input: case_id (UUID) to verify."
}

func (t *VerifyCaseTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"case_id": stringProp("Case ID (UUID) to verify"),
	}, "case_id")
}

func (t *VerifyCaseTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		CaseID string `json:"case_id"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid verification input: %w", err)
	}

	caseData, err := t.cases.GetCaseWithDocuments(ctx, args.CaseID)
	if err != nil {
		// 核验失败以结构化结果返回，让模型决定下一步
		return jsonResult(map[string]any{
			"verification_status": "failed",
			"error":               err.Error(),
			"message":             fmt.Sprintf("Could not verify case %s. Please check the case ID and try again.", args.CaseID),
		})
	}

	totalDocs := len(caseData.RequestedDocuments)
	completedDocs := 0
	for _, doc := range caseData.RequestedDocuments {
		if doc.IsCompleted {
			completedDocs++
		}
	}

	completionRate := "0%"
	if totalDocs > 0 {
		completionRate = fmt.Sprintf("%.1f%%", float64(completedDocs)/float64(totalDocs)*100)
	}

	phone := caseData.ClientPhone
	if phone == "" {
		phone = "Not provided"
	}
	var lastCommunication any = "No previous communications"
	if caseData.LastCommunicationDate != nil {
		lastCommunication = caseData.LastCommunicationDate
	}

	return jsonResult(map[string]any{
		"verification_status": "confirmed",
		"case_details": map[string]any{
			"client_name": caseData.ClientName,
			"email":       caseData.ClientEmail,
			"phone":       phone,
			"case_status": caseData.Status,
			"created":     caseData.CreatedAt,
		},
		"document_summary": map[string]any{
			"total_documents": totalDocs,
			"completed":       completedDocs,
			"pending":         totalDocs - completedDocs,
			"completion_rate": completionRate,
		},
		"communication_status": map[string]any{
			"last_communication": lastCommunication,
		},
		"verification_message": fmt.Sprintf("Case verified for %s (%s). Ready to proceed with communications.",
			caseData.ClientName, caseData.ClientEmail),
	})
}

// ClarificationTool 案件识别有歧义时向用户求证
type ClarificationTool struct {
	log *log.Helper
}

func NewClarificationTool(logger log.Logger) *ClarificationTool {
	return &ClarificationTool{log: log.NewHelper(logger)}
}

func (t *ClarificationTool) Name() string { return "request_user_clarification" }

func (t *ClarificationTool) Description() string {
	return "Request clarification from the user when case identification is ambiguous. " +
		"Use this when multiple cases match a name or when you need additional information. " +
		"Input should be a clear question for the user with available options."
}

func (t *ClarificationTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"clarification_question": stringProp("Question to ask the user, including available options"),
	}, "clarification_question")
}

func (t *ClarificationTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Question string `json:"clarification_question"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid clarification input: %w", err)
	}

	return jsonResult(map[string]any{
		"action":   "request_clarification",
		"question": args.Question,
		"status":   "waiting_for_user_input",
		"message":  "I need additional information to proceed. Please provide clarification.",
	})
}
