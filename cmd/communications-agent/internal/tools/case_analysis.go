package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
)

// CaseAnalysisTool 获取案件详情与沟通概况
type CaseAnalysisTool struct {
	cases biz.CaseRepo
	log   *log.Helper
}

func NewCaseAnalysisTool(cases biz.CaseRepo, logger log.Logger) *CaseAnalysisTool {
	return &CaseAnalysisTool{cases: cases, log: log.NewHelper(logger)}
}

func (t *CaseAnalysisTool) Name() string { return "get_case_analysis" }

func (t *CaseAnalysisTool) Description() string {
	return "Get case details and communication history. Input: case_id"
}

func (t *CaseAnalysisTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"case_id": stringProp("Case ID (UUID)"),
	}, "case_id")
}

func (t *CaseAnalysisTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		CaseID string `json:"case_id"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid analysis input: %w", err)
	}
	if args.CaseID == "" {
		return "", fmt.Errorf("case_id is required")
	}

	caseData, err := t.cases.GetCaseWithDocuments(ctx, args.CaseID)
	if err != nil {
		return "", err
	}

	totalEmails := 0
	if caseData.LastCommunicationDate != nil {
		totalEmails = 1
	}

	return jsonResult(map[string]any{
		"case_id":                 caseData.CaseID,
		"client_name":             caseData.ClientName,
		"client_email":            caseData.ClientEmail,
		"client_phone":            caseData.ClientPhone,
		"status":                  caseData.Status,
		"requested_documents":     caseData.RequestedDocuments,
		"last_communication_date": caseData.LastCommunicationDate,
		"communication_summary": map[string]any{
			"total_communications": totalEmails,
			"total_emails":         totalEmails,
		},
	})
}
