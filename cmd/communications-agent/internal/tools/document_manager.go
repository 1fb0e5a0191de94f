package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
)

// UpdateDocumentTool 更新单个请求文档的状态字段
type UpdateDocumentTool struct {
	cases biz.CaseRepo
	log   *log.Helper
}

func NewUpdateDocumentTool(cases biz.CaseRepo, logger log.Logger) *UpdateDocumentTool {
	return &UpdateDocumentTool{cases: cases, log: log.NewHelper(logger)}
}

func (t *UpdateDocumentTool) Name() string { return "update_document_status" }

func (t *UpdateDocumentTool) Description() string {
	return "Update status of a requested document. Input: JSON with requested_doc_id, and optional fields: " +
		"document_name, description, is_completed, is_flagged_for_review, notes"
}

func (t *UpdateDocumentTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"requested_doc_id":      stringProp("Requested document ID (UUID)"),
		"document_name":         stringProp("New document name (optional)"),
		"description":           stringProp("New description (optional)"),
		"is_completed":          map[string]any{"type": "boolean", "description": "Mark document as completed"},
		"is_flagged_for_review": map[string]any{"type": "boolean", "description": "Flag document for attorney review"},
		"notes":                 stringProp("Free-form notes (optional)"),
	}, "requested_doc_id")
}

func (t *UpdateDocumentTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		RequestedDocID     string  `json:"requested_doc_id"`
		DocumentName       *string `json:"document_name"`
		Description        *string `json:"description"`
		IsCompleted        *bool   `json:"is_completed"`
		IsFlaggedForReview *bool   `json:"is_flagged_for_review"`
		Notes              *string `json:"notes"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("document update failed: %w", err)
	}
	if args.RequestedDocID == "" {
		return "", fmt.Errorf("document update failed: requested_doc_id is required")
	}

	update := &domain.DocumentUpdate{
		DocumentName:       args.DocumentName,
		Description:        args.Description,
		IsCompleted:        args.IsCompleted,
		IsFlaggedForReview: args.IsFlaggedForReview,
		Notes:              args.Notes,
	}

	updatedFields := map[string]any{}
	if args.DocumentName != nil {
		updatedFields["document_name"] = *args.DocumentName
	}
	if args.Description != nil {
		updatedFields["description"] = *args.Description
	}
	if args.IsCompleted != nil {
		updatedFields["is_completed"] = *args.IsCompleted
	}
	if args.IsFlaggedForReview != nil {
		updatedFields["is_flagged_for_review"] = *args.IsFlaggedForReview
	}
	if args.Notes != nil {
		updatedFields["notes"] = *args.Notes
	}

	t.log.WithContext(ctx).Infof("updating document %s: %v", args.RequestedDocID, updatedFields)

	if err := t.cases.UpdateDocument(ctx, args.RequestedDocID, update); err != nil {
		return "", fmt.Errorf("document update failed: %w", err)
	}

	return jsonResult(map[string]any{
		"status":           "success",
		"requested_doc_id": args.RequestedDocID,
		"updated_fields":   updatedFields,
	})
}

// DocumentStatusTool 查询案件的文档收集进度
type DocumentStatusTool struct {
	cases biz.CaseRepo
	log   *log.Helper
}

func NewDocumentStatusTool(cases biz.CaseRepo, logger log.Logger) *DocumentStatusTool {
	return &DocumentStatusTool{cases: cases, log: log.NewHelper(logger)}
}

func (t *DocumentStatusTool) Name() string { return "get_document_status" }

func (t *DocumentStatusTool) Description() string {
	return "Get detailed document status for a case. Input: case_id"
}

func (t *DocumentStatusTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"case_id": stringProp("Case ID (UUID)"),
	}, "case_id")
}

func (t *DocumentStatusTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		CaseID string `json:"case_id"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("document status retrieval failed: %w", err)
	}
	if args.CaseID == "" {
		return "", fmt.Errorf("document status retrieval failed: case_id is required")
	}

	caseData, err := t.cases.GetCaseWithDocuments(ctx, args.CaseID)
	if err != nil {
		return "", fmt.Errorf("document status retrieval failed: %w", err)
	}

	totalDocs := len(caseData.RequestedDocuments)
	completedDocs := 0
	flaggedDocs := 0
	for _, doc := range caseData.RequestedDocuments {
		if doc.IsCompleted {
			completedDocs++
		}
		if doc.IsFlaggedForReview {
			flaggedDocs++
		}
	}

	t.log.WithContext(ctx).Infof("retrieved %d documents for case %s (%d completed)", totalDocs, args.CaseID, completedDocs)

	return jsonResult(map[string]any{
		"case_id":      caseData.CaseID,
		"client_name":  caseData.ClientName,
		"client_email": caseData.ClientEmail,
		"document_summary": map[string]any{
			"total_documents":     totalDocs,
			"completed_documents": completedDocs,
			"pending_documents":   totalDocs - completedDocs,
			"flagged_for_review":  flaggedDocs,
		},
		"requested_documents": caseData.RequestedDocuments,
	})
}

// PendingRemindersTool 列出所有需要催办邮件的案件
type PendingRemindersTool struct {
	cases biz.CaseRepo
	log   *log.Helper
}

func NewPendingRemindersTool(cases biz.CaseRepo, logger log.Logger) *PendingRemindersTool {
	return &PendingRemindersTool{cases: cases, log: log.NewHelper(logger)}
}

func (t *PendingRemindersTool) Name() string { return "get_pending_reminders" }

func (t *PendingRemindersTool) Description() string {
	return "Get all cases that need reminder emails for pending documents. No input required."
}

func (t *PendingRemindersTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *PendingRemindersTool) Execute(ctx context.Context, input string) (string, error) {
	pendingCases, err := t.cases.GetPendingReminderCases(ctx)
	if err != nil {
		return "", fmt.Errorf("pending reminders retrieval failed: %w", err)
	}

	t.log.WithContext(ctx).Infof("found %d cases needing reminders", len(pendingCases))

	return jsonResult(map[string]any{
		"total_cases_needing_reminders": len(pendingCases),
		"pending_cases":                 pendingCases,
	})
}
