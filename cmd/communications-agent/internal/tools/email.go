package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
)

// ComposeEmailTool 按案件上下文起草邮件，不发送
type ComposeEmailTool struct {
	cases     biz.CaseRepo
	templates EmailTemplates
	log       *log.Helper
}

func NewComposeEmailTool(cases biz.CaseRepo, templates EmailTemplates, logger log.Logger) *ComposeEmailTool {
	return &ComposeEmailTool{cases: cases, templates: templates, log: log.NewHelper(logger)}
}

func (t *ComposeEmailTool) Name() string { return "compose_email" }

func (t *ComposeEmailTool) Description() string {
	return "Compose email based on case context. Input: JSON with case_id, email_type " +
		"(use: initial_reminder, follow_up_reminder, or urgent_reminder)"
}

func (t *ComposeEmailTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"case_id":    stringProp("Case ID (UUID)"),
		"email_type": stringProp("One of initial_reminder, follow_up_reminder, urgent_reminder"),
	}, "case_id")
}

func (t *ComposeEmailTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		CaseID    string `json:"case_id"`
		EmailType string `json:"email_type"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("email composition failed: %w", err)
	}
	if args.CaseID == "" {
		return "", fmt.Errorf("email composition failed: case_id is required")
	}

	emailType := normalizeEmailType(args.EmailType)
	t.log.WithContext(ctx).Infof("composing %s email for case %s", emailType, args.CaseID)

	caseData, err := t.cases.GetCaseWithDocuments(ctx, args.CaseID)
	if err != nil {
		return "", fmt.Errorf("email composition failed: %w", err)
	}

	template, ok := t.templates[emailType]
	if !ok {
		// 未知类型兜底到初次提醒
		emailType = "initial_reminder"
		template, ok = t.templates[emailType]
		if !ok {
			return "", fmt.Errorf("email composition failed: template %q not available", emailType)
		}
	}

	docList := simpleDocumentList(caseData.RequestedDocuments)
	subject, body := template.Render(caseData.ClientName, docList)

	return jsonResult(map[string]any{
		"subject":    subject,
		"body":       body,
		"html_body":  strings.ReplaceAll(body, "\n", "<br>"),
		"recipient":  caseData.ClientEmail,
		"case_id":    args.CaseID,
		"email_type": emailType,
	})
}

// SendEmailTool 经后端发送已起草的邮件
type SendEmailTool struct {
	emails biz.EmailSender
	dryRun bool
	log    *log.Helper
}

func NewSendEmailTool(emails biz.EmailSender, dryRun bool, logger log.Logger) *SendEmailTool {
	return &SendEmailTool{emails: emails, dryRun: dryRun, log: log.NewHelper(logger)}
}

func (t *SendEmailTool) Name() string { return "send_email" }

func (t *SendEmailTool) Description() string {
	return "Send email via backend. Input: JSON with recipient_email, subject, body, case_id, email_type"
}

func (t *SendEmailTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"recipient_email": stringProp("Recipient email address"),
		"subject":         stringProp("Email subject"),
		"body":            stringProp("Plain-text email body"),
		"html_body":       stringProp("Optional HTML body"),
		"case_id":         stringProp("Case ID the email belongs to"),
		"email_type":      stringProp("Email type for audit purposes"),
	}, "recipient_email", "subject", "body", "case_id")
}

func (t *SendEmailTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		RecipientEmail string `json:"recipient_email"`
		Subject        string `json:"subject"`
		Body           string `json:"body"`
		HTMLBody       string `json:"html_body"`
		CaseID         string `json:"case_id"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid email input: %w", err)
	}
	for field, value := range map[string]string{
		"recipient_email": args.RecipientEmail,
		"subject":         args.Subject,
		"body":            args.Body,
		"case_id":         args.CaseID,
	} {
		if value == "" {
			return "", fmt.Errorf("%s is required", field)
		}
	}

	if t.dryRun {
		t.log.WithContext(ctx).Infof("[DRY RUN] would send email to %s for case %s", args.RecipientEmail, args.CaseID)
		return jsonResult(map[string]any{
			"status":    "dry_run",
			"recipient": args.RecipientEmail,
			"message":   "[DRY RUN] Email queued but not sent.",
		})
	}

	messageID, err := t.emails.SendEmail(ctx, args.CaseID, args.RecipientEmail, args.Subject, args.Body, args.HTMLBody)
	if err != nil {
		return "", err
	}

	return jsonResult(map[string]any{
		"status":     "sent",
		"message_id": messageID,
		"recipient":  args.RecipientEmail,
	})
}

// ComposeAndSendTool 一步完成邮件起草与发送，跟进类邮件只催未交文档
type ComposeAndSendTool struct {
	cases     biz.CaseRepo
	emails    biz.EmailSender
	templates EmailTemplates
	dryRun    bool
	log       *log.Helper
}

func NewComposeAndSendTool(cases biz.CaseRepo, emails biz.EmailSender, templates EmailTemplates, dryRun bool, logger log.Logger) *ComposeAndSendTool {
	return &ComposeAndSendTool{
		cases:     cases,
		emails:    emails,
		templates: templates,
		dryRun:    dryRun,
		log:       log.NewHelper(logger),
	}
}

func (t *ComposeAndSendTool) Name() string { return "compose_and_send_email" }

func (t *ComposeAndSendTool) Description() string {
	return "Compose and send email based on case context. Input: JSON with case_id, email_type " +
		"(use: initial_reminder, follow_up_reminder, or urgent_reminder)"
}

func (t *ComposeAndSendTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"case_id":    stringProp("Case ID (UUID)"),
		"email_type": stringProp("One of initial_reminder, follow_up_reminder, urgent_reminder"),
	}, "case_id")
}

func (t *ComposeAndSendTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		CaseID    string `json:"case_id"`
		EmailType string `json:"email_type"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("email composition and sending failed: %w", err)
	}
	if args.CaseID == "" {
		return "", fmt.Errorf("email composition and sending failed: case_id is required")
	}

	emailType := normalizeEmailType(args.EmailType)
	t.log.WithContext(ctx).Infof("composing and sending %s email for case %s", emailType, args.CaseID)

	caseData, err := t.cases.GetCaseWithDocuments(ctx, args.CaseID)
	if err != nil {
		return "", fmt.Errorf("email composition and sending failed: %w", err)
	}

	template, ok := t.templates[emailType]
	if !ok {
		return "", fmt.Errorf("email template %q not found, available: %v", emailType, templateNames(t.templates))
	}

	docList := contextualDocumentList(emailType, caseData.RequestedDocuments)
	subject, body := template.Render(caseData.ClientName, docList)

	if t.dryRun {
		return jsonResult(map[string]any{
			"status":     "dry_run",
			"recipient":  caseData.ClientEmail,
			"subject":    subject,
			"email_type": emailType,
			"case_id":    args.CaseID,
			"message":    "[DRY RUN] Email queued but not sent.",
		})
	}

	messageID, err := t.emails.SendEmail(ctx, args.CaseID, caseData.ClientEmail, subject, body,
		strings.ReplaceAll(body, "\n", "<br>"))
	if err != nil {
		return "", fmt.Errorf("email composition and sending failed: %w", err)
	}

	// 发送成功后刷新最近沟通时间，失败不影响工具结果
	if err := t.cases.UpdateCaseLastCommunication(ctx, args.CaseID, time.Now()); err != nil {
		t.log.WithContext(ctx).Warnf("failed to update last communication date for case %s: %v", args.CaseID, err)
	}

	t.log.WithContext(ctx).Infof("sent %s email to %s (message id %s)", emailType, caseData.ClientName, messageID)

	return jsonResult(map[string]any{
		"status":     "composed_and_sent",
		"message_id": messageID,
		"recipient":  caseData.ClientEmail,
		"subject":    subject,
		"email_type": emailType,
		"case_id":    args.CaseID,
	})
}

// simpleDocumentList 文档清单的项目符号列表
func simpleDocumentList(docs []domain.RequestedDocument) string {
	if len(docs) == 0 {
		return "No specific documents listed"
	}
	lines := make([]string, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, "• "+doc.DocumentName)
	}
	return strings.Join(lines, "\n")
}

// contextualDocumentList 按邮件类型生成文档清单：
// 跟进/紧急邮件只列未交文档，并感谢已交付的部分。
func contextualDocumentList(emailType string, docs []domain.RequestedDocument) string {
	if len(docs) == 0 {
		return "No specific documents listed"
	}

	var lines, completed []string
	for _, doc := range docs {
		if doc.IsCompleted {
			completed = append(completed, doc.DocumentName)
			continue
		}
		if doc.Description != "" && doc.Description != "Required document: "+doc.DocumentName {
			lines = append(lines, fmt.Sprintf("• %s - %s", doc.DocumentName, doc.Description))
		} else {
			lines = append(lines, "• "+doc.DocumentName)
		}
	}

	docList := strings.Join(lines, "\n")
	if (emailType == "follow_up_reminder" || emailType == "urgent_reminder") && len(completed) > 0 {
		docList += "\n\nThank you for already providing: " + strings.Join(completed, ", ")
	}
	return docList
}

func templateNames(templates EmailTemplates) []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	return names
}
