package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
)

// CreateCaseTool 创建新案件并自动发送首封文档请求邮件
type CreateCaseTool struct {
	cases     biz.CaseRepo
	emails    biz.EmailSender
	templates EmailTemplates
	dryRun    bool
	log       *log.Helper
}

func NewCreateCaseTool(cases biz.CaseRepo, emails biz.EmailSender, templates EmailTemplates, dryRun bool, logger log.Logger) *CreateCaseTool {
	return &CreateCaseTool{
		cases:     cases,
		emails:    emails,
		templates: templates,
		dryRun:    dryRun,
		log:       log.NewHelper(logger),
	}
}

func (t *CreateCaseTool) Name() string { return "create_case" }

func (t *CreateCaseTool) Description() string {
	return "Create a new case for a client. Input: JSON with client_name, client_email, " +
		"documents_requested (REQUIRED: string or array of document names), client_phone (optional)"
}

func (t *CreateCaseTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"client_name":  stringProp("Client full name"),
		"client_email": stringProp("Client email address"),
		"client_phone": stringProp("Client phone number (optional)"),
		"documents_requested": map[string]any{
			"description": "Document names to request, as a string (comma/semicolon/newline separated) or array of strings",
		},
	}, "client_name", "client_email", "documents_requested")
}

func (t *CreateCaseTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		ClientName         string `json:"client_name"`
		ClientEmail        string `json:"client_email"`
		ClientPhone        string `json:"client_phone"`
		DocumentsRequested any    `json:"documents_requested"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("case creation failed: %w", err)
	}
	if args.ClientName == "" || args.ClientEmail == "" {
		return "", fmt.Errorf("case creation failed: client_name and client_email are required")
	}
	if args.DocumentsRequested == nil {
		return "", fmt.Errorf("documents_requested is required - this is a document collection platform")
	}

	docNames := splitDocumentNames(args.DocumentsRequested)
	if len(docNames) == 0 {
		return "", fmt.Errorf("at least one document must be requested - this is a document collection platform")
	}

	t.log.WithContext(ctx).Infof("creating new case for client %s (%s)", args.ClientName, args.ClientEmail)

	requestedDocuments := make([]domain.RequestedDocument, 0, len(docNames))
	for _, name := range docNames {
		requestedDocuments = append(requestedDocuments, domain.RequestedDocument{
			DocumentName: name,
			Description:  "Required document: " + name,
		})
	}

	created, err := t.cases.CreateCase(ctx, &domain.Case{
		ClientName:         args.ClientName,
		ClientEmail:        args.ClientEmail,
		ClientPhone:        args.ClientPhone,
		RequestedDocuments: requestedDocuments,
	})
	if err != nil {
		return "", fmt.Errorf("case creation failed: %w", err)
	}

	t.log.WithContext(ctx).Infof("created case %s for %s", created.CaseID, args.ClientName)

	template, ok := t.templates["initial_reminder"]
	if !ok {
		t.log.WithContext(ctx).Warn("no initial email template found, case created without email")
		return jsonResult(map[string]any{
			"status":              "success",
			"case_id":             created.CaseID,
			"client_name":         args.ClientName,
			"client_email":        args.ClientEmail,
			"client_phone":        args.ClientPhone,
			"requested_documents": requestedDocuments,
			"email_sent":          false,
			"warning":             "No email template available",
		})
	}

	bullets := make([]string, 0, len(docNames))
	for _, name := range docNames {
		bullets = append(bullets, "• "+name)
	}
	subject, body := template.Render(args.ClientName, strings.Join(bullets, "\n"))

	if t.dryRun {
		return jsonResult(map[string]any{
			"status":              "success",
			"case_id":             created.CaseID,
			"client_name":         args.ClientName,
			"client_email":        args.ClientEmail,
			"client_phone":        args.ClientPhone,
			"requested_documents": requestedDocuments,
			"email_sent":          false,
			"message":             "[DRY RUN] Initial email queued but not sent.",
		})
	}

	messageID, err := t.emails.SendEmail(ctx, created.CaseID, args.ClientEmail, subject, body,
		strings.ReplaceAll(body, "\n", "<br>"))
	if err != nil {
		return "", fmt.Errorf("case creation failed: initial email not sent: %w", err)
	}

	t.log.WithContext(ctx).Infof("sent initial email to %s (message id %s)", args.ClientName, messageID)

	return jsonResult(map[string]any{
		"status":              "success",
		"case_id":             created.CaseID,
		"client_name":         args.ClientName,
		"client_email":        args.ClientEmail,
		"client_phone":        args.ClientPhone,
		"requested_documents": requestedDocuments,
		"email_sent":          true,
		"email_message_id":    messageID,
	})
}

// splitDocumentNames 把字符串或数组形式的文档请求规整成名称列表。
// 字符串按逗号、分号与换行切分。
func splitDocumentNames(raw any) []string {
	var names []string
	switch v := raw.(type) {
	case string:
		normalized := strings.NewReplacer(",", "\n", ";", "\n").Replace(v)
		for _, part := range strings.Split(normalized, "\n") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				names = append(names, trimmed)
			}
		}
	case []any:
		for _, item := range v {
			if trimmed := strings.TrimSpace(fmt.Sprint(item)); trimmed != "" {
				names = append(names, trimmed)
			}
		}
	default:
		if trimmed := strings.TrimSpace(fmt.Sprint(v)); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
