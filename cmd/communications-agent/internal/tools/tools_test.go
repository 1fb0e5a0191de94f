package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
)

type fakeCaseRepo struct {
	SearchCasesByNameFunc           func(ctx context.Context, clientName string, status domain.CaseStatus, fuzzyThreshold float64) ([]*domain.Case, error)
	GetCaseWithDocumentsFunc        func(ctx context.Context, caseID string) (*domain.Case, error)
	CreateCaseFunc                  func(ctx context.Context, c *domain.Case) (*domain.Case, error)
	UpdateDocumentFunc              func(ctx context.Context, docID string, update *domain.DocumentUpdate) error
	UpdateCaseLastCommunicationFunc func(ctx context.Context, caseID string, at time.Time) error
	GetPendingReminderCasesFunc     func(ctx context.Context) ([]*domain.Case, error)
}

func (f *fakeCaseRepo) SearchCasesByName(ctx context.Context, clientName string, status domain.CaseStatus, fuzzyThreshold float64) ([]*domain.Case, error) {
	if f.SearchCasesByNameFunc != nil {
		return f.SearchCasesByNameFunc(ctx, clientName, status, fuzzyThreshold)
	}
	return nil, nil
}

func (f *fakeCaseRepo) GetCaseWithDocuments(ctx context.Context, caseID string) (*domain.Case, error) {
	if f.GetCaseWithDocumentsFunc != nil {
		return f.GetCaseWithDocumentsFunc(ctx, caseID)
	}
	return nil, domain.ErrCaseNotFound
}

func (f *fakeCaseRepo) CreateCase(ctx context.Context, c *domain.Case) (*domain.Case, error) {
	if f.CreateCaseFunc != nil {
		return f.CreateCaseFunc(ctx, c)
	}
	return c, nil
}

func (f *fakeCaseRepo) UpdateDocument(ctx context.Context, docID string, update *domain.DocumentUpdate) error {
	if f.UpdateDocumentFunc != nil {
		return f.UpdateDocumentFunc(ctx, docID, update)
	}
	return nil
}

func (f *fakeCaseRepo) UpdateCaseLastCommunication(ctx context.Context, caseID string, at time.Time) error {
	if f.UpdateCaseLastCommunicationFunc != nil {
		return f.UpdateCaseLastCommunicationFunc(ctx, caseID, at)
	}
	return nil
}

func (f *fakeCaseRepo) GetPendingReminderCases(ctx context.Context) ([]*domain.Case, error) {
	if f.GetPendingReminderCasesFunc != nil {
		return f.GetPendingReminderCasesFunc(ctx)
	}
	return nil, nil
}

type fakeEmailSender struct {
	sent []sentEmail
	err  error
}

type sentEmail struct {
	caseID, recipient, subject, body string
}

func (f *fakeEmailSender) SendEmail(ctx context.Context, caseID, recipient, subject, body, htmlBody string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentEmail{caseID: caseID, recipient: recipient, subject: subject, body: body})
	return "msg-123", nil
}

func testTemplates() EmailTemplates {
	templates := EmailTemplates{
		"initial_reminder": {
			Subject: "Document Request for {client_name}",
			Body:    "Dear {client_name},\n\nPlease provide:\n{requested_documents}\n\nThank you.",
		},
		"follow_up_reminder": {
			Subject: "Reminder: Outstanding Documents for {client_name}",
			Body:    "Dear {client_name},\n\nWe are still waiting on:\n{requested_documents}\n\nThank you.",
		},
		"urgent_reminder": {
			Subject: "URGENT: Documents Needed for {client_name}",
			Body:    "Dear {client_name},\n\nWe urgently need:\n{requested_documents}",
		},
	}
	templates["initial_document_request"] = templates["initial_reminder"]
	templates["initial_contact"] = templates["initial_reminder"]
	return templates
}

func testCase() *domain.Case {
	return &domain.Case{
		CaseID:      "case-1",
		ClientName:  "Camren Hall",
		ClientEmail: "camren@example.com",
		Status:      domain.CaseStatusOpen,
		CreatedAt:   time.Now(),
		RequestedDocuments: []domain.RequestedDocument{
			{RequestedDocID: "doc-1", DocumentName: "W-2 Form", Description: "Required document: W-2 Form"},
			{RequestedDocID: "doc-2", DocumentName: "Bank Statement", Description: "Last 3 months", IsCompleted: true},
		},
	}
}

func TestNormalizeEmailType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"initial_document_request", "initial_reminder"},
		{"initial_contact", "initial_reminder"},
		{"initial", "initial_reminder"},
		{"followup", "follow_up_reminder"},
		{"follow_up", "follow_up_reminder"},
		{"reminder", "follow_up_reminder"},
		{"urgent", "urgent_reminder"},
		{"urgent_request", "urgent_reminder"},
		{"", "initial_reminder"},
		{"initial_reminder", "initial_reminder"},
		{"custom_type", "custom_type"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeEmailType(tt.in), tt.in)
	}
}

func TestContextualDocumentList(t *testing.T) {
	docs := testCase().RequestedDocuments

	t.Run("follow up thanks for completed documents", func(t *testing.T) {
		list := contextualDocumentList("follow_up_reminder", docs)
		assert.Contains(t, list, "• W-2 Form")
		assert.NotContains(t, list, "• Bank Statement")
		assert.Contains(t, list, "Thank you for already providing: Bank Statement")
	})

	t.Run("initial shows pending only without thanks", func(t *testing.T) {
		list := contextualDocumentList("initial_reminder", docs)
		assert.Contains(t, list, "• W-2 Form")
		assert.NotContains(t, list, "Thank you for already providing")
	})

	t.Run("custom description included", func(t *testing.T) {
		list := contextualDocumentList("follow_up_reminder", []domain.RequestedDocument{
			{DocumentName: "Bank Statement", Description: "Last 3 months"},
		})
		assert.Contains(t, list, "• Bank Statement - Last 3 months")
	})

	t.Run("empty list", func(t *testing.T) {
		assert.Equal(t, "No specific documents listed", contextualDocumentList("initial_reminder", nil))
	})
}

func TestSplitDocumentNames(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"comma separated", "W-2, Bank Statement,Tax Return", []string{"W-2", "Bank Statement", "Tax Return"}},
		{"semicolons and newlines", "W-2; Bank Statement\nTax Return", []string{"W-2", "Bank Statement", "Tax Return"}},
		{"array", []any{"W-2", " Bank Statement "}, []string{"W-2", "Bank Statement"}},
		{"empty entries dropped", ",, W-2 ,", []string{"W-2"}},
		{"blank string", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitDocumentNames(tt.in))
		})
	}
}

func TestCaseLookupTool_SingleMatchProceeds(t *testing.T) {
	repo := &fakeCaseRepo{
		SearchCasesByNameFunc: func(ctx context.Context, clientName string, status domain.CaseStatus, threshold float64) ([]*domain.Case, error) {
			if status == domain.CaseStatusOpen {
				return []*domain.Case{testCase()}, nil
			}
			return nil, nil
		},
	}
	tool := NewCaseLookupTool(biz.NewNameResolver(repo, log.DefaultLogger), log.DefaultLogger)

	output, err := tool.Execute(context.Background(), `{"client_name":"Camren"}`)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "success", result["status"])
	assert.Equal(t, "proceed_with_case", result["action"])
	assert.GreaterOrEqual(t, result["confidence"], float64(85))
}

func TestCaseLookupTool_NoMatchesSuggestsNewCase(t *testing.T) {
	repo := &fakeCaseRepo{}
	tool := NewCaseLookupTool(biz.NewNameResolver(repo, log.DefaultLogger), log.DefaultLogger)

	output, err := tool.Execute(context.Background(), `{"client_name":"Nobody"}`)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "no_matches", result["status"])
	assert.Equal(t, "suggest_new_case", result["action"])
}

func TestVerifyCaseTool_CompletionRate(t *testing.T) {
	repo := &fakeCaseRepo{
		GetCaseWithDocumentsFunc: func(ctx context.Context, caseID string) (*domain.Case, error) {
			return testCase(), nil
		},
	}
	tool := NewVerifyCaseTool(repo, log.DefaultLogger)

	output, err := tool.Execute(context.Background(), `{"case_id":"case-1"}`)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "confirmed", result["verification_status"])

	summary := result["document_summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["total_documents"])
	assert.Equal(t, float64(1), summary["completed"])
	assert.Equal(t, "50.0%", summary["completion_rate"])

	assert.Contains(t, result["verification_message"], "Camren Hall")
}

func TestVerifyCaseTool_FailureIsStructured(t *testing.T) {
	repo := &fakeCaseRepo{
		GetCaseWithDocumentsFunc: func(ctx context.Context, caseID string) (*domain.Case, error) {
			return nil, domain.ErrCaseNotFound
		},
	}
	tool := NewVerifyCaseTool(repo, log.DefaultLogger)

	output, err := tool.Execute(context.Background(), `{"case_id":"missing"}`)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "failed", result["verification_status"])
}

func TestSendEmailTool_RequiresFields(t *testing.T) {
	tool := NewSendEmailTool(&fakeEmailSender{}, false, log.DefaultLogger)

	_, err := tool.Execute(context.Background(), `{"recipient_email":"a@b.com","subject":"s","body":"b"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case_id is required")
}

func TestSendEmailTool_DryRunSkipsSend(t *testing.T) {
	sender := &fakeEmailSender{}
	tool := NewSendEmailTool(sender, true, log.DefaultLogger)

	output, err := tool.Execute(context.Background(),
		`{"recipient_email":"a@b.com","subject":"s","body":"b","case_id":"case-1"}`)
	require.NoError(t, err)
	assert.Contains(t, output, "dry_run")
	assert.Empty(t, sender.sent)
}

func TestComposeAndSendTool_SendsAndUpdatesCommunicationDate(t *testing.T) {
	var updatedCase string
	repo := &fakeCaseRepo{
		GetCaseWithDocumentsFunc: func(ctx context.Context, caseID string) (*domain.Case, error) {
			return testCase(), nil
		},
		UpdateCaseLastCommunicationFunc: func(ctx context.Context, caseID string, at time.Time) error {
			updatedCase = caseID
			return nil
		},
	}
	sender := &fakeEmailSender{}
	tool := NewComposeAndSendTool(repo, sender, testTemplates(), false, log.DefaultLogger)

	output, err := tool.Execute(context.Background(), `{"case_id":"case-1","email_type":"follow_up"}`)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "composed_and_sent", result["status"])
	assert.Equal(t, "follow_up_reminder", result["email_type"])
	assert.Equal(t, "msg-123", result["message_id"])

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "camren@example.com", sender.sent[0].recipient)
	assert.Contains(t, sender.sent[0].subject, "Camren Hall")
	assert.Contains(t, sender.sent[0].body, "• W-2 Form")
	assert.Contains(t, sender.sent[0].body, "Thank you for already providing: Bank Statement")
	assert.Equal(t, "case-1", updatedCase)
}

func TestComposeEmailTool_RendersTemplate(t *testing.T) {
	repo := &fakeCaseRepo{
		GetCaseWithDocumentsFunc: func(ctx context.Context, caseID string) (*domain.Case, error) {
			return testCase(), nil
		},
	}
	tool := NewComposeEmailTool(repo, testTemplates(), log.DefaultLogger)

	output, err := tool.Execute(context.Background(), `{"case_id":"case-1","email_type":"initial"}`)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "initial_reminder", result["email_type"])
	assert.Equal(t, "camren@example.com", result["recipient"])
	assert.Contains(t, result["subject"], "Camren Hall")
	assert.Contains(t, result["body"], "• W-2 Form")
	assert.Contains(t, result["html_body"], "<br>")
}

func TestCreateCaseTool_CreatesAndSendsInitialEmail(t *testing.T) {
	var created *domain.Case
	repo := &fakeCaseRepo{
		CreateCaseFunc: func(ctx context.Context, c *domain.Case) (*domain.Case, error) {
			created = c
			out := *c
			out.CaseID = "case-new"
			return &out, nil
		},
	}
	sender := &fakeEmailSender{}
	tool := NewCreateCaseTool(repo, sender, testTemplates(), false, log.DefaultLogger)

	output, err := tool.Execute(context.Background(),
		`{"client_name":"Sarah Lee","client_email":"sarah@example.com","documents_requested":"W-2, Pay Stub"}`)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "success", result["status"])
	assert.Equal(t, "case-new", result["case_id"])
	assert.Equal(t, true, result["email_sent"])
	assert.Equal(t, "msg-123", result["email_message_id"])

	require.NotNil(t, created)
	require.Len(t, created.RequestedDocuments, 2)
	assert.Equal(t, "W-2", created.RequestedDocuments[0].DocumentName)
	assert.Equal(t, "Required document: W-2", created.RequestedDocuments[0].Description)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "case-new", sender.sent[0].caseID)
	assert.Contains(t, sender.sent[0].body, "• Pay Stub")
}

func TestCreateCaseTool_RequiresDocuments(t *testing.T) {
	tool := NewCreateCaseTool(&fakeCaseRepo{}, &fakeEmailSender{}, testTemplates(), false, log.DefaultLogger)

	_, err := tool.Execute(context.Background(),
		`{"client_name":"Sarah Lee","client_email":"sarah@example.com"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "documents_requested is required")

	_, err = tool.Execute(context.Background(),
		`{"client_name":"Sarah Lee","client_email":"sarah@example.com","documents_requested":"  "}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one document")
}

func TestUpdateDocumentTool_PartialUpdate(t *testing.T) {
	var gotID string
	var gotUpdate *domain.DocumentUpdate
	repo := &fakeCaseRepo{
		UpdateDocumentFunc: func(ctx context.Context, docID string, update *domain.DocumentUpdate) error {
			gotID = docID
			gotUpdate = update
			return nil
		},
	}
	tool := NewUpdateDocumentTool(repo, log.DefaultLogger)

	output, err := tool.Execute(context.Background(),
		`{"requested_doc_id":"doc-1","is_completed":true,"notes":"received via portal"}`)
	require.NoError(t, err)

	assert.Equal(t, "doc-1", gotID)
	require.NotNil(t, gotUpdate.IsCompleted)
	assert.True(t, *gotUpdate.IsCompleted)
	require.NotNil(t, gotUpdate.Notes)
	assert.Equal(t, "received via portal", *gotUpdate.Notes)
	assert.Nil(t, gotUpdate.DocumentName)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	updated := result["updated_fields"].(map[string]any)
	assert.Equal(t, true, updated["is_completed"])
	assert.NotContains(t, updated, "document_name")
}

func TestPendingRemindersTool(t *testing.T) {
	repo := &fakeCaseRepo{
		GetPendingReminderCasesFunc: func(ctx context.Context) ([]*domain.Case, error) {
			return []*domain.Case{testCase()}, nil
		},
	}
	tool := NewPendingRemindersTool(repo, log.DefaultLogger)

	output, err := tool.Execute(context.Background(), `{}`)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, float64(1), result["total_cases_needing_reminders"])
}

func TestPendingRemindersTool_Error(t *testing.T) {
	repo := &fakeCaseRepo{
		GetPendingReminderCasesFunc: func(ctx context.Context) ([]*domain.Case, error) {
			return nil, errors.New("backend unavailable")
		},
	}
	tool := NewPendingRemindersTool(repo, log.DefaultLogger)

	_, err := tool.Execute(context.Background(), `{}`)
	require.Error(t, err)
}

func TestNewToolset_RegistersAllTools(t *testing.T) {
	toolset := NewToolset(Deps{
		Cases:     &fakeCaseRepo{},
		Emails:    &fakeEmailSender{},
		Resolver:  biz.NewNameResolver(&fakeCaseRepo{}, log.DefaultLogger),
		Templates: testTemplates(),
		Logger:    log.DefaultLogger,
	})

	names := map[string]bool{}
	for _, tool := range toolset {
		names[tool.Name()] = true
		assert.NotEmpty(t, tool.Description())
		assert.NotNil(t, tool.InputSchema())
	}
	for _, want := range []string{
		"lookup_case_by_name", "get_case_analysis", "verify_case_details",
		"request_user_clarification", "compose_email", "send_email",
		"compose_and_send_email", "create_case", "update_document_status",
		"get_document_status", "get_pending_reminders",
	} {
		assert.True(t, names[want], want)
	}
}
