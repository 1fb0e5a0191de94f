package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTemplatesYAML = `templates:
  initial_reminder:
    subject: "Document Request for {client_name}"
    tone: "Professional and warm"
    body: |
      Dear {client_name},

      Please provide the following documents:
      {requested_documents}

      Thank you.
  follow_up_reminder:
    subject: "Reminder for {client_name}"
    body: "Dear {client_name}, we are still waiting on:\n{requested_documents}"
  urgent_reminder:
    subject: "URGENT: {client_name}"
    body: "We urgently need:\n{requested_documents}"
`

func writeTemplates(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "email_templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEmailTemplates(t *testing.T) {
	templates, err := LoadEmailTemplates(writeTemplates(t, sampleTemplatesYAML))
	require.NoError(t, err)

	assert.Contains(t, templates, "initial_reminder")
	assert.Contains(t, templates, "follow_up_reminder")
	assert.Contains(t, templates, "urgent_reminder")

	// 别名指向初次提醒模板
	assert.Equal(t, templates["initial_reminder"], templates["initial_document_request"])
	assert.Equal(t, templates["initial_reminder"], templates["initial_contact"])

	assert.Equal(t, "Professional and warm", templates["initial_reminder"].Tone)
}

func TestLoadEmailTemplates_MissingFileFails(t *testing.T) {
	_, err := LoadEmailTemplates(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadEmailTemplates_EmptyFails(t *testing.T) {
	_, err := LoadEmailTemplates(writeTemplates(t, "templates: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestEmailTemplateRender(t *testing.T) {
	templates, err := LoadEmailTemplates(writeTemplates(t, sampleTemplatesYAML))
	require.NoError(t, err)

	subject, body := templates["initial_reminder"].Render("Camren Hall", "• W-2 Form\n• Bank Statement")
	assert.Equal(t, "Document Request for Camren Hall", subject)
	assert.Contains(t, body, "Dear Camren Hall,")
	assert.Contains(t, body, "• W-2 Form\n• Bank Statement")
	assert.NotContains(t, body, "{client_name}")
	assert.NotContains(t, body, "{requested_documents}")
}
