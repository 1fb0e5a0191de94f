package tools

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EmailTemplate 单个邮件模板；正文里用{client_name}和{requested_documents}占位
type EmailTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
	Tone    string `yaml:"tone,omitempty"`
}

// EmailTemplates 按邮件类型索引的模板集合
type EmailTemplates map[string]EmailTemplate

// LoadEmailTemplates 从YAML文件加载邮件模板。
// 模板缺失或为空是配置错误，直接失败不做兜底。
func LoadEmailTemplates(path string) (EmailTemplates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("email templates not found at %s: %w", path, err)
	}

	var raw struct {
		Templates EmailTemplates `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse email templates %s: %w", path, err)
	}
	if len(raw.Templates) == 0 {
		return nil, fmt.Errorf("email templates file %s is empty", path)
	}

	templates := raw.Templates

	// 常见别名指向同一模板
	if initial, ok := templates["initial_reminder"]; ok {
		templates["initial_document_request"] = initial
		templates["initial_contact"] = initial
	}

	return templates, nil
}

// normalizeEmailType 把模型可能产生的类型变体收敛到三个受支持的模板名
func normalizeEmailType(emailType string) string {
	switch emailType {
	case "initial_document_request", "initial_contact", "initial":
		return "initial_reminder"
	case "followup", "follow_up", "reminder":
		return "follow_up_reminder"
	case "urgent", "urgent_request":
		return "urgent_reminder"
	case "":
		return "initial_reminder"
	default:
		return emailType
	}
}

// Render 渲染模板，替换客户名与文档清单占位符
func (t EmailTemplate) Render(clientName, documentList string) (subject, body string) {
	replacer := strings.NewReplacer(
		"{client_name}", clientName,
		"{requested_documents}", documentList,
		"{documents_requested}", documentList,
	)
	return replacer.Replace(t.Subject), replacer.Replace(t.Body)
}
