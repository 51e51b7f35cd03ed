package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Manual intervention required]
Source: {{.Source}}
Subject: {{.Subject}}
Step: {{.Step}}
Error: {{.Reason}}
Time: {{.Time}}`

// TemplateData provides fields for rendering an alert.
type TemplateData struct {
	Source  string
	Subject string
	Step    string
	Reason  string
	Time    string
}

// Template renders alert content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses an alert template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
