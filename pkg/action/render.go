package action

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
)

// Template is the raw campaign message definition. Placeholders address
// candidate fields by name ({{.name}}); {{.key}} is the candidate key.
type Template struct {
	From    string
	Subject string
	HTML    string
	Text    string
}

// Message is a rendered email.
type Message struct {
	From           string
	To             string
	Subject        string
	HTML           string
	Text           string
	IdempotencyKey string
}

// Renderer renders a Template for a candidate.
type Renderer struct {
	from    string
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// NewRenderer parses t. Subject and at least one body are required.
func NewRenderer(t Template) (*Renderer, error) {
	if strings.TrimSpace(t.From) == "" {
		return nil, fmt.Errorf("template: from is required")
	}
	if strings.TrimSpace(t.Subject) == "" {
		return nil, fmt.Errorf("template: subject is required")
	}
	if strings.TrimSpace(t.HTML) == "" && strings.TrimSpace(t.Text) == "" {
		return nil, fmt.Errorf("template: html or text body is required")
	}

	r := &Renderer{from: t.From}
	var err error
	if r.subject, err = texttemplate.New("subject").Option("missingkey=zero").Parse(t.Subject); err != nil {
		return nil, fmt.Errorf("parse subject: %w", err)
	}
	if t.Text != "" {
		if r.text, err = texttemplate.New("text").Option("missingkey=zero").Parse(t.Text); err != nil {
			return nil, fmt.Errorf("parse text body: %w", err)
		}
	}
	if t.HTML != "" {
		if r.html, err = htmltemplate.New("html").Option("missingkey=zero").Parse(t.HTML); err != nil {
			return nil, fmt.Errorf("parse html body: %w", err)
		}
	}
	return r, nil
}

// Render fills the templates from c's fields. To is left to the caller.
func (r *Renderer) Render(c candidate.Candidate) (Message, error) {
	data := make(map[string]string, len(c.Fields)+1)
	for k, v := range c.Fields {
		data[k] = v
	}
	if _, ok := data["key"]; !ok {
		data["key"] = c.Key.String()
	}

	msg := Message{From: r.from}
	var buf bytes.Buffer

	if err := r.subject.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	msg.Subject = strings.TrimSpace(buf.String())

	if r.text != nil {
		buf.Reset()
		if err := r.text.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("render text body: %w", err)
		}
		msg.Text = buf.String()
	}
	if r.html != nil {
		buf.Reset()
		if err := r.html.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("render html body: %w", err)
		}
		msg.HTML = buf.String()
	}
	return msg, nil
}
