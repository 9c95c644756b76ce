package mailqueue

import (
	"fmt"
	"html/template"
	"strings"
)

// TemplateRenderer is a minimal domain.EmailRenderer backed by named
// html/template pairs. The production web application supplies richer
// templates; this covers the notification emails this service originates.
type TemplateRenderer struct {
	subjects map[string]*template.Template
	bodies   map[string]*template.Template
}

// EmailTemplate is one registered template pair.
type EmailTemplate struct {
	Name    string
	Subject string
	Body    string
}

func NewTemplateRenderer(templates []EmailTemplate) (*TemplateRenderer, error) {
	r := &TemplateRenderer{
		subjects: make(map[string]*template.Template),
		bodies:   make(map[string]*template.Template),
	}
	for _, t := range templates {
		subject, err := template.New(t.Name + ":subject").Parse(t.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse subject template %q: %w", t.Name, err)
		}
		body, err := template.New(t.Name + ":body").Parse(t.Body)
		if err != nil {
			return nil, fmt.Errorf("parse body template %q: %w", t.Name, err)
		}
		r.subjects[t.Name] = subject
		r.bodies[t.Name] = body
	}
	return r, nil
}

func (r *TemplateRenderer) Render(name string, data map[string]any) (string, string, error) {
	subjectTmpl, ok := r.subjects[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}

	var subject, body strings.Builder
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject %q: %w", name, err)
	}
	if err := r.bodies[name].Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body %q: %w", name, err)
	}
	return subject.String(), body.String(), nil
}

// DefaultTemplates are the notification emails used when the hosting
// application does not inject its own renderer.
func DefaultTemplates() []EmailTemplate {
	return []EmailTemplate{
		{
			Name:    "notification",
			Subject: "{{.title}}",
			Body:    "<h2>{{.title}}</h2><p>{{.message}}</p>",
		},
		{
			Name:    "booking_status",
			Subject: "Your repair booking update",
			Body:    "<h2>Booking update</h2><p>{{.message}}</p><p>Reference: {{.bookingRef}}</p>",
		},
		{
			Name:    "payment_confirmed",
			Subject: "Payment received",
			Body:    "<h2>Payment received</h2><p>{{.message}}</p><p>Amount: {{.amount}}</p>",
		},
	}
}
