// Package mail renders and delivers the inactivity reminder email.
package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"net/mail"
	texttmpl "text/template"
)

const (
	// InactivityReminderSubject is the subject line of every reminder
	InactivityReminderSubject = "A Gentle Reminder to Get Back to Coding! 💪"

	// ProblemsetURL is where reminders send students
	ProblemsetURL = "https://codeforces.com/problemset"

	inactivityTemplate = "inactivity_reminder"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTemplates = htmltmpl.Must(htmltmpl.ParseFS(templateFS, "templates/*.gohtml"))
	textTemplates = texttmpl.Must(texttmpl.ParseFS(templateFS, "templates/*.txt"))
)

// Message is a single rendered email
type Message struct {
	To      mail.Address
	Subject string

	// templated contents
	TemplateName string // without ext
	TemplateData interface{}
	TextContent  string
	HTMLContent  string
}

type contextData struct {
	FrontendBaseURL string
	Data            interface{}
}

type reminderData struct {
	Name          string
	InactiveDays  int
	ProblemsetURL string
}

// NewInactivityReminder builds the reminder for one student. frontendURL may
// be empty, in which case the dashboard link is left out.
func NewInactivityReminder(name, email, frontendURL string, inactiveDays int) *Message {
	return &Message{
		To:           mail.Address{Name: name, Address: email},
		Subject:      InactivityReminderSubject,
		TemplateName: inactivityTemplate,
		TemplateData: contextData{
			FrontendBaseURL: frontendURL,
			Data: reminderData{
				Name:          name,
				InactiveDays:  inactiveDays,
				ProblemsetURL: ProblemsetURL,
			},
		},
	}
}

// Render fills TextContent and HTMLContent from the message templates
func (m *Message) Render() error {
	if m.TemplateName == "" {
		return nil
	}

	var text bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, m.TemplateName+".txt", m.TemplateData); err != nil {
		return fmt.Errorf("render %s text: %w", m.TemplateName, err)
	}
	var html bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, m.TemplateName+".gohtml", m.TemplateData); err != nil {
		return fmt.Errorf("render %s html: %w", m.TemplateName, err)
	}

	m.TextContent = text.String()
	m.HTMLContent = html.String()
	return nil
}

// HasRecipients reports whether the message has somewhere to go
func (m *Message) HasRecipients() bool {
	return m.To.Address != ""
}

// HasContent reports whether the message has a body
func (m *Message) HasContent() bool {
	return m.TextContent != "" || m.HTMLContent != ""
}
