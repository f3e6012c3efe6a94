// Package notify delivers collaboration notifications. Delivery is
// fire-and-forget: failures are logged, never surfaced to the write path
// that triggered them.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Mailer sends notification emails over SMTP.
type Mailer struct {
	config SMTPConfig
	server string
	auth   smtp.Auth
}

func NewMailer(config SMTPConfig) *Mailer {
	return &Mailer{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
	}
}

// IsConfigured returns true if email is configured
func (m *Mailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

type collaboratorAddedData struct {
	AppName       string
	RecipientName string
	OwnerName     string
	NoteTitle     string
}

// SendCollaboratorAdded emails the user who was just added to a note.
func (m *Mailer) SendCollaboratorAdded(to, recipientName, ownerName, noteTitle string) error {
	if !m.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	html, err := renderTemplate(collaboratorAddedTemplate, collaboratorAddedData{
		AppName:       "Leaflet",
		RecipientName: recipientName,
		OwnerName:     ownerName,
		NoteTitle:     noteTitle,
	})
	if err != nil {
		return fmt.Errorf("render collaborator template: %w", err)
	}

	subject := fmt.Sprintf("%s shared a note with you", ownerName)
	return m.sendHTML([]string{to}, subject, html)
}

func (m *Mailer) sendHTML(to []string, subject, htmlBody string) error {
	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)

	return smtp.SendMail(m.server, m.auth, m.config.From, to, msg.Bytes())
}

func renderTemplate(tmpl string, data any) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const collaboratorAddedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2e7d32; padding-bottom: 10px; margin-bottom: 20px; }
        .note { padding: 12px 16px; background: #f4f7f4; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.RecipientName}},</h2>

    <p>{{.OwnerName}} added you as a collaborator on a note.</p>

    <div class="note">{{.NoteTitle}}</div>

    <p>Sign in to view it.</p>

    <div class="footer">
        <p>You received this because {{.OwnerName}} shared a note with your account.</p>
    </div>
</body>
</html>`
