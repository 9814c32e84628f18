// Package mailer delivers account verification links.
package mailer

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/sakif/task-manager/internal/config"
)

const verificationSubject = "[Task Manager] Confirm your email address"

var verificationBody = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Confirm your email</h2>
    <p>Hi {{.Name}}, open the link below to activate your Task Manager account.</p>
    <p><a href="{{.Link}}">{{.Link}}</a></p>
    <p>The link is valid for 48 hours.</p>
  </div>
</body>
</html>`))

// sender abstracts the SMTP dial so tests never open a socket.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends mail through a gomail dialer.
type SMTPMailer struct {
	from   string
	dialer sender
	logger *slog.Logger
}

func NewSMTPMailer(cfg config.SMTPConfig, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

// SendVerification mails link to the recipient. name is used in the greeting.
func (m *SMTPMailer) SendVerification(ctx context.Context, to, name, link string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("mailer: empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildVerificationMessage(m.from, to, name, link)
	if err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("mailer: sending verification to %s: %w", to, err)
	}

	m.logger.Info("verification email sent", slog.String("to", to))
	return nil
}

func buildVerificationMessage(from, to, name, link string) (*gomail.Message, error) {
	var body strings.Builder
	if err := verificationBody.Execute(&body, struct{ Name, Link string }{name, link}); err != nil {
		return nil, fmt.Errorf("mailer: rendering body: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", verificationSubject)
	msg.SetBody("text/plain", "Open this link to activate your account: "+link)
	msg.AddAlternative("text/html", body.String())
	return msg, nil
}

// LogMailer writes the link to the log instead of sending mail. Used when
// no SMTP host is configured, which is the usual local setup.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerification(_ context.Context, to, _, link string) error {
	m.logger.Warn("SMTP not configured, verification link logged instead",
		slog.String("to", to),
		slog.String("link", link),
	)
	return nil
}

// Mailer is satisfied by both implementations.
type Mailer interface {
	SendVerification(ctx context.Context, to, name, link string) error
}

// New picks SMTP when configured and the log fallback otherwise.
func New(cfg *config.Config, logger *slog.Logger) Mailer {
	if cfg.SMTPEnabled() {
		return NewSMTPMailer(cfg.SMTP, logger)
	}
	return NewLogMailer(logger)
}
