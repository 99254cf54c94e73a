package mail

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/spec-kit/tour-auth-service/internal/config"
)

// Message is a plain-text notification addressed to a single recipient.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers notifications. The auth flows call Send synchronously
// where a delivery failure must roll back pending credential state.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New selects an SMTP mailer when a host is configured and a log-only
// mailer otherwise.
func New(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if cfg.Host == "" {
		return &LogMailer{logger: logger}
	}
	return &SMTPMailer{cfg: cfg}
}

// SMTPMailer sends messages over plain SMTP.
type SMTPMailer struct {
	cfg config.MailConfig
}

// Send delivers the message via the configured SMTP relay.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := m.cfg.Host + ":" + m.cfg.Port
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	payload := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.cfg.From, msg.To, msg.Subject, msg.Body)

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{msg.To}, []byte(payload)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogMailer logs messages instead of sending them. Used in development and
// when no SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

// Send logs the message.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail (not sent)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
