package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Sender delivers a message to a recipient
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig configures the SMTP sender
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail over plain SMTP with optional auth
type SMTPSender struct {
	config SMTPConfig
	log    *logrus.Logger
}

// NewSMTPSender creates an SMTP-backed sender
func NewSMTPSender(config SMTPConfig, log *logrus.Logger) *SMTPSender {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SMTPSender{config: config, log: log}
}

// Send delivers a single plain-text message
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	msg := strings.Join([]string{
		"From: " + s.config.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(addr, auth, s.config.From, []string{to}, []byte(msg)); err != nil {
		s.log.WithError(err).WithField("to", to).Error("failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info("sent email")
	return nil
}

// NopSender discards messages; used in development and tests
type NopSender struct{}

// Send implements Sender and does nothing
func (NopSender) Send(ctx context.Context, to, subject, body string) error {
	return nil
}
