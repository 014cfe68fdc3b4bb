package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vocaldesk/vocaldesk/internal/models"
)

// SettingsSource provides the stored SMTP configuration. Settings are
// loaded per send so edits in the dashboard take effect without a restart.
type SettingsSource interface {
	GetSMTPSettings(ctx context.Context) (*models.SMTPSettings, error)
}

// Mailer sends plain-text notification mail through the configured SMTP
// relay. All callers treat sending as best-effort.
type Mailer struct {
	settings SettingsSource
	log      *logrus.Entry
}

func New(settings SettingsSource) *Mailer {
	return &Mailer{
		settings: settings,
		log:      logrus.WithField("component", "mailer"),
	}
}

// Send delivers one message to one recipient.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	cfg, err := m.settings.GetSMTPSettings(ctx)
	if err != nil {
		return fmt.Errorf("smtp is not configured: %w", err)
	}
	return m.sendWith(cfg, to, subject, body)
}

// SendTest delivers a test message using uncommitted settings, so the
// dashboard can verify a configuration before saving it.
func (m *Mailer) SendTest(cfg *models.SMTPSettings, to string) error {
	return m.sendWith(cfg, to, "SMTP test", "This is a test message from the voice dashboard.")
}

func (m *Mailer) sendWith(cfg *models.SMTPSettings, to, subject, body string) error {
	if cfg.Host == "" || cfg.FromAddress == "" {
		return fmt.Errorf("smtp host and from address are required")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	msg := strings.Join([]string{
		"From: " + cfg.FromAddress,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(addr, auth, cfg.FromAddress, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}

	m.log.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("mail sent")
	return nil
}
