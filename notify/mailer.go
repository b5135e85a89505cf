package notify

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/biops-tools/tableau-ad-sync/config"
)

const defaultMailPasswordEnvVar = "MAIL_PASSWORD"

// Mailer sends HTML mail over SMTP, upgrading to TLS when the server offers
// STARTTLS and authenticating when a username is configured. Call sites
// treat send failures as fire-and-forget: log, never fatal.
type Mailer struct {
	addr     string
	host     string
	from     string
	username string
	password string

	logger *zap.SugaredLogger
}

func NewMailer(cfg *config.MailConfig, logger *zap.SugaredLogger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("mail host shouldn't be empty")
	}
	var password string
	if cfg.Username != "" {
		envVar := cfg.PasswordEnvVar
		if envVar == "" {
			envVar = defaultMailPasswordEnvVar
		}
		password = os.Getenv(envVar)
		if password == "" {
			return nil, errors.Errorf("mail password in %s env var shouldn't be empty", envVar)
		}
	}
	return &Mailer{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		host:     cfg.Host,
		from:     cfg.From,
		username: cfg.Username,
		password: password,
		logger:   logger,
	}, nil
}

func (m *Mailer) Send(to []string, subject, htmlBody string) error {
	client, err := smtp.Dial(m.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to mail server %s", m.addr)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return errors.Wrap(err, "failed to start TLS")
		}
	}
	if m.username != "" {
		auth := smtp.PlainAuth("", m.username, m.password, m.host)
		if err := client.Auth(auth); err != nil {
			return errors.Wrap(err, "failed to authenticate to mail server")
		}
	}

	if err := client.Mail(m.from); err != nil {
		return errors.Wrapf(err, "failed to set sender %s", m.from)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return errors.Wrapf(err, "failed to set recipient %s", rcpt)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "failed to open mail body")
	}
	message := strings.Join([]string{
		"From: " + m.from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		htmlBody,
	}, "\r\n")
	if _, err := writer.Write([]byte(message)); err != nil {
		return errors.Wrap(err, "failed to write mail body")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "failed to finish mail body")
	}

	if err := client.Quit(); err != nil {
		return errors.Wrap(err, "failed to close mail session")
	}
	m.logger.Infow("Sent mail", "to", to, "subject", subject)
	return nil
}
