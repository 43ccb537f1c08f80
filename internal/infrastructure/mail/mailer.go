// Package mail builds notification messages and delivers them through a
// Mailer: SMTP in production, the log for development.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/elysion/user-service/internal/core/domain"
)

// Message is one plain-text mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a message or reports why it could not.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Composer renders notification messages with links back to the service.
type Composer struct {
	baseURL string
}

func NewComposer(publicBaseURL string) *Composer {
	return &Composer{baseURL: strings.TrimRight(publicBaseURL, "/")}
}

// Activation addresses the user's primary email.
func (c *Composer) Activation(user *domain.User, token *domain.Token) Message {
	link := c.link("/users/confirm-email", token.Value)
	return Message{
		To:      user.Email,
		Subject: "Confirm your email address",
		Body: fmt.Sprintf(
			"Hello%s,\n\nplease confirm your email address by opening the link below:\n\n%s\n\nThe link expires in 24 hours.\n",
			greetingName(user), link),
	}
}

// EmailChange addresses the pending email, proving control of the new address.
func (c *Composer) EmailChange(user *domain.User, token *domain.Token) Message {
	to := user.Email
	if user.PendingEmail != nil {
		to = *user.PendingEmail
	}
	link := c.link("/users/confirm-email-change", token.Value)
	return Message{
		To:      to,
		Subject: "Confirm your new email address",
		Body: fmt.Sprintf(
			"Hello%s,\n\nopen the link below to make %s the email address of your account:\n\n%s\n\nIf you did not request this change, ignore this mail.\n",
			greetingName(user), to, link),
	}
}

func (c *Composer) link(path, token string) string {
	return c.baseURL + path + "?" + url.Values{"token": {token}}.Encode()
}

func greetingName(user *domain.User) string {
	if user.FirstName == "" {
		return ""
	}
	return " " + user.FirstName
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Msg("mail (log driver)")
	return nil
}

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer relays messages through an SMTP server with PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, m.render(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) render(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.cfg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
