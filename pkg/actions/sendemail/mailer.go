package sendemail

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Message is a rendered email ready for delivery.
type Message struct {
	ID       string
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	Body     string
	HTML     bool
	Priority string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
}

// SMTPMailer delivers through an SMTP relay with PLAIN auth when a username
// is set.
type SMTPMailer struct {
	config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	return &SMTPMailer{config: config, send: smtp.SendMail}
}

func (m *SMTPMailer) DefaultFrom() string {
	return m.config.From
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if msg.From == "" {
		msg.From = m.config.From
	}

	var auth smtp.Auth

	if m.config.Username != "" {
		host, _, err := net.SplitHostPort(m.config.Addr)
		if err != nil {
			return fmt.Errorf("invalid SMTP address %q: %w", m.config.Addr, err)
		}

		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, host)
	}

	recipients := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)

	if err := m.send(m.config.Addr, auth, msg.From, recipients, Render(msg)); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}

	return nil
}

// Render produces the RFC 5322 text of msg. Bcc is never rendered.
func Render(msg Message) []byte {
	var b strings.Builder

	header := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", key, value)
		}
	}

	header("From", msg.From)
	header("To", strings.Join(msg.To, ", "))
	header("Cc", strings.Join(msg.Cc, ", "))
	header("Subject", msg.Subject)
	header("Date", time.Now().UTC().Format(time.RFC1123Z))
	header("Message-ID", "<"+msg.ID+">")
	header("MIME-Version", "1.0")

	switch msg.Priority {
	case "high", "urgent":
		header("X-Priority", "1")
	case "low":
		header("X-Priority", "5")
	}

	if msg.HTML {
		header("Content-Type", `text/html; charset="UTF-8"`)
	} else {
		header("Content-Type", `text/plain; charset="UTF-8"`)
	}

	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return []byte(b.String())
}

func newMessageID(domain string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)

	if domain == "" {
		domain = "flowbase.local"
	}

	return hex.EncodeToString(buf) + "@" + domain
}
