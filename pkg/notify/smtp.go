package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPMailer sends availability notices over SMTP with PLAIN auth.
type SMTPMailer struct {
	addr     string // host:port
	host     string
	from     string
	password string
}

// NewSMTPMailer configures the mailer. addr is host:port.
func NewSMTPMailer(addr, from, password string) (*SMTPMailer, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("smtp addr required")
	}
	host, _, ok := strings.Cut(addr, ":")
	if !ok || host == "" {
		return nil, fmt.Errorf("smtp addr %q must be host:port", addr)
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("smtp sender address required")
	}
	return &SMTPMailer{addr: addr, host: host, from: from, password: password}, nil
}

// SendAvailabilityNotice emails the reader that the book has a copy ready.
func (m *SMTPMailer) SendAvailabilityNotice(ctx context.Context, recipient, bookTitle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + recipient,
		"Subject: Your requested book is available",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		fmt.Sprintf("A copy of %q is reserved for you. Please pick it up at the library.", bookTitle),
		"",
	}, "\r\n")
	var a smtp.Auth
	if m.password != "" {
		a = smtp.PlainAuth("", m.from, m.password, m.host)
	}
	if err := smtp.SendMail(m.addr, a, m.from, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
