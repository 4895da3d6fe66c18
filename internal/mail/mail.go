// Package mail delivers verification and password reset emails.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/udisondev/uberlobby/internal/config"
)

// Sender delivers a single message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(to, subject, body string) error
}

// LogSender writes messages to the log instead of delivering them.
// Used when no SMTP relay is configured so verification codes still
// reach the operator.
type LogSender struct{}

func (LogSender) Send(to, subject, body string) error {
	slog.Info("mail delivery disabled, logging instead",
		"to", to, "subject", subject, "body", body)
	return nil
}

// SMTPSender delivers messages through a relay using PLAIN auth when
// credentials are configured.
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPSender builds a sender from config. Returns a LogSender when
// mail is disabled.
func NewSMTPSender(cfg config.MailConfig) Sender {
	if !cfg.Enabled || cfg.SMTPHost == "" {
		return LogSender{}
	}
	s := &SMTPSender{
		addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		from: cfg.From,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}
	return s
}

func (s *SMTPSender) Send(to, subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("sending mail to %s via %s: %w", to, s.addr, err)
	}
	return nil
}

type queuedMail struct {
	to      string
	subject string
	body    string
}

// Queue decouples handlers from SMTP latency. Enqueue never blocks;
// a single worker drains the queue and logs delivery failures.
type Queue struct {
	sender Sender
	ch     chan queuedMail
}

// NewQueue wraps sender with an async delivery queue of the given depth.
func NewQueue(sender Sender, depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	return &Queue{sender: sender, ch: make(chan queuedMail, depth)}
}

// Run drains the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-q.ch:
			if err := q.sender.Send(m.to, m.subject, m.body); err != nil {
				slog.Error("mail delivery failed", "to", m.to, "subject", m.subject, "error", err)
			}
		}
	}
}

// Enqueue schedules a message for delivery. Drops the message with a
// log line when the queue is full.
func (q *Queue) Enqueue(to, subject, body string) {
	select {
	case q.ch <- queuedMail{to: to, subject: subject, body: body}:
	default:
		slog.Warn("mail queue full, dropping message", "to", to, "subject", subject)
	}
}

// SendVerification enqueues a registration or email-change code.
func (q *Queue) SendVerification(to, username, code string) {
	q.Enqueue(to, "Lobby account verification",
		fmt.Sprintf("Hello %s,\n\nyour verification code is: %s\n\nEnter it with the VERIFY command or follow your lobby client's prompt.\n", username, code))
}

// SendPasswordReset enqueues a password reset code.
func (q *Queue) SendPasswordReset(to, code string) {
	q.Enqueue(to, "Lobby password reset",
		fmt.Sprintf("A password reset was requested for your account.\n\nYour reset code is: %s\n\nIf you did not request this, ignore this message.\n", code))
}

// SendNewPassword enqueues the freshly generated password after a
// completed reset.
func (q *Queue) SendNewPassword(to, password string) {
	q.Enqueue(to, "Lobby password reset complete",
		fmt.Sprintf("Your password has been reset.\n\nNew password: %s\n\nChange it after logging in with CHANGEPASSWORD.\n", password))
}
