package notifications

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/wellbeing-clinic/booking/config"
)

// SMTPSender delivers HTML email over SMTP with PLAIN auth.
type SMTPSender struct {
	cfg  config.EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates an SMTP sender from EmailConfig.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

// Send delivers one message. ctx only bounds the wait; net/smtp has no context support.
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if !s.cfg.Enabled() {
		return fmt.Errorf("smtp not configured")
	}
	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	var auth smtp.Auth
	if s.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
	}
	msg := buildMessage(s.cfg.FromName, s.cfg.FromAddress, to, subject, htmlBody)

	done := make(chan error, 1)
	go func() { done <- s.send(addr, auth, s.cfg.FromAddress, []string{to}, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(fromName, fromAddr, to, subject, htmlBody string) []byte {
	var b strings.Builder
	from := fromAddr
	if fromName != "" {
		from = mime.QEncoding.Encode("utf-8", fromName) + " <" + fromAddr + ">"
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}
