package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPConfig is a direct SMTP submission target.
type SMTPConfig struct {
	Addr       string
	From       string
	Username   string
	Password   string
	Recipients []string
}

type sendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// SMTPSink sends the HTML mail through an SMTP server.
type SMTPSink struct {
	cfg  SMTPConfig
	send sendMailFunc
	log  *slog.Logger
}

func NewSMTPSink(cfg SMTPConfig, logger *slog.Logger) *SMTPSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSink{cfg: cfg, send: smtp.SendMail, log: logger.With("sink", "smtp")}
}

func (s *SMTPSink) Send(ctx context.Context, n Notification) error {
	if len(s.cfg.Recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	html, err := RenderHTML(n)
	if err != nil {
		return err
	}

	var auth sasl.Client
	if s.cfg.Username != "" {
		auth = sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	}
	msg := composeMessage(s.cfg.From, s.cfg.Recipients, n.Subject(), html)
	if err := s.send(s.cfg.Addr, auth, s.cfg.From, s.cfg.Recipients, strings.NewReader(msg)); err != nil {
		return fmt.Errorf("smtp send via %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("Mail sent", "recipients", len(s.cfg.Recipients))
	return nil
}

func composeMessage(from string, to []string, subject, html string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(html, "\n", "\r\n"))
	return b.String()
}
