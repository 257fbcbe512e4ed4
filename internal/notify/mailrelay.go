package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// MailRelayConfig points at an HTTP mail relay that accepts {to, subject, html}.
type MailRelayConfig struct {
	BaseURL    string
	Endpoint   string
	APIKey     string
	Recipients []string
	Timeout    time.Duration
}

// MailRelaySink posts one request per recipient. Repeated relay failures open
// a circuit breaker so a dead relay does not stall enforcement workers.
type MailRelaySink struct {
	cfg    MailRelayConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *slog.Logger
}

func NewMailRelaySink(cfg MailRelayConfig, client *http.Client, logger *slog.Logger) *MailRelaySink {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/api/sendMail"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("sink", "mail_relay")
	if cfg.APIKey == "" {
		logger.Warn("Mail relay API key not configured, mail will not be sent")
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mail_relay",
		Timeout: time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &MailRelaySink{cfg: cfg, client: client, cb: cb, log: logger}
}

type mailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (s *MailRelaySink) Send(ctx context.Context, n Notification) error {
	if s.cfg.APIKey == "" {
		s.log.Warn("Mail relay API key not configured, skipping mail", "title", n.Title)
		return nil
	}
	if len(s.cfg.Recipients) == 0 {
		s.log.Warn("No mail recipients configured", "title", n.Title)
		return nil
	}
	html, err := RenderHTML(n)
	if err != nil {
		return err
	}

	var errs []error
	for _, to := range s.cfg.Recipients {
		payload := mailPayload{To: to, Subject: n.Subject(), HTML: html}
		if _, err := s.cb.Execute(func() (interface{}, error) {
			return nil, s.post(ctx, payload)
		}); err != nil {
			s.log.Error("Mail send failed", "to", to, "err", err)
			errs = append(errs, fmt.Errorf("mail to %s: %w", to, err))
			continue
		}
		s.log.Info("Mail sent", "to", to)
	}
	return errors.Join(errs...)
}

func (s *MailRelaySink) post(ctx context.Context, p mailPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	url := strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.Endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
