// Package notify renders and delivers schedule emails.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"conti/internal/core"
)

// ErrDelivery is returned when the mail provider rejects or fails a send.
var ErrDelivery = &core.Error{
	Kind:    core.KindNotification,
	Code:    "DELIVERY_FAILED",
	Message: "email delivery failed",
}

// Email is one outbound message.
type Email struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends an email and returns the provider's message id.
type Mailer interface {
	Send(ctx context.Context, e Email) (messageID string, err error)
}

// HTTPConfig configures an HTTP mail provider.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	// Timeout bounds each send (default: 10s)
	Timeout time.Duration
	// IDPath is the gjson path of the message id in the response (default: "id")
	IDPath string
}

// HTTPMailer posts messages as JSON to a transactional mail API.
type HTTPMailer struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPMailer(cfg HTTPConfig, client *http.Client) (*HTTPMailer, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("mail endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.IDPath == "" {
		cfg.IDPath = "id"
	}
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &HTTPMailer{cfg: cfg, client: client}, nil
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

func (m *HTTPMailer) Send(ctx context.Context, e Email) (string, error) {
	if len(e.To) == 0 {
		return "", core.Validationf("email has no recipients")
	}
	body, err := json.Marshal(sendRequest{
		From:    e.From,
		To:      e.To,
		Subject: e.Subject,
		HTML:    e.HTML,
		Text:    e.Text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal email: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &core.Error{Kind: core.KindNotification, Code: ErrDelivery.Code, Message: "send email", Err: err}
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &core.Error{
			Kind:    core.KindNotification,
			Code:    ErrDelivery.Code,
			Message: fmt.Sprintf("mail provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
		}
	}
	return gjson.GetBytes(payload, m.cfg.IDPath).String(), nil
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, e Email) (string, error) {
	slog.InfoContext(ctx, "Email not sent (log mailer)",
		"to", strings.Join(e.To, ","),
		"subject", e.Subject)
	return "", nil
}
