package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/pkg/httpretry"
	"github.com/ignite/relay/internal/pkg/logger"
)

// SendGridTransport sends mail via the SendGrid v3 Mail Send API. Transient
// API errors are retried by the underlying client; 4xx rejections come back
// as DeliveryErrors.
type SendGridTransport struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
	log     *logger.Logger
}

// NewSendGridTransport creates a SendGrid transport from config.
func NewSendGridTransport(cfg config.SendGridConfig) *SendGridTransport {
	return &SendGridTransport{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/v3",
		client:  httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, 3),
		log:     logger.With("sendgrid"),
	}
}

// Name identifies the provider.
func (t *SendGridTransport) Name() string { return "sendgrid" }

// Send delivers a single email through SendGrid.
func (t *SendGridTransport) Send(ctx context.Context, msg *Message) (*Result, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("SendGrid API key not configured")
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{"to": []map[string]string{{"email": msg.To}}},
		},
		"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
		"subject": msg.Subject,
		"content": []map[string]string{{"type": "text/html", "value": msg.HTML}},
		// Tracking is injected upstream; the provider must not rewrite it.
		"tracking_settings": map[string]interface{}{
			"click_tracking": map[string]bool{"enable": false},
			"open_tracking":  map[string]bool{"enable": false},
		},
	}
	if msg.Text != "" {
		payload["content"] = []map[string]string{
			{"type": "text/plain", "value": msg.Text},
			{"type": "text/html", "value": msg.HTML},
		}
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/mail/send", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, &DeliveryError{
			Provider:   t.Name(),
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Permanent:  permanentAPIError(resp.StatusCode, string(body)),
		}
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.New().String()
	}

	t.log.Debug("sent", "to_email", msg.To, "message_id", messageID)
	return &Result{MessageID: messageID, Provider: t.Name(), SentAt: time.Now()}, nil
}

// permanentAPIError classifies rejections that no retry will fix: 4xx
// responses (other than rate limiting) whose body points at the recipient
// address.
func permanentAPIError(status int, body string) bool {
	if status == http.StatusTooManyRequests || status >= 500 {
		return false
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "invalid") || strings.Contains(lower, "bounce") ||
		strings.Contains(lower, "does not contain")
}
