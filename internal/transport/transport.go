// Package transport delivers rendered messages through a mail provider.
// Exactly one transport is active per process; the HTTP mail API takes
// precedence over SMTP when both are configured.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/relay/internal/config"
)

// Message is a fully rendered email ready for delivery.
type Message struct {
	To        string
	FromName  string
	FromEmail string
	Subject   string
	HTML      string
	Text      string
	Headers   map[string]string
}

// Result describes an accepted delivery.
type Result struct {
	MessageID string
	Provider  string
	SentAt    time.Time
}

// DeliveryError is a provider-reported send failure. Permanent marks
// conditions that will not succeed on retry (invalid recipient, hard
// bounce); the caller uses it to suppress the contact.
type DeliveryError struct {
	Provider   string
	StatusCode int
	Message    string
	Permanent  bool
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsPermanent reports whether err carries a provider-classified permanent
// failure.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// Transport is a pluggable mail provider.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// FromConfig selects the active transport. An API key wins over SMTP
// credentials; neither configured is an error.
func FromConfig(cfg *config.Config) (Transport, error) {
	if cfg.SendGrid.Configured() {
		return NewSendGridTransport(cfg.SendGrid), nil
	}
	if cfg.SMTP.Configured() {
		return NewSMTPTransport(cfg.SMTP), nil
	}
	return nil, errors.New("no mail transport configured: set sendgrid.api_key or smtp.host")
}

// ListUnsubscribeHeaders returns the one-click unsubscribe headers for a
// message, per RFC 8058.
func ListUnsubscribeHeaders(unsubscribeURL string) map[string]string {
	return map[string]string{
		"List-Unsubscribe":      fmt.Sprintf("<%s>", unsubscribeURL),
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}
