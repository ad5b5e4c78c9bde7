package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/pkg/logger"
)

// SMTPTransport sends mail over a plain SMTP submission port with STARTTLS
// when the server offers it.
type SMTPTransport struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
	log      *logger.Logger
}

// NewSMTPTransport creates an SMTP transport from config.
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	return &SMTPTransport{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  cfg.Timeout(),
		log:      logger.With("smtp"),
	}
}

// Name identifies the provider.
func (t *SMTPTransport) Name() string { return "smtp" }

// Send performs one SMTP transaction. 5xx replies surface as permanent
// DeliveryErrors so the caller can suppress the contact.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) (*Result, error) {
	if t.host == "" {
		return nil, fmt.Errorf("SMTP host not configured")
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), t.host)
	raw := buildMIME(msg, messageID)

	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	if err := t.transact(ctx, addr, msg.FromEmail, msg.To, raw); err != nil {
		return nil, t.classify(err)
	}

	t.log.Debug("sent", "to_email", msg.To, "message_id", messageID)
	return &Result{MessageID: messageID, Provider: t.Name(), SentAt: time.Now()}, nil
}

// classify wraps SMTP protocol errors, marking 5xx replies permanent.
func (t *SMTPTransport) classify(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return &DeliveryError{
			Provider:   t.Name(),
			StatusCode: proto.Code,
			Message:    proto.Msg,
			Permanent:  proto.Code >= 500,
		}
	}
	return fmt.Errorf("smtp send failed: %w", err)
}

// buildMIME assembles a multipart/alternative message.
func buildMIME(msg *Message, messageID string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", msg.FromName, msg.FromEmail)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	buf.WriteString("MIME-Version: 1.0\r\n")
	for k, v := range msg.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	boundary := fmt.Sprintf("=_%s", uuid.New().String()[:16])
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	buf.WriteString("\r\n")

	if msg.Text != "" {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		buf.WriteString(msg.Text)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	buf.WriteString(msg.HTML)
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}

// transact runs the SMTP conversation. AUTH failures retry once without
// AUTH, for relays that reject it on non-TLS connections.
func (t *SMTPTransport) transact(ctx context.Context, addr, from, to string, raw []byte) error {
	dialer := &net.Dialer{Timeout: t.timeout}

	dialAndSetup := func(tryAuth bool) (*smtp.Client, error) {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		c, err := smtp.NewClient(conn, t.host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp client: %w", err)
		}
		if ok, _ := c.Extension("STARTTLS"); ok {
			tlsCfg := &tls.Config{ServerName: t.host}
			if tlsErr := c.StartTLS(tlsCfg); tlsErr != nil {
				t.log.Warn("STARTTLS failed, continuing without TLS", "error", tlsErr)
			}
		}
		if tryAuth && t.username != "" && t.password != "" {
			if authErr := c.Auth(&plainAuth{user: t.username, pass: t.password}); authErr != nil {
				c.Close()
				return nil, authErr
			}
		}
		return c, nil
	}

	client, err := dialAndSetup(t.username != "" && t.password != "")
	if err != nil && t.username != "" && t.password != "" {
		t.log.Warn("AUTH failed, retrying without AUTH", "error", err)
		client, err = dialAndSetup(false)
	}
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return client.Quit()
}

// plainAuth implements smtp.Auth without stdlib PlainAuth's TLS requirement;
// internal relays often take PLAIN on the submission port without TLS.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	return nil, nil
}
