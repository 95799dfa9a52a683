package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/carts"
	"github.com/imrishuroy/go-cart-recovery/internal/settings"
)

const implicitTLSPort = 465

// SecretResolver looks up the SMTP password when settings name a secret.
type SecretResolver interface {
	GetSecret(ctx context.Context, id string) (string, error)
}

// Message is one fully composed e-mail ready for the wire.
type Message struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
	Raw      []byte
}

// SMTPNotifier sends recovery e-mail through the shop's SMTP server.
type SMTPNotifier struct {
	secrets  SecretResolver
	logger   *zap.Logger
	sendMail func(ctx context.Context, m Message) error
}

// NewSMTPNotifier returns a notifier. secrets may be nil when no shop uses
// a secret-backed password.
func NewSMTPNotifier(secrets SecretResolver, logger *zap.Logger) *SMTPNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPNotifier{
		secrets:  secrets,
		logger:   logger,
		sendMail: deliver,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, shop string, cart carts.CartRecord, s settings.Settings) error {
	s = s.WithDefaults()
	if strings.TrimSpace(s.SMTPHost) == "" || strings.TrimSpace(s.EmailFrom) == "" {
		return &Failure{Kind: KindConfig, Reason: "smtp host and sender address are required"}
	}
	from, err := mail.ParseAddress(s.EmailFrom)
	if err != nil {
		return &Failure{Kind: KindConfig, Reason: "invalid sender address", Err: err}
	}
	if strings.TrimSpace(cart.CustomerEmail) == "" {
		return &Failure{Kind: KindRecipientMissing, Reason: "cart has no customer email"}
	}
	to, err := mail.ParseAddress(cart.CustomerEmail)
	if err != nil {
		return &Failure{Kind: KindRecipientMissing, Reason: "invalid customer email", Err: err}
	}

	password := s.SMTPPass
	if s.SMTPPassSecretID != "" {
		if n.secrets == nil {
			return &Failure{Kind: KindConfig, Reason: "smtp password secret configured without a resolver"}
		}
		password, err = n.secrets.GetSecret(ctx, s.SMTPPassSecretID)
		if err != nil {
			return &Failure{Kind: KindConfig, Reason: "resolve smtp password", Err: err}
		}
	}

	body, err := renderBody(s.EmailBody, shop, cart)
	if err != nil {
		return err
	}

	msg := Message{
		Host:     s.SMTPHost,
		Port:     s.SMTPPort,
		Username: s.SMTPUser,
		Password: password,
		From:     from.Address,
		To:       to.Address,
		Raw:      compose(from.String(), to.String(), s.EmailSubject, body),
	}
	if err := n.sendMail(ctx, msg); err != nil {
		return &Failure{Kind: KindTransport, Reason: "smtp delivery failed", Err: err}
	}

	n.logger.Info("recovery email sent",
		zap.String("shop", shop),
		zap.String("cart_token", cart.CartToken),
		zap.String("to", to.Address))
	return nil
}

func compose(from, to, subject, body string) []byte {
	var b bytes.Buffer
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}

// deliver speaks SMTP to m.Host. Port 465 uses implicit TLS; any other port
// upgrades with STARTTLS when the server offers it.
func deliver(ctx context.Context, m Message) error {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	tlsConfig := &tls.Config{ServerName: m.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if m.Port == implicitTLSPort {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(time.Minute))
	}

	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if m.Port != implicitTLSPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if m.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", m.Username, m.Password, m.Host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(m.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(m.To); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(m.Raw); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return c.Quit()
}
