package notify

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/carts"
	"github.com/imrishuroy/go-cart-recovery/internal/settings"
)

type fakeSecrets struct {
	values map[string]string
	err    error
}

func (f fakeSecrets) GetSecret(_ context.Context, id string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.values[id], nil
}

func testCart() carts.CartRecord {
	return carts.CartRecord{
		Shop:          "demo.myshopify.com",
		CartToken:     "tok-1",
		CustomerEmail: "buyer@example.com",
		TotalPrice:    59.9,
		Currency:      "EUR",
		LineItems: []carts.LineItem{
			{Title: "Ceramic <Mug>", VariantTitle: "Blue", Quantity: 2, Price: 19.95},
			{Title: "", Quantity: 0, Price: 20},
		},
	}
}

func testSettings() settings.Settings {
	s := settings.Defaults("demo.myshopify.com")
	s.EmailEnabled = true
	s.EmailFrom = "Demo Shop <shop@example.com>"
	s.SMTPHost = "smtp.example.com"
	s.SMTPUser = "mailer"
	s.SMTPPass = "plain-pass"
	return s
}

func captureNotifier(secrets SecretResolver, sendErr error) (*SMTPNotifier, *[]Message) {
	var sent []Message
	n := NewSMTPNotifier(secrets, zap.NewNop())
	n.sendMail = func(_ context.Context, m Message) error {
		sent = append(sent, m)
		return sendErr
	}
	return n, &sent
}

func TestSend_ComposesMessage(t *testing.T) {
	n, sent := captureNotifier(nil, nil)

	err := n.Send(context.Background(), "demo.myshopify.com", testCart(), testSettings())
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	m := (*sent)[0]
	assert.Equal(t, "smtp.example.com", m.Host)
	assert.Equal(t, 587, m.Port)
	assert.Equal(t, "shop@example.com", m.From)
	assert.Equal(t, "buyer@example.com", m.To)
	assert.Equal(t, "plain-pass", m.Password)

	raw := string(m.Raw)
	assert.Contains(t, raw, "Subject: "+settings.DefaultSubject)
	assert.Contains(t, raw, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, raw, "Ceramic &lt;Mug&gt;")
	assert.NotContains(t, raw, "<Mug>")
	assert.Contains(t, raw, "19.95 EUR")
	assert.Contains(t, raw, "59.90 EUR")
	assert.Contains(t, raw, "https://demo.myshopify.com/checkout")
	assert.Contains(t, raw, "x1", "missing quantity renders as one")
}

func TestSend_ConfigCheckedBeforeIO(t *testing.T) {
	n, sent := captureNotifier(nil, nil)

	s := testSettings()
	s.SMTPHost = ""
	err := n.Send(context.Background(), "shop", testCart(), s)
	assert.Equal(t, KindConfig, KindOf(err))

	s = testSettings()
	s.EmailFrom = ""
	err = n.Send(context.Background(), "shop", testCart(), s)
	assert.Equal(t, KindConfig, KindOf(err))

	assert.Empty(t, *sent)
}

func TestSend_RecipientMissing(t *testing.T) {
	n, sent := captureNotifier(nil, nil)
	cart := testCart()
	cart.CustomerEmail = ""

	err := n.Send(context.Background(), "shop", cart, testSettings())
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindRecipientMissing, f.Kind)

	cart.CustomerEmail = "not-an-address"
	err = n.Send(context.Background(), "shop", cart, testSettings())
	assert.Equal(t, KindRecipientMissing, KindOf(err))
	assert.Empty(t, *sent)
}

func TestSend_ResolvesSecretPassword(t *testing.T) {
	secrets := fakeSecrets{values: map[string]string{"demo/smtp": "from-secret"}}
	n, sent := captureNotifier(secrets, nil)
	s := testSettings()
	s.SMTPPassSecretID = "demo/smtp"

	require.NoError(t, n.Send(context.Background(), "shop", testCart(), s))
	assert.Equal(t, "from-secret", (*sent)[0].Password)

	n, _ = captureNotifier(fakeSecrets{err: errors.New("denied")}, nil)
	err := n.Send(context.Background(), "shop", testCart(), s)
	assert.Equal(t, KindConfig, KindOf(err))

	n, _ = captureNotifier(nil, nil)
	err = n.Send(context.Background(), "shop", testCart(), s)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestSend_TransportFailure(t *testing.T) {
	boom := errors.New("connection refused")
	n, _ := captureNotifier(nil, boom)

	err := n.Send(context.Background(), "shop", testCart(), testSettings())
	assert.Equal(t, KindTransport, KindOf(err))
	assert.ErrorIs(t, err, boom)
}

func TestSend_BodyOverride(t *testing.T) {
	n, sent := captureNotifier(nil, nil)
	s := testSettings()
	s.EmailBody = `<p>{{.Shop}} misses you: {{range .Items}}[{{.Title}}]{{end}} {{.Total}}</p>`

	require.NoError(t, n.Send(context.Background(), "demo.myshopify.com", testCart(), s))
	assert.Contains(t, string((*sent)[0].Raw), "<p>demo.myshopify.com misses you: [Ceramic &lt;Mug&gt;][Product] 59.90</p>")

	s.EmailBody = `{{.Broken`
	err := n.Send(context.Background(), "shop", testCart(), s)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindTransport, KindOf(errors.New("x")))
	assert.Equal(t, KindConfig, KindOf(&Failure{Kind: KindConfig}))
	assert.Contains(t, (&Failure{Kind: KindConfig, Reason: "r", Err: errors.New("e")}).Error(), "config: r: e")
}

// fakeSMTP accepts one plain-text SMTP session and returns the DATA payload.
func fakeSMTP(t *testing.T) (int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 fake ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			switch cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); cmd {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250-fake")
				_ = tp.PrintfLine("250 8BITMIME")
			case "MAIL", "RCPT":
				_ = tp.PrintfLine("250 OK")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				body, _ := tp.ReadDotLines()
				got <- strings.Join(body, "\n")
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, got
}

func TestDeliver_PlainSession(t *testing.T) {
	port, got := fakeSMTP(t)
	msg := Message{
		Host: "127.0.0.1",
		Port: port,
		From: "shop@example.com",
		To:   "buyer@example.com",
		Raw:  compose("<shop@example.com>", "<buyer@example.com>", "Hi", "<p>hello</p>"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, deliver(ctx, msg))

	select {
	case body := <-got:
		assert.Contains(t, body, "Subject: Hi")
		assert.Contains(t, body, "<p>hello</p>")
	case <-time.After(5 * time.Second):
		t.Fatal("server received no message")
	}
}

func TestDeliver_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	err = deliver(context.Background(), Message{Host: "127.0.0.1", Port: port})
	assert.Error(t, err)
}

