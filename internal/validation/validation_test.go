package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-cart-recovery/internal/settings"
)

const checkoutPayload = `{
  "token": "abc123",
  "email": "top@example.com",
  "customer": {"id": 7071, "email": "buyer@example.com"},
  "total_price": "59.90",
  "currency": "eur",
  "line_items": [
    {"title": "Mug", "variant_title": "Blue", "quantity": 2, "price": "19.95"},
    {"title": "Hat", "quantity": 1, "price": 20}
  ],
  "created_at": "2024-03-01T10:00:00+02:00",
  "updated_at": "2024-03-01T10:05:00+02:00"
}`

func TestDecodeCartEvent_Valid(t *testing.T) {
	v := New()

	var req CartEventRequest
	if err := Decode([]byte(checkoutPayload), &req, v); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}

	ev := req.ToEvent()
	if ev.Token != "abc123" || ev.CustomerID != "7071" || ev.CustomerEmail != "buyer@example.com" {
		t.Fatalf("unexpected identity fields: %+v", ev)
	}
	if ev.TotalPrice != 59.90 || ev.Currency != "EUR" {
		t.Fatalf("unexpected totals: %v %s", ev.TotalPrice, ev.Currency)
	}
	if len(ev.LineItems) != 2 || ev.LineItems[0].Price != 19.95 || ev.LineItems[0].VariantTitle != "Blue" {
		t.Fatalf("unexpected line items: %+v", ev.LineItems)
	}
	want := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	if !ev.CreatedAt.Equal(want) || ev.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected created_at %v in UTC, got %v", want, ev.CreatedAt)
	}
}

func TestDecodeCartEvent_TopLevelEmailFallback(t *testing.T) {
	var req CartEventRequest
	if err := Decode([]byte(`{"token":"t","email":"top@example.com","total_price":null}`), &req, New()); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	ev := req.ToEvent()
	if ev.CustomerEmail != "top@example.com" || ev.TotalPrice != 0 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.LineItems == nil {
		t.Fatalf("expected empty, non-nil line items")
	}
}

func TestDecodeCartEvent_Invalid(t *testing.T) {
	v := New()
	cases := map[string]string{
		"missing token":   `{"total_price": "10.00"}`,
		"negative total":  `{"token": "t", "total_price": "-1"}`,
		"bad currency":    `{"token": "t", "currency": "EURO"}`,
		"bad price":       `{"token": "t", "total_price": "ten"}`,
		"negative qty":    `{"token": "t", "line_items": [{"title": "x", "quantity": -1}]}`,
		"not json":        `token=t`,
		"bad customer id": `{"token": "t", "customer": {"id": {"x": 1}}}`,
	}
	for name, payload := range cases {
		var req CartEventRequest
		err := Decode([]byte(payload), &req, v)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected ErrInvalidPayload, got %v", name, err)
		}
	}
}

func TestOrderEventRequest_Token(t *testing.T) {
	var req OrderEventRequest
	if err := Decode([]byte(`{"checkout_token": "chk", "cart_token": "crt"}`), &req, New()); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Token() != "chk" {
		t.Fatalf("expected checkout token, got %q", req.Token())
	}
	if got := (OrderEventRequest{CartToken: "crt"}).Token(); got != "crt" {
		t.Fatalf("expected cart token fallback, got %q", got)
	}
	if got := (OrderEventRequest{}).Token(); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestSettingsRequest_EmailEnabledNeedsSender(t *testing.T) {
	v := New()

	req := SettingsRequest{EmailEnabled: true}
	err := v.Struct(req)
	if err == nil {
		t.Fatal("expected validation error when email is enabled without sender and host")
	}
	fields := FieldErrors(err)
	if _, ok := fields["SettingsRequest.EmailFrom"]; !ok {
		t.Fatalf("expected EmailFrom error, got %v", fields)
	}
	if _, ok := fields["SettingsRequest.SMTPHost"]; !ok {
		t.Fatalf("expected SMTPHost error, got %v", fields)
	}

	req = SettingsRequest{EmailEnabled: true, EmailFrom: "shop@example.com", SMTPHost: "smtp.example.com", SMTPPort: 465}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestSettingsRequest_Invalid(t *testing.T) {
	v := New()
	for name, req := range map[string]SettingsRequest{
		"port":      {SMTPPort: 70000},
		"threshold": {AbandonedThresholdMin: 20000},
		"host":      {SMTPHost: "not a host"},
		"template":  {EmailBody: "{{.Broken"},
	} {
		if err := v.Struct(req); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestSettingsRequest_ToSettingsKeepsPassword(t *testing.T) {
	current := settings.Settings{Shop: "shop-a", SMTPPass: "secret"}

	got := SettingsRequest{SMTPPass: "********", SMTPHost: "smtp.example.com"}.ToSettings(current)
	if got.SMTPPass != "secret" || got.Shop != "shop-a" {
		t.Fatalf("expected stored password kept, got %+v", got)
	}
	if got.AbandonedThresholdMin != settings.DefaultThresholdMinutes || got.SMTPPort != settings.DefaultSMTPPort {
		t.Fatalf("expected defaults applied, got %+v", got)
	}

	got = SettingsRequest{SMTPPass: "new"}.ToSettings(current)
	if got.SMTPPass != "new" {
		t.Fatalf("expected password replaced, got %q", got.SMTPPass)
	}
}

func TestBindAndValidate_WritesBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"emailEnabled": true}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req SettingsRequest
	if err := BindAndValidate(c, &req, v); err == nil {
		t.Fatal("expected error")
	}
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "validation_failed") {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{`))
	if err := BindAndValidate(c, &req, v); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(w.Body.String(), "invalid_request_body") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}
