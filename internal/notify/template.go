package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/imrishuroy/go-cart-recovery/internal/carts"
)

const defaultBody = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1 style="font-weight: 300;">Did you forget something?</h1>
  <p>You left a few items in your cart. We saved them for you.</p>
  <table style="width: 100%; border-collapse: collapse;">
    <thead>
      <tr><th style="text-align:left">Product</th><th>Qty</th><th style="text-align:right">Price</th></tr>
    </thead>
    <tbody>
{{- range .Items}}
      <tr>
        <td>{{.Title}}{{if .VariantTitle}}<br><small>{{.VariantTitle}}</small>{{end}}</td>
        <td style="text-align:center">x{{.Quantity}}</td>
        <td style="text-align:right">{{.Price}} {{$.Currency}}</td>
      </tr>
{{- end}}
    </tbody>
    <tfoot>
      <tr><td colspan="2"><strong>Total</strong></td><td style="text-align:right"><strong>{{.Total}} {{.Currency}}</strong></td></tr>
    </tfoot>
  </table>
  <p style="text-align:center"><a href="{{.CheckoutURL}}">Complete your order</a></p>
  <p style="font-size: 12px; color: #aaa; text-align:center">{{.Shop}}</p>
</div>
`

var defaultTemplate = template.Must(template.New("recovery").Parse(defaultBody))

type emailItem struct {
	Title        string
	VariantTitle string
	Quantity     int
	Price        string
}

type emailData struct {
	Shop        string
	CheckoutURL string
	Currency    string
	Total       string
	Items       []emailItem
}

func newEmailData(shop string, cart carts.CartRecord) emailData {
	d := emailData{
		Shop:        shop,
		CheckoutURL: "https://" + shop + "/checkout",
		Currency:    cart.Currency,
		Total:       fmt.Sprintf("%.2f", cart.TotalPrice),
	}
	for _, li := range cart.LineItems {
		title := li.Title
		if title == "" {
			title = "Product"
		}
		qty := li.Quantity
		if qty <= 0 {
			qty = 1
		}
		d.Items = append(d.Items, emailItem{
			Title:        title,
			VariantTitle: li.VariantTitle,
			Quantity:     qty,
			Price:        fmt.Sprintf("%.2f", li.Price),
		})
	}
	return d
}

// renderBody executes override, if set, or the default template. A broken
// override is a configuration failure.
func renderBody(override, shop string, cart carts.CartRecord) (string, error) {
	tmpl := defaultTemplate
	if override != "" {
		t, err := template.New("custom").Parse(override)
		if err != nil {
			return "", &Failure{Kind: KindConfig, Reason: "invalid email body template", Err: err}
		}
		tmpl = t
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newEmailData(shop, cart)); err != nil {
		return "", &Failure{Kind: KindConfig, Reason: "render email body", Err: err}
	}
	return buf.String(), nil
}
