package email

import (
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderItem represents an item in an order for email purposes
type OrderItem struct {
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

type ConfirmedOrder struct {
	OrderNumber string
	Items       []OrderItem
	Total       decimal.Decimal
}

type FailedOrder struct {
	OrderNumber string
	Reason      string
}

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
}

var confirmationTmpl = template.Must(template.New("confirmation").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 24px;">Thank you for your order</h1>
	<p>Order number <strong style="font-family: monospace;">{{.OrderNumber}}</strong> is confirmed.</p>
	<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
		<thead>
			<tr style="background: #f8f9fa;">
				<th style="padding: 12px; text-align: left;">Item</th>
				<th style="padding: 12px; text-align: center;">Qty</th>
				<th style="padding: 12px; text-align: right;">Price</th>
				<th style="padding: 12px; text-align: right;">Subtotal</th>
			</tr>
		</thead>
		<tbody>
		{{- range .Items}}
			<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">{{.Name}}</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">{{.Quantity}}</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{money .UnitPrice}}</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{money .LineTotal}}</td>
			</tr>
		{{- end}}
		</tbody>
	</table>
	<p style="text-align: right; font-size: 20px; font-weight: bold;">Total {{money .Total}}</p>
	<p style="font-size: 12px; color: #999;">This email was sent automatically.</p>
</body>
</html>`))

var failedTmpl = template.Must(template.New("failed").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 24px;">Your order could not be completed</h1>
	<p>Order <strong style="font-family: monospace;">{{.OrderNumber}}</strong> was cancelled and you have not been charged.</p>
	<p style="background: #f8f9fa; padding: 15px; border-radius: 5px;">{{.Reason}}</p>
	<p style="font-size: 12px; color: #999;">This email was sent automatically.</p>
</body>
</html>`))

// BuildOrderConfirmationBody builds the HTML body for order confirmation email
func BuildOrderConfirmationBody(o ConfirmedOrder) (string, error) {
	var b strings.Builder
	if err := confirmationTmpl.Execute(&b, o); err != nil {
		return "", err
	}
	return b.String(), nil
}

func BuildOrderFailedBody(o FailedOrder) (string, error) {
	var b strings.Builder
	if err := failedTmpl.Execute(&b, o); err != nil {
		return "", err
	}
	return b.String(), nil
}
