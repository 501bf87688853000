package document

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"
)

const ebillTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
<h1>E-BILL / INVOICE</h1>
<p>Order ID: #{{.OrderID}}<br>
Date: {{.CreatedAt.Format "2006-01-02 15:04:05"}}<br>
Status: {{.Status}}</p>
<h2>Bill To:</h2>
<p>{{.CustomerName}}<br>
{{.CustomerEmail}}{{if .CustomerAddress}}<br>
{{.CustomerAddress}}{{end}}{{if .CustomerPhone}}<br>
Phone: {{.CustomerPhone}}{{end}}</p>
<table border="1" cellpadding="6" cellspacing="0">
<tr><th>Item</th><th>Qty</th><th>Price</th><th>Subtotal</th></tr>
{{range .Lines}}<tr><td>{{.ItemName}}</td><td>{{.Quantity}}</td><td>{{money .PriceAtPurchase}}</td><td>{{subtotal .}}</td></tr>
{{end}}</table>
<h3>Total: {{money .TotalAmount}}</h3>
</body>
</html>
`

const revenueReportTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
<h1>Revenue Report - {{.Label}}</h1>
<p>Total Revenue: {{money .Revenue}}</p>
{{if .Breakdown}}<h2>Breakdown:</h2>
<ul>
{{range .Breakdown}}<li>{{.Label}}: {{money .Amount}}</li>
{{end}}</ul>{{end}}
</body>
</html>
`

// HTMLRenderer строит документы в виде HTML-байтов.
// Рендеринг PDF вынесен за границу системы; HTML-представление
// прикладывается к письмам как есть.
type HTMLRenderer struct {
	ebill  *template.Template
	report *template.Template
}

func moneyFuncs() template.FuncMap {
	return template.FuncMap{
		"money": func(v decimal.Decimal) string {
			return fmt.Sprintf("%s %s", "INR", v.StringFixed(2))
		},
		"subtotal": func(l LineSnapshot) string {
			sum := l.PriceAtPurchase.Mul(decimal.NewFromInt(int64(l.Quantity)))
			return fmt.Sprintf("%s %s", "INR", sum.StringFixed(2))
		},
	}
}

// NewHTMLRenderer создаёт рендерер документов.
func NewHTMLRenderer() (*HTMLRenderer, error) {
	ebill, err := template.New("ebill").Funcs(moneyFuncs()).Parse(ebillTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse ebill template: %w", err)
	}
	report, err := template.New("report").Funcs(moneyFuncs()).Parse(revenueReportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &HTMLRenderer{ebill: ebill, report: report}, nil
}

// EBill рендерит счёт по снимку заказа.
func (r *HTMLRenderer) EBill(snapshot OrderSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.ebill.Execute(&buf, snapshot); err != nil {
		return nil, fmt.Errorf("render ebill: %w", err)
	}
	return buf.Bytes(), nil
}

// RevenueReport рендерит отчёт о выручке за период.
func (r *HTMLRenderer) RevenueReport(label string, revenue decimal.Decimal, breakdown []ReportLine) ([]byte, error) {
	data := struct {
		Label     string
		Revenue   decimal.Decimal
		Breakdown []ReportLine
	}{Label: label, Revenue: revenue, Breakdown: breakdown}

	var buf bytes.Buffer
	if err := r.report.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render revenue report: %w", err)
	}
	return buf.Bytes(), nil
}
