// Package document строит документы заказов и отчётов.
package document

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineSnapshot — замороженная строка заказа для рендеринга документа.
type LineSnapshot struct {
	ItemName        string
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// OrderSnapshot — замороженное состояние заказа на момент перехода статуса.
// Снимок делается до планирования отложенных уведомлений, чтобы последующие
// изменения заказа не влияли на содержимое документа.
type OrderSnapshot struct {
	OrderID         int64
	Status          string
	TotalAmount     decimal.Decimal
	CreatedAt       time.Time
	CustomerName    string
	CustomerEmail   string
	CustomerAddress string
	CustomerPhone   string
	Lines           []LineSnapshot
}

// ReportLine — одна строка расшифровки отчёта о выручке.
type ReportLine struct {
	Label  string
	Amount decimal.Decimal
}

// Renderer строит документы как чистую функцию своего снимка.
type Renderer interface {
	EBill(snapshot OrderSnapshot) ([]byte, error)
	RevenueReport(label string, revenue decimal.Decimal, breakdown []ReportLine) ([]byte, error)
}
