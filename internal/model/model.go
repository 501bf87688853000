// Package model содержит доменные сущности сервиса ордермарт.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item представляет товарную позицию каталога.
// Позиции никогда не удаляются, только деактивируются (IsActive = false).
type Item struct {
	ID              int64
	Name            string
	Description     *string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	ImageURL        *string
	StockQuantity   int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Customer представляет покупателя. Дедупликация выполняется по email:
// повторный заказ с тем же email перезаписывает имя, адрес и телефон.
type Customer struct {
	ID        int64
	Name      string
	Email     string
	Address   *string
	Phone     *string
	CreatedAt time.Time
}

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPlaced     OrderStatus = "placed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDispatched OrderStatus = "dispatched"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// allowedTransitions задаёт таблицу допустимых переходов статусов.
// Жизненный цикл движется только вперёд; отмена возможна из любого
// нетерминального состояния. delivered и cancelled терминальны.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPlaced:     {OrderStatusProcessing, OrderStatusDispatched, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusDispatched, OrderStatusCancelled},
	OrderStatusDispatched: {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// ValidStatus сообщает, входит ли значение в перечень статусов заказа.
func ValidStatus(s OrderStatus) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition сообщает, допустим ли переход заказа из статуса from в статус to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order описывает заказ покупателя. TotalAmount фиксируется при размещении
// и далее не пересчитывается. TrackingID, TrackingURL и ExpectedDeliveryDate —
// производные атрибуты, заполняемые координатором фулфилмента.
type Order struct {
	ID                   int64
	CustomerID           int64
	Status               OrderStatus
	TotalAmount          decimal.Decimal
	TrackingID           *string
	TrackingURL          *string
	ExpectedDeliveryDate *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderLine описывает строку заказа. PriceAtPurchase — эффективная цена
// единицы товара на момент размещения, неизменна после записи.
type OrderLine struct {
	ID              int64
	OrderID         int64
	ItemID          int64
	ItemName        string
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// OrderDetails объединяет заказ, покупателя и строки заказа с именами товаров.
type OrderDetails struct {
	Order    Order
	Customer Customer
	Lines    []OrderLine
}
