package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/ordermart-system/internal/document"
	"github.com/mmeshcher/ordermart-system/internal/geo"
	"github.com/mmeshcher/ordermart-system/internal/model"
	"github.com/mmeshcher/ordermart-system/internal/notify"
)

// deriveFulfillment вычисляет производные атрибуты свежеразмещённого заказа:
// трек-номер, ссылку на карту и ожидаемую дату доставки. Каждый шаг
// изолирован: промах геокодера не мешает расчёту даты доставки.
func (s *Service) deriveFulfillment(ctx context.Context, details *model.OrderDetails) {
	order := details.Order

	trackingID := strconv.FormatInt(order.ID, 10)

	address := ""
	if details.Customer.Address != nil {
		address = *details.Customer.Address
	}

	var trackingURL *string
	if s.geocoder != nil {
		point, err := s.geocoder.Resolve(ctx, address)
		switch {
		case err != nil:
			s.logger.Warn("geocoding failed, tracking url omitted",
				zap.Error(err), zap.Int64("orderID", order.ID))
		case point != nil:
			u := geo.MapURL(*point)
			trackingURL = &u
		}
	}

	expected := geo.ExpectedDelivery(order.CreatedAt, address)

	if err := s.repo.UpdateFulfillment(ctx, order.ID, &trackingID, trackingURL, &expected); err != nil {
		s.logger.Error("save fulfillment attributes failed",
			zap.Error(err), zap.Int64("orderID", order.ID))
	}
}

// snapshotOrder замораживает состояние заказа для рендеринга документов
// и писем: дальнейшие изменения заказа на содержимое не влияют.
func snapshotOrder(details *model.OrderDetails) document.OrderSnapshot {
	snap := document.OrderSnapshot{
		OrderID:       details.Order.ID,
		Status:        string(details.Order.Status),
		TotalAmount:   details.Order.TotalAmount,
		CreatedAt:     details.Order.CreatedAt,
		CustomerName:  details.Customer.Name,
		CustomerEmail: details.Customer.Email,
	}
	if details.Customer.Address != nil {
		snap.CustomerAddress = *details.Customer.Address
	}
	if details.Customer.Phone != nil {
		snap.CustomerPhone = *details.Customer.Phone
	}
	for _, l := range details.Lines {
		snap.Lines = append(snap.Lines, document.LineSnapshot{
			ItemName:        l.ItemName,
			Quantity:        l.Quantity,
			PriceAtPurchase: l.PriceAtPurchase,
		})
	}
	return snap
}

func itemsSummary(lines []model.OrderLine) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s (x%d)", l.ItemName, l.Quantity))
	}
	return strings.Join(parts, ", ")
}

var statusSubjects = map[model.OrderStatus]string{
	model.OrderStatusPlaced:     "Order #%d Confirmation - E-Bill Attached",
	model.OrderStatusProcessing: "Order #%d is Being Processed - E-Bill Attached",
	model.OrderStatusDispatched: "Order #%d Has Been Dispatched - E-Bill Attached",
	model.OrderStatusDelivered:  "Order #%d Delivered Successfully - E-Bill Attached",
	model.OrderStatusCancelled:  "Order #%d Cancellation Notice - E-Bill Attached",
}

// scheduleOrderNotifications планирует уведомления о переходе статуса:
// письмо покупателю с приложенным счётом на каждый переход (включая
// начальный placed), письмо владельцу при размещении, отдельный алерт
// владельцу по каждому товару с нулевым остатком и дополнительное
// уведомление владельцу при отмене. Все отправки отложенные.
func (s *Service) scheduleOrderNotifications(ctx context.Context, details *model.OrderDetails, depletedItems []string) {
	if s.notifier == nil {
		return
	}

	order := details.Order
	snap := snapshotOrder(details)

	var ebill []byte
	if s.renderer != nil {
		rendered, err := s.renderer.EBill(snap)
		if err != nil {
			s.logger.Warn("ebill rendering failed, sending without attachment",
				zap.Error(err), zap.Int64("orderID", order.ID))
		} else {
			ebill = rendered
		}
	}

	subject := fmt.Sprintf(statusSubjects[order.Status], order.ID)

	body := s.composeStatusEmail(ctx, details)
	s.notifier.Enqueue(notify.Message{
		Subject:    subject,
		To:         details.Customer.Email,
		HTMLBody:   fmt.Sprintf("<div style='font-family: Arial, sans-serif; padding: 20px;'>%s</div>", strings.ReplaceAll(body, "\n", "<br>")),
		Attachment: ebill,
		Filename:   fmt.Sprintf("Order_%d_E-Bill.html", order.ID),
	})

	if order.Status == model.OrderStatusPlaced {
		s.notifier.Enqueue(notify.Message{
			Subject: fmt.Sprintf("New Order #%d placed", order.ID),
			To:      s.ownerEmail,
			HTMLBody: fmt.Sprintf(
				"<h2>New Order Received</h2><p>Order ID: #%d<br>Customer: %s (%s)<br>Total Amount: %s<br>Items: %s</p>",
				order.ID, details.Customer.Name, details.Customer.Email,
				order.TotalAmount.StringFixed(2), itemsSummary(details.Lines)),
		})

		for _, name := range depletedItems {
			s.notifier.Enqueue(notify.Message{
				Subject: fmt.Sprintf("Out of Stock: %s", name),
				To:      s.ownerEmail,
				HTMLBody: fmt.Sprintf(
					"<h3>Out of Stock Alert</h3><p>Item %s is now out of stock after order #%d.</p>",
					name, order.ID),
			})
		}
	}

	if order.Status == model.OrderStatusCancelled {
		s.notifier.Enqueue(notify.Message{
			Subject: fmt.Sprintf("Order #%d Cancelled", order.ID),
			To:      s.ownerEmail,
			HTMLBody: fmt.Sprintf(
				"<h2>Order Cancelled</h2><p>Order ID: #%d<br>Customer: %s (%s)<br>Total Amount: %s</p>",
				order.ID, details.Customer.Name, details.Customer.Email,
				order.TotalAmount.StringFixed(2)),
		})
	}
}

// composeStatusEmail строит текст письма покупателю. Детерминированный
// шаблон служит подсказкой для генератора текста и одновременно фолбэком.
func (s *Service) composeStatusEmail(ctx context.Context, details *model.OrderDetails) string {
	order := details.Order

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", details.Customer.Name)
	fmt.Fprintf(&b, "Your order #%d is now %s.\n", order.ID, order.Status)
	fmt.Fprintf(&b, "Items: %s\n", itemsSummary(details.Lines))
	fmt.Fprintf(&b, "Total amount: %s\n", order.TotalAmount.StringFixed(2))
	if order.ExpectedDeliveryDate != nil {
		fmt.Fprintf(&b, "Expected delivery: %s\n", order.ExpectedDeliveryDate.Format("02 Jan 2006, 03:04 PM"))
	}
	b.WriteString("\nThank you for shopping with us.")
	prompt := b.String()

	if s.composer == nil {
		return prompt
	}

	text, err := s.composer.Compose(ctx, prompt)
	if err != nil || text == "" {
		return prompt
	}
	return text
}
