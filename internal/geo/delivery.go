package geo

import (
	"strings"
	"time"
)

const (
	minDeliveryDays     = 2
	maxDeliveryDays     = 5
	defaultDeliveryDays = 4
	metroDeliveryDays   = 3
)

var (
	remoteKeywords = []string{"remote", "rural", "village", "taluka"}
	metroKeywords  = []string{"metro", "city"}
)

// DeliveryOffsetDays выбирает срок доставки в днях по тексту адреса.
// Удалённые районы получают максимум, крупные города — три дня,
// всё остальное (включая пустой адрес) — четыре. Результат всегда
// лежит в диапазоне [2, 5].
func DeliveryOffsetDays(address string) int {
	days := defaultDeliveryDays

	if address != "" {
		lower := strings.ToLower(address)
		if containsAny(lower, remoteKeywords) {
			days = maxDeliveryDays
		} else if containsAny(lower, metroKeywords) {
			days = metroDeliveryDays
		}
	}

	if days < minDeliveryDays {
		days = minDeliveryDays
	}
	if days > maxDeliveryDays {
		days = maxDeliveryDays
	}
	return days
}

// ExpectedDelivery возвращает ожидаемую дату доставки для заказа,
// размещённого в orderedAt по указанному адресу.
func ExpectedDelivery(orderedAt time.Time, address string) time.Time {
	return orderedAt.AddDate(0, 0, DeliveryOffsetDays(address))
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
