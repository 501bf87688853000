// Package pricing содержит денежные вычисления сервиса ордермарт.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// EffectiveUnitPrice возвращает цену единицы товара с учётом скидки:
// price * (1 - discountPercent/100). При нулевой скидке цена не меняется.
func EffectiveUnitPrice(price, discountPercent decimal.Decimal) decimal.Decimal {
	if discountPercent.IsZero() {
		return price
	}
	factor := decimal.NewFromInt(1).Sub(discountPercent.Div(hundred))
	return price.Mul(factor)
}

// Round2 округляет денежную сумму до двух знаков.
// Используется округление half away from zero: 0.125 -> 0.13.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// TaxDue возвращает сумму налога: round(revenue * ratePercent / 100, 2).
func TaxDue(revenue, ratePercent decimal.Decimal) decimal.Decimal {
	return Round2(revenue.Mul(ratePercent).Div(hundred))
}
