package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/ordermart-system/internal/document"
	"github.com/mmeshcher/ordermart-system/internal/notify"
	"github.com/mmeshcher/ordermart-system/internal/pricing"
)

// Period задаёт календарное окно отчёта о выручке.
type Period string

const (
	PeriodDay     Period = "day"
	PeriodMonth   Period = "month"
	PeriodYear    Period = "year"
	PeriodQuarter Period = "quarter"
)

// ErrInvalidPeriod возвращается для неизвестного периода отчёта.
var ErrInvalidPeriod = errors.New("invalid period; use day|month|year|quarter")

// PeriodBounds возвращает границы [start, end) и метку календарного окна,
// содержащего ref. Месяцы учитывают переменную длину и перенос года;
// кварталы — фиксированные трёхмесячные блоки с января.
func PeriodBounds(period Period, ref time.Time) (time.Time, time.Time, string, error) {
	ref = ref.UTC()

	switch period {
	case PeriodDay:
		start := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1), start.Format("2006-01-02"), nil
	case PeriodMonth:
		start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), start.Format("2006-01"), nil
	case PeriodYear:
		start := time.Date(ref.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0), start.Format("2006"), nil
	case PeriodQuarter:
		q := (int(ref.Month()) - 1) / 3
		start := time.Date(ref.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
		label := fmt.Sprintf("%d-Q%d", ref.Year(), q+1)
		return start, start.AddDate(0, 3, 0), label, nil
	default:
		return time.Time{}, time.Time{}, "", ErrInvalidPeriod
	}
}

// RevenueSummary содержит выручку и налог за отчётный период.
type RevenueSummary struct {
	Period         string
	Revenue        decimal.Decimal
	TaxRatePercent decimal.Decimal
	TaxDue         decimal.Decimal
}

// RevenueBetween возвращает выручку за интервал [start, end),
// исключая отменённые заказы.
func (s *Service) RevenueBetween(ctx context.Context, start, end time.Time) (decimal.Decimal, error) {
	return s.repo.RevenueBetween(ctx, start, end)
}

// Revenue считает выручку и налог за календарное окно, содержащее ref.
func (s *Service) Revenue(ctx context.Context, period Period, ref time.Time) (*RevenueSummary, error) {
	start, end, label, err := PeriodBounds(period, ref)
	if err != nil {
		return nil, err
	}

	revenue, err := s.repo.RevenueBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	return &RevenueSummary{
		Period:         label,
		Revenue:        revenue,
		TaxRatePercent: s.taxRate,
		TaxDue:         pricing.TaxDue(revenue, s.taxRate),
	}, nil
}

// RevenueReport строит документ отчёта о выручке за период.
// Возвращает байты документа и метку периода для имени файла.
func (s *Service) RevenueReport(ctx context.Context, period Period, ref time.Time) ([]byte, string, error) {
	summary, err := s.Revenue(ctx, period, ref)
	if err != nil {
		return nil, "", err
	}

	label := strings.ToUpper(string(period)) + " " + summary.Period
	doc, err := s.renderer.RevenueReport(label, summary.Revenue, []document.ReportLine{
		{Label: "Estimated Tax", Amount: summary.TaxDue},
	})
	if err != nil {
		return nil, "", fmt.Errorf("render revenue report: %w", err)
	}

	return doc, summary.Period, nil
}

// SendMonthlyTaxAlert считает месячную сводку и планирует письмо-алерт.
// Пустой адрес получателя означает адрес владельца.
func (s *Service) SendMonthlyTaxAlert(ctx context.Context, toEmail string, ref time.Time) (*RevenueSummary, string, error) {
	summary, err := s.Revenue(ctx, PeriodMonth, ref)
	if err != nil {
		return nil, "", err
	}

	if toEmail == "" {
		toEmail = s.ownerEmail
	}

	s.notifier.Enqueue(notify.Message{
		Subject: fmt.Sprintf("GST/Tax Alert for %s", summary.Period),
		To:      toEmail,
		HTMLBody: fmt.Sprintf(
			"<p>Total Revenue: %s<br>Estimated Tax (%s%%): %s<br>Due by: %s</p>",
			summary.Revenue.StringFixed(2),
			summary.TaxRatePercent.String(),
			summary.TaxDue.StringFixed(2),
			monthTaxDeadline(ref).Format("2006-01-02")),
	})

	return summary, toEmail, nil
}

// monthTaxDeadline — срок уплаты месячного налога: 20-е число месяца.
func monthTaxDeadline(ref time.Time) time.Time {
	ref = ref.UTC()
	return time.Date(ref.Year(), ref.Month(), 20, 0, 0, 0, 0, time.UTC)
}

// QuarterDeadline — срок уплаты квартального налога: 20-е число месяца,
// следующего за концом квартала, в котором лежит ref.
func QuarterDeadline(ref time.Time) time.Time {
	ref = ref.UTC()
	q := (int(ref.Month()) - 1) / 3
	firstAfter := time.Date(ref.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 3, 0)
	return time.Date(firstAfter.Year(), firstAfter.Month(), 20, 0, 0, 0, 0, time.UTC)
}

const (
	taxAlertWindowMin = 5
	taxAlertWindowMax = 9
)

// StartTaxAlerts запускает ежедневную проверку приближающегося срока
// уплаты квартального налога и блокируется до отмены контекста.
func (s *Service) StartTaxAlerts(ctx context.Context) {
	if s.ownerEmail == "" {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkTaxAlert(ctx)
		}
	}
}

func (s *Service) checkTaxAlert(ctx context.Context) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	deadline := QuarterDeadline(today)
	daysUntil := int(deadline.Sub(today).Hours() / 24)
	if daysUntil < taxAlertWindowMin || daysUntil > taxAlertWindowMax {
		return
	}

	summary, err := s.Revenue(ctx, PeriodQuarter, today)
	if err != nil {
		s.logger.Error("quarterly tax check failed", zap.Error(err))
		return
	}

	s.notifier.Enqueue(notify.Message{
		Subject: fmt.Sprintf("URGENT: Tax Payment Due in 1 Week - %s", summary.Period),
		To:      s.ownerEmail,
		HTMLBody: fmt.Sprintf(
			"<h2>Tax Payment Due Soon</h2><p>Quarter: %s<br>Total Revenue: %s<br>Estimated Tax (%s%%): %s<br>Due by: %s</p>",
			summary.Period,
			summary.Revenue.StringFixed(2),
			summary.TaxRatePercent.String(),
			summary.TaxDue.StringFixed(2),
			deadline.Format("2006-01-02")),
	})
}
